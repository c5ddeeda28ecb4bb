package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/metrics"
)

// ErrOrphanedAdmin stops a revoke that would leave a contract with nobody
// holding the admin role.
var ErrOrphanedAdmin = &publish.ConfigurationError{Msg: "revoke would leave the contract without an admin"}

// Provisioner applies role assignments on chain. Work on one contract is
// strictly sequential; separate contracts may run in parallel.
type Provisioner struct {
	chain   publish.Chain
	log     zerolog.Logger
	workers int
}

// NewProvisioner returns a provisioner that touches at most workers
// contracts at once. Values below one mean one.
func NewProvisioner(chain publish.Chain, log zerolog.Logger, workers int) *Provisioner {
	if workers < 1 {
		workers = 1
	}
	return &Provisioner{chain: chain, log: log, workers: workers}
}

// Apply brings every contract's roles to the desired state. Assignments that
// already hold are skipped, so Apply can be rerun after a partial failure. A
// failure halts only the contract it happened on; errors from all contracts
// are joined.
func (p *Provisioner) Apply(ctx context.Context, m *manifest.Manifest, assignments []Assignment) error {
	var errs []error
	for _, r := range p.ApplyEach(ctx, m, assignments) {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// Result is the outcome of provisioning one contract.
type Result struct {
	Kind publish.Kind
	Err  error
}

// ApplyEach is Apply reporting per contract, in order of first appearance.
func (p *Provisioner) ApplyEach(ctx context.Context, m *manifest.Manifest, assignments []Assignment) []Result {
	groups := GroupByContract(Normalize(assignments))

	results := make([]Result, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, grp := range groups {
		g.Go(func() error {
			results[i] = Result{Kind: grp.Kind, Err: p.applyContract(ctx, m, grp)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Group holds one contract's assignments.
type Group struct {
	Kind        publish.Kind
	Assignments []Assignment
}

// GroupByContract groups assignments by contract in order of first
// appearance.
func GroupByContract(in []Assignment) []Group {
	var (
		out []Group
		idx = map[publish.Kind]int{}
	)
	for _, a := range in {
		i, ok := idx[a.Kind]
		if !ok {
			i = len(out)
			idx[a.Kind] = i
			out = append(out, Group{Kind: a.Kind})
		}
		out[i].Assignments = append(out[i].Assignments, a)
	}
	return out
}

// Ordered returns the group's assignments in submission order: grants
// before revokes, each grouped by principal in order of first appearance.
// A revoke of the signer's own roles goes last, since it may take away the
// signer's right to send the others.
func (g Group) Ordered(signer common.Address) []Assignment {
	var principals []common.Address
	seen := map[common.Address]bool{}
	for _, a := range g.Assignments {
		if !seen[a.Principal] {
			seen[a.Principal] = true
			principals = append(principals, a.Principal)
		}
	}
	pick := func(state State, self bool) []Assignment {
		var out []Assignment
		for _, pr := range principals {
			if (pr == signer) != self {
				continue
			}
			for _, a := range g.Assignments {
				if a.Principal == pr && a.Desired == state {
					out = append(out, a)
				}
			}
		}
		return out
	}
	out := pick(Granted, false)
	out = append(out, pick(Granted, true)...)
	out = append(out, pick(Revoked, false)...)

	// The signer's own admin role is the very last thing it gives up.
	self := pick(Revoked, true)
	sort.SliceStable(self, func(i, j int) bool { return !IsAdmin(self[i].Role) && IsAdmin(self[j].Role) })
	return append(out, self...)
}

func (p *Provisioner) applyContract(ctx context.Context, m *manifest.Manifest, g Group) error {
	addr, ok := m.Address(g.Kind)
	if !ok {
		return publish.Configf("%s is not in the manifest", g.Kind)
	}
	log := p.log.With().Str("contract", string(g.Kind)).Str("address", addr.Hex()).Logger()

	for _, a := range g.Ordered(p.chain.Address()) {
		held, err := p.chain.HasRole(ctx, addr, a.Role, a.Principal)
		if err != nil {
			return fmt.Errorf("%s: %w", g.Kind, err)
		}
		if held == (a.Desired == Granted) {
			log.Debug().Str("role", a.RoleName()).Str("principal", a.Principal.Hex()).Str("state", string(a.Desired)).Msg("role already in desired state")
			continue
		}
		if a.Desired == Revoked && IsAdmin(a.Role) {
			if err := p.checkOtherAdmin(ctx, addr, a, g.Assignments); err != nil {
				return fmt.Errorf("%s: revoke %s from %s: %w", g.Kind, a.RoleName(), a.Principal.Hex(), err)
			}
		}
		if err := p.send(ctx, addr, a); err != nil {
			return err
		}
		log.Info().Str("role", a.RoleName()).Str("principal", a.Principal.Hex()).Str("state", string(a.Desired)).Msg("role updated")
	}
	return nil
}

// checkOtherAdmin requires some other principal named in the table to hold
// the role on chain right now.
func (p *Provisioner) checkOtherAdmin(ctx context.Context, addr common.Address, revoke Assignment, all []Assignment) error {
	checked := map[common.Address]bool{revoke.Principal: true}
	for _, a := range all {
		if a.Role != revoke.Role || a.Desired != Granted || checked[a.Principal] {
			continue
		}
		checked[a.Principal] = true
		held, err := p.chain.HasRole(ctx, addr, a.Role, a.Principal)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
	}
	return ErrOrphanedAdmin
}

func (p *Provisioner) send(ctx context.Context, addr common.Address, a Assignment) error {
	fn, op := publish.FuncGrantRole, "grant"
	if a.Desired == Revoked {
		fn, op = publish.FuncRevokeRole, "revoke"
	}
	data, err := fn.EncodeArgs(a.Role.Hash(), a.Principal)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	txHash, err := p.chain.Transact(ctx, addr, data, publish.RoleGasLimit)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues(op, "failed").Inc()
		return fmt.Errorf("%s %s %s: %w", a.Kind, op, a.RoleName(), err)
	}
	receipt, err := p.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues(op, "failed").Inc()
		return fmt.Errorf("wait %s %s %s: %w", a.Kind, op, a.RoleName(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.TransactionsSent.WithLabelValues(op, "reverted").Inc()
		return &publish.RoleRevertedError{
			Kind:      a.Kind,
			Op:        op,
			Role:      a.RoleName(),
			Principal: a.Principal,
			TxHash:    txHash,
		}
	}
	metrics.TransactionsSent.WithLabelValues(op, "success").Inc()
	return nil
}
