// Package ownership moves the admin roles of every deployed contract from
// the current owner to a new one without ever leaving a contract adminless.
//
// The transfer runs in two phases separated by a barrier: the new owner is
// granted admin on every contract first, and only once all grants are mined
// are the old owner's roles revoked. A crash anywhere before the barrier
// leaves the old owner in control everywhere; a crash after it leaves both.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/investmentpool"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
	"github.com/Vaios0x/JeonseVault-sub002/publish/verify"
)

// State tracks one contract through a transfer.
type State string

const (
	AdminHeldByDeployer      State = "AdminHeldByDeployer"
	AdminGrantedToNewOwner   State = "AdminGrantedToNewOwner"
	AdminRevokedFromDeployer State = "AdminRevokedFromDeployer"
	Verified                 State = "Verified"
)

// IncompleteTransferError means the grant phase did not reach every
// contract. Nothing was revoked; rerunning the transfer only retries the
// pending grants.
type IncompleteTransferError struct {
	Pending []publish.Kind
	Err     error
}

func (e *IncompleteTransferError) Error() string {
	names := make([]string, len(e.Pending))
	for i, k := range e.Pending {
		names[i] = string(k)
	}
	return fmt.Sprintf("ownership transfer incomplete, new owner not yet admin on %s: %v", strings.Join(names, ", "), e.Err)
}

func (e *IncompleteTransferError) Unwrap() error { return e.Err }

type Coordinator struct {
	chain       publish.Chain
	store       manifest.Store
	provisioner *roles.Provisioner
	verifier    *verify.Verifier
	log         zerolog.Logger
	now         func() time.Time

	mu     sync.Mutex
	states map[publish.Kind]State
}

func New(chain publish.Chain, store manifest.Store, provisioner *roles.Provisioner, verifier *verify.Verifier, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		chain:       chain,
		store:       store,
		provisioner: provisioner,
		verifier:    verifier,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		states:      map[publish.Kind]State{},
	}
}

// States returns the last known state of every contract.
func (c *Coordinator) States() map[publish.Kind]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[publish.Kind]State, len(c.states))
	for k, s := range c.states {
		out[k] = s
	}
	return out
}

func (c *Coordinator) setState(s State, kinds ...publish.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		c.states[k] = s
		c.log.Debug().Str("contract", string(k)).Str("state", string(s)).Msg("transfer state")
	}
}

// Transferable reports whether an assignment may follow a change of human
// ownership. The Vault's role on the pool never does, and neither does any
// role held by one of the deployed contracts.
func Transferable(m *manifest.Manifest, a roles.Assignment) bool {
	if a.Kind == publish.InvestmentPool && a.Role == roles.MustID(investmentpool.RoleVault) {
		return false
	}
	_, isContract := m.ContractAddresses()[a.Principal]
	return !isContract
}

type move struct {
	kind publish.Kind
	role publish.RoleID
}

type holding struct {
	move
	principal common.Address
}

func (mv move) holder(p common.Address) holding { return holding{mv, p} }

// pinned lists the grants some rule makes in their own right.
func pinned(table []roles.Assignment) map[holding]bool {
	out := map[holding]bool{}
	for _, a := range table {
		if a.Pinned && a.Desired == roles.Granted {
			out[holding{move{a.Kind, a.Role}, a.Principal}] = true
		}
	}
	return out
}

// Transfer hands every admin role in table from the manifest's current
// owner to newOwner, then verifies and records the result. table is the
// role table in force before the transfer.
func (c *Coordinator) Transfer(ctx context.Context, m *manifest.Manifest, newOwner common.Address, table []roles.Assignment) error {
	if newOwner == (common.Address{}) {
		return publish.Configf("new owner must not be the zero address")
	}
	if len(m.Contracts) == 0 {
		return publish.Configf("nothing deployed on %s", m.Network)
	}
	prev := m.Owner()
	if newOwner == prev {
		c.log.Info().Str("owner", prev.Hex()).Msg("already owned by target, nothing to transfer")
		return nil
	}
	if signer := c.chain.Address(); signer != prev {
		return publish.Configf("transfer must be signed by the current owner %s, not %s", prev.Hex(), signer.Hex())
	}
	if _, isContract := m.ContractAddresses()[newOwner]; isContract {
		return publish.Configf("new owner %s is one of the deployed contracts", newOwner.Hex())
	}

	table = roles.Normalize(table)
	moves := c.moves(m, table, prev)
	kept := pinned(table)
	var grants, revokes []roles.Assignment
	for _, mv := range moves {
		grants = append(grants, roles.Assignment{Kind: mv.kind, Role: mv.role, Principal: newOwner, Desired: roles.Granted, OwnerBound: true})
		if kept[mv.holder(prev)] {
			c.log.Info().Str("contract", string(mv.kind)).Str("role", roles.Name(mv.role)).Str("holder", prev.Hex()).Msg("role also held in its own right, not revoked")
			continue
		}
		revokes = append(revokes, roles.Assignment{Kind: mv.kind, Role: mv.role, Principal: prev, Desired: roles.Revoked, OwnerBound: true})
	}
	kinds := m.Kinds()
	c.setState(AdminHeldByDeployer, kinds...)
	log := c.log.With().Str("from", prev.Hex()).Str("to", newOwner.Hex()).Logger()

	// Step 1: grant on every contract.
	log.Info().Int("roles", len(grants)).Msg("granting admin roles to new owner")
	var (
		pending []publish.Kind
		errs    []error
	)
	for _, r := range c.provisioner.ApplyEach(ctx, m, grants) {
		if r.Err != nil {
			pending = append(pending, r.Kind)
			errs = append(errs, r.Err)
			continue
		}
		c.setState(AdminGrantedToNewOwner, r.Kind)
	}
	if len(pending) > 0 {
		c.markUnverified(ctx, m)
		return &IncompleteTransferError{Pending: pending, Err: errors.Join(errs...)}
	}

	// Step 2 starts only after every contract has the new owner. The grants
	// are passed again so each revoke can see the remaining admin; they are
	// no-ops on chain.
	log.Info().Int("roles", len(revokes)).Msg("revoking admin roles from previous owner")
	errs = errs[:0]
	for _, r := range c.provisioner.ApplyEach(ctx, m, append(append([]roles.Assignment(nil), grants...), revokes...)) {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		c.setState(AdminRevokedFromDeployer, r.Kind)
	}
	if len(errs) > 0 {
		c.markUnverified(ctx, m)
		return fmt.Errorf("revoke phase: %w", errors.Join(errs...))
	}

	// Step 3: prove it before recording it.
	report, err := c.verifier.Verify(ctx, m, c.expected(m, table, moves, prev, newOwner))
	if err != nil {
		c.markUnverified(ctx, m)
		return fmt.Errorf("verify transfer: %w", err)
	}
	if !report.Passed {
		c.markUnverified(ctx, m)
		return report.Err()
	}

	c.setState(Verified, kinds...)
	at := c.now()
	m.CurrentOwner = newOwner
	m.LastOwnershipTransferAt = &at
	m.Unverified = false
	if err := c.store.Save(ctx, m); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	log.Info().Msg("ownership transferred")
	return nil
}

// moves lists the roles to hand over: DEFAULT_ADMIN_ROLE on every contract
// plus every transferable role the table grants to the owner.
func (c *Coordinator) moves(m *manifest.Manifest, table []roles.Assignment, prev common.Address) []move {
	var (
		out  []move
		seen = map[move]bool{}
	)
	add := func(mv move) {
		if !seen[mv] {
			seen[mv] = true
			out = append(out, mv)
		}
	}
	for _, k := range m.Kinds() {
		add(move{kind: k, role: roles.MustID(roles.DefaultAdmin)})
		for _, a := range table {
			if a.Kind != k || !a.OwnerBound || a.Desired != roles.Granted || a.Principal != prev {
				continue
			}
			if !Transferable(m, a) {
				c.log.Debug().Str("contract", string(a.Kind)).Str("role", a.RoleName()).Msg("functional role left in place")
				continue
			}
			add(move{kind: k, role: a.Role})
		}
	}
	return out
}

// expected is the table the chain must match after the transfer, the same
// one resolving the rules against newOwner gives: moved roles belong to
// newOwner, prev and the deployer lose them unless a rule grants them in
// their own right, and everything else is unchanged.
func (c *Coordinator) expected(m *manifest.Manifest, table []roles.Assignment, moves []move, prev, newOwner common.Address) []roles.Assignment {
	kept := pinned(table)
	var out []roles.Assignment
	for _, a := range table {
		if a.OwnerBound && Transferable(m, a) {
			if a.Pinned && a.Desired == roles.Granted {
				a.OwnerBound = false
				out = append(out, a)
			}
			continue
		}
		out = append(out, a)
	}
	for _, mv := range moves {
		out = append(out, roles.Assignment{Kind: mv.kind, Role: mv.role, Principal: newOwner, Desired: roles.Granted, OwnerBound: true})
		if !kept[mv.holder(prev)] {
			out = append(out, roles.Assignment{Kind: mv.kind, Role: mv.role, Principal: prev, Desired: roles.Revoked, OwnerBound: true})
		}
		if roles.IsAdmin(mv.role) && m.Deployer != prev && m.Deployer != newOwner && !kept[mv.holder(m.Deployer)] {
			out = append(out, roles.Assignment{Kind: mv.kind, Role: mv.role, Principal: m.Deployer, Desired: roles.Revoked, OwnerBound: true})
		}
	}
	return roles.Normalize(out)
}

func (c *Coordinator) markUnverified(ctx context.Context, m *manifest.Manifest) {
	m.Unverified = true
	if err := c.store.Save(ctx, m); err != nil {
		c.log.Error().Err(err).Msg("failed to mark manifest unverified")
	}
}
