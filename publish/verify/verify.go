// Package verify compares the chain against the manifest and role table.
// It only reads, so it is safe to run at any time and as often as needed.
package verify

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/metrics"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
)

type MismatchType string

const (
	MissingCode     MismatchType = "missing_code"
	MissingContract MismatchType = "missing_contract"
	MissingGrant    MismatchType = "missing_grant"
	UnexpectedGrant MismatchType = "unexpected_grant"
)

type Mismatch struct {
	Type      MismatchType   `json:"type"`
	Kind      publish.Kind   `json:"contract"`
	Address   common.Address `json:"address"`
	Role      string         `json:"role,omitempty"`
	Principal common.Address `json:"principal"`
}

func (m Mismatch) String() string {
	switch m.Type {
	case MissingCode:
		return fmt.Sprintf("%s: no code at %s", m.Kind, m.Address.Hex())
	case MissingContract:
		return fmt.Sprintf("%s: not in manifest (%s for %s)", m.Kind, m.Role, m.Principal.Hex())
	default:
		return fmt.Sprintf("%s: %s %s for %s", m.Kind, m.Type, m.Role, m.Principal.Hex())
	}
}

type RoleMember struct {
	Role      string         `json:"role"`
	Principal common.Address `json:"principal"`
}

type ContractReport struct {
	Address     common.Address `json:"address"`
	CodePresent bool           `json:"codePresent"`
	// Expected lists the grants the table asks for; Actual lists the
	// table's principals found holding a role on chain.
	Expected []RoleMember `json:"expected"`
	Actual   []RoleMember `json:"actual"`
}

// Report is derived from the chain on every run and never stored.
type Report struct {
	Contracts  map[publish.Kind]*ContractReport `json:"contracts"`
	Mismatches []Mismatch                       `json:"mismatches"`
	Passed     bool                             `json:"passed"`
}

// Err returns a *publish.VerificationMismatchError when the report failed.
func (r *Report) Err() error {
	if r.Passed {
		return nil
	}
	details := make([]string, len(r.Mismatches))
	for i, m := range r.Mismatches {
		details[i] = m.String()
	}
	return &publish.VerificationMismatchError{Count: len(r.Mismatches), Details: details}
}

type Verifier struct {
	chain   publish.Chain
	log     zerolog.Logger
	workers int
}

// New returns a verifier that checks up to workers contracts concurrently.
func New(chain publish.Chain, log zerolog.Logger, workers int) *Verifier {
	if workers < 1 {
		workers = 1
	}
	return &Verifier{chain: chain, log: log, workers: workers}
}

// Verify checks code presence for every manifest contract and every
// assignment against the chain. It reports every mismatch it finds; only a
// failing chain read is returned as an error.
func (v *Verifier) Verify(ctx context.Context, m *manifest.Manifest, assignments []roles.Assignment) (*Report, error) {
	assignments = roles.Normalize(assignments)
	kinds := m.Kinds()

	perKind := map[publish.Kind][]roles.Assignment{}
	var orphans []Mismatch
	for _, a := range assignments {
		if !m.Has(a.Kind) {
			orphans = append(orphans, Mismatch{Type: MissingContract, Kind: a.Kind, Role: a.RoleName(), Principal: a.Principal})
			continue
		}
		perKind[a.Kind] = append(perKind[a.Kind], a)
	}

	reports := make([]*ContractReport, len(kinds))
	found := make([][]Mismatch, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, kind := range kinds {
		g.Go(func() error {
			r, mm, err := v.checkContract(gctx, kind, m.Contracts[kind].Address, perKind[kind])
			if err != nil {
				return fmt.Errorf("verify %s: %w", kind, err)
			}
			reports[i], found[i] = r, mm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Contracts: make(map[publish.Kind]*ContractReport, len(kinds))}
	for i, kind := range kinds {
		report.Contracts[kind] = reports[i]
		report.Mismatches = append(report.Mismatches, found[i]...)
	}
	report.Mismatches = append(report.Mismatches, orphans...)
	report.Passed = len(report.Mismatches) == 0

	for _, mm := range report.Mismatches {
		metrics.VerificationMismatches.WithLabelValues(string(mm.Type)).Inc()
		v.log.Warn().Str("type", string(mm.Type)).Str("contract", string(mm.Kind)).Str("role", mm.Role).Str("principal", mm.Principal.Hex()).Msg("verification mismatch")
	}
	result := "pass"
	if !report.Passed {
		result = "fail"
	}
	metrics.VerificationRuns.WithLabelValues(result).Inc()
	v.log.Info().Bool("passed", report.Passed).Int("mismatches", len(report.Mismatches)).Msg("verification finished")
	return report, nil
}

func (v *Verifier) checkContract(ctx context.Context, kind publish.Kind, addr common.Address, assignments []roles.Assignment) (*ContractReport, []Mismatch, error) {
	r := &ContractReport{Address: addr, Expected: []RoleMember{}, Actual: []RoleMember{}}
	var out []Mismatch

	code, err := v.chain.CodeAt(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	r.CodePresent = len(code) > 0
	if !r.CodePresent {
		out = append(out, Mismatch{Type: MissingCode, Kind: kind, Address: addr})
	}

	for _, a := range assignments {
		member := RoleMember{Role: a.RoleName(), Principal: a.Principal}
		if a.Desired == roles.Granted {
			r.Expected = append(r.Expected, member)
		}
		held, err := v.chain.HasRole(ctx, addr, a.Role, a.Principal)
		if err != nil {
			return nil, nil, err
		}
		if held {
			r.Actual = append(r.Actual, member)
		}
		switch {
		case a.Desired == roles.Granted && !held:
			out = append(out, Mismatch{Type: MissingGrant, Kind: kind, Address: addr, Role: member.Role, Principal: a.Principal})
		case a.Desired == roles.Revoked && held:
			out = append(out, Mismatch{Type: UnexpectedGrant, Kind: kind, Address: addr, Role: member.Role, Principal: a.Principal})
		}
	}
	return r, out, nil
}
