package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/compliancemodule"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/investmentpool"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/propertyoracle"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/vault"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
)

type State string

const (
	Granted State = "granted"
	Revoked State = "revoked"
)

// contractPrefix marks a principal that is itself one of the deployed
// contracts, e.g. "contract:Vault".
const contractPrefix = "contract:"

var errNotDeployed = errors.New("contract not deployed")

// Rule is one line of the declarative role table. Principal is symbolic
// ("owner", "deployer", "operator", "contract:<Kind>") or a hex address.
type Rule struct {
	Contract  publish.Kind `toml:"contract"`
	Role      string       `toml:"role"`
	Principal string       `toml:"principal"`
	State     State        `toml:"state"`
}

// Assignment is a rule with its principal resolved to an address.
type Assignment struct {
	Kind      publish.Kind
	Role      publish.RoleID
	Principal common.Address
	Desired   State
	// OwnerBound marks assignments that follow ownership: roles the table
	// binds to the owner and the deployer revokes that go with them.
	OwnerBound bool
	// Pinned marks grants some rule makes to this principal in its own
	// right rather than as the owner. A transfer never revokes them.
	Pinned bool
}

func (a Assignment) RoleName() string { return Name(a.Role) }

type key struct {
	kind      publish.Kind
	role      publish.RoleID
	principal common.Address
}

func (a Assignment) key() key { return key{a.Kind, a.Role, a.Principal} }

// DefaultTable is the role layout of a fresh deployment: the owner
// administers everything, the operator runs the day to day roles and the
// Vault holds its functional role on the pool.
func DefaultTable() []Rule {
	var rules []Rule
	for _, k := range publish.Kinds {
		rules = append(rules, Rule{Contract: k, Role: DefaultAdmin, Principal: contracts.PrincipalOwner, State: Granted})
	}
	return append(rules,
		Rule{Contract: publish.PropertyOracle, Role: propertyoracle.RoleUpdater, Principal: contracts.PrincipalOperator, State: Granted},
		Rule{Contract: publish.ComplianceModule, Role: compliancemodule.RoleOfficer, Principal: contracts.PrincipalOperator, State: Granted},
		Rule{Contract: publish.InvestmentPool, Role: investmentpool.RoleManager, Principal: contracts.PrincipalOperator, State: Granted},
		Rule{Contract: publish.InvestmentPool, Role: investmentpool.RoleVault, Principal: contractPrefix + string(publish.Vault), State: Granted},
		Rule{Contract: publish.Vault, Role: vault.RoleKeeper, Principal: contracts.PrincipalOperator, State: Granted},
	)
}

// Bindings gives the symbolic principals their addresses.
type Bindings struct {
	Deployer  common.Address
	Owner     common.Address
	Operator  common.Address
	Contracts map[publish.Kind]common.Address
}

// BindingsFor binds principals against a manifest. The owner is the
// manifest's current owner; a zero operator falls back to the deployer.
func BindingsFor(m *manifest.Manifest, operator common.Address) Bindings {
	b := Bindings{
		Deployer:  m.Deployer,
		Owner:     m.Owner(),
		Operator:  operator,
		Contracts: map[publish.Kind]common.Address{},
	}
	if b.Operator == (common.Address{}) {
		b.Operator = m.Deployer
	}
	for k, c := range m.Contracts {
		b.Contracts[k] = c.Address
	}
	return b
}

// Resolve turns rules into assignments. When the owner is not the deployer,
// every owner-held admin grant comes with a revoke of the same role from the
// deployer, unless another rule grants the deployer that role itself.
// Rules for contracts that are not deployed yet are kept so verification
// can report them; a rule whose principal is an undeployed contract is
// skipped, since the missing contract is reported on its own.
func Resolve(rules []Rule, b Bindings) ([]Assignment, error) {
	var out, handover []Assignment
	for _, r := range rules {
		kind, err := publish.ParseKind(string(r.Contract))
		if err != nil {
			return nil, err
		}
		id, err := ID(r.Role)
		if err != nil {
			return nil, err
		}
		if !Declares(kind, r.Role) {
			return nil, publish.Configf("role rule: %s does not declare %s", kind, r.Role)
		}
		state := r.State
		if state == "" {
			state = Granted
		}
		if state != Granted && state != Revoked {
			return nil, publish.Configf("role rule: unknown state %q", r.State)
		}
		principal, err := b.principal(r.Principal)
		if errors.Is(err, errNotDeployed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		ownerBound := strings.EqualFold(strings.TrimSpace(r.Principal), contracts.PrincipalOwner)
		out = append(out, Assignment{
			Kind:       kind,
			Role:       id,
			Principal:  principal,
			Desired:    state,
			OwnerBound: ownerBound,
			Pinned:     !ownerBound && state == Granted,
		})

		if ownerBound && IsAdmin(id) && state == Granted && b.Owner != b.Deployer && b.Deployer != (common.Address{}) {
			handover = append(handover, Assignment{
				Kind:       kind,
				Role:       id,
				Principal:  b.Deployer,
				Desired:    Revoked,
				OwnerBound: true,
			})
		}
	}

	out = Normalize(out)
	pinned := map[key]bool{}
	for _, a := range out {
		if a.Pinned {
			pinned[a.key()] = true
		}
	}
	for _, a := range handover {
		if !pinned[a.key()] {
			out = append(out, a)
		}
	}
	return Normalize(out), nil
}

func (b Bindings) principal(ref string) (common.Address, error) {
	ref = strings.TrimSpace(ref)
	var addr common.Address
	switch {
	case strings.EqualFold(ref, contracts.PrincipalOwner):
		addr = b.Owner
	case strings.EqualFold(ref, contracts.PrincipalDeployer):
		addr = b.Deployer
	case strings.EqualFold(ref, contracts.PrincipalOperator):
		addr = b.Operator
	case strings.HasPrefix(ref, contractPrefix):
		kind, err := publish.ParseKind(strings.TrimPrefix(ref, contractPrefix))
		if err != nil {
			return common.Address{}, err
		}
		a, ok := b.Contracts[kind]
		if !ok {
			return common.Address{}, fmt.Errorf("principal %s: %w", ref, errNotDeployed)
		}
		return a, nil
	default:
		a, err := publish.ParseAddress(ref)
		if err != nil {
			return common.Address{}, publish.Configf("principal %q: %v", ref, err)
		}
		return a, nil
	}
	if addr == (common.Address{}) {
		return common.Address{}, publish.Configf("principal %q has no address", ref)
	}
	return addr, nil
}

// Normalize drops duplicate (contract, role, principal) keys. The last
// occurrence decides the state; the first decides the position. The
// ownership flags of merged entries are combined.
func Normalize(in []Assignment) []Assignment {
	idx := make(map[key]int, len(in))
	out := make([]Assignment, 0, len(in))
	for _, a := range in {
		if i, ok := idx[a.key()]; ok {
			prev := out[i]
			a.OwnerBound = a.OwnerBound || prev.OwnerBound
			a.Pinned = (a.Pinned || prev.Pinned) && a.Desired == Granted
			out[i] = a
			continue
		}
		idx[a.key()] = len(out)
		out = append(out, a)
	}
	return out
}
