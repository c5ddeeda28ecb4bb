package publish

import (
	"fmt"
	"strings"
)

// Kind identifies one of the contracts this publisher knows how to deploy.
type Kind string

const (
	PropertyOracle   Kind = "PropertyOracle"
	ComplianceModule Kind = "ComplianceModule"
	InvestmentPool   Kind = "InvestmentPool"
	Vault            Kind = "Vault"
)

// Kinds lists every contract kind in declaration order.
var Kinds = []Kind{PropertyOracle, ComplianceModule, InvestmentPool, Vault}

func (k Kind) String() string { return string(k) }

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind accepts a kind name in any case.
func ParseKind(v string) (Kind, error) {
	v = strings.TrimSpace(v)
	for _, known := range Kinds {
		if strings.EqualFold(v, string(known)) {
			return known, nil
		}
	}
	return "", Configf("unknown contract kind %q", v)
}

type argType int

const (
	argLiteral argType = iota
	argContract
	argPrincipal
)

// Arg is one constructor argument: a literal value, the address of a contract
// deployed earlier, or a named principal such as the deployer.
type Arg struct {
	typ       argType
	contract  Kind
	principal string
	value     any
}

func ArgLiteral(v any) Arg         { return Arg{typ: argLiteral, value: v} }
func ArgContract(k Kind) Arg       { return Arg{typ: argContract, contract: k} }
func ArgPrincipal(name string) Arg { return Arg{typ: argPrincipal, principal: name} }
func (a Arg) IsContract() bool     { return a.typ == argContract }
func (a Arg) IsPrincipal() bool    { return a.typ == argPrincipal }
func (a Arg) Contract() Kind       { return a.contract }
func (a Arg) Principal() string    { return a.principal }
func (a Arg) Value() any           { return a.value }

func (a Arg) String() string {
	switch a.typ {
	case argContract:
		return "contract:" + string(a.contract)
	case argPrincipal:
		return "principal:" + a.principal
	default:
		return fmt.Sprint(a.value)
	}
}

// ContractSpec declares a contract and its constructor arguments. Contract
// arguments are its dependencies.
type ContractSpec struct {
	Kind Kind
	Args []Arg
}

// Deps returns the contract kinds referenced by the constructor, in argument
// order, without duplicates.
func (s ContractSpec) Deps() []Kind {
	var (
		out  []Kind
		seen = map[Kind]bool{}
	)
	for _, a := range s.Args {
		if !a.IsContract() || seen[a.contract] {
			continue
		}
		seen[a.contract] = true
		out = append(out, a.contract)
	}
	return out
}
