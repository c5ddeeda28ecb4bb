// Package contracts registers the four JeonseVault contracts and declares how
// their constructors depend on one another.
package contracts

import (
	"math/big"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/compliancemodule"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/investmentpool"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/propertyoracle"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/vault"
)

// Principal names usable in constructor args and role rules.
const (
	PrincipalDeployer = "deployer"
	PrincipalOwner    = "owner"
	PrincipalOperator = "operator"
)

// Definition is the static description of one deployable contract.
type Definition struct {
	Kind     publish.Kind
	Name     string
	Version  string
	GasLimit uint64
	Roles    []string
	Pack     func(values ...any) ([]byte, error)
}

// Params carries the literal constructor values that vary per network.
type Params struct {
	MaxStaleness  *big.Int
	MinInvestment *big.Int
}

func DefaultParams() Params {
	return Params{
		MaxStaleness:  big.NewInt(86_400),
		MinInvestment: big.NewInt(1_000_000),
	}
}

var definitions = []Definition{
	{
		Kind:     publish.PropertyOracle,
		Name:     propertyoracle.Name(),
		Version:  propertyoracle.Version(),
		GasLimit: propertyoracle.MaxGasLimit(),
		Roles:    propertyoracle.Roles(),
		Pack:     propertyoracle.Pack,
	},
	{
		Kind:     publish.ComplianceModule,
		Name:     compliancemodule.Name(),
		Version:  compliancemodule.Version(),
		GasLimit: compliancemodule.MaxGasLimit(),
		Roles:    compliancemodule.Roles(),
		Pack:     compliancemodule.Pack,
	},
	{
		Kind:     publish.InvestmentPool,
		Name:     investmentpool.Name(),
		Version:  investmentpool.Version(),
		GasLimit: investmentpool.MaxGasLimit(),
		Roles:    investmentpool.Roles(),
		Pack:     investmentpool.Pack,
	},
	{
		Kind:     publish.Vault,
		Name:     vault.Name(),
		Version:  vault.Version(),
		GasLimit: vault.MaxGasLimit(),
		Roles:    vault.Roles(),
		Pack:     vault.Pack,
	},
}

// Definitions returns every contract definition in declaration order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

func Lookup(kind publish.Kind) (Definition, bool) {
	for _, d := range definitions {
		if d.Kind == kind {
			return d, true
		}
	}
	return Definition{}, false
}

// Specs returns the constructor layout of every contract. The Vault depends
// on the other three; the pool checks investors against the compliance module.
func Specs(p Params) []publish.ContractSpec {
	admin := publish.ArgPrincipal(PrincipalDeployer)
	return []publish.ContractSpec{
		{
			Kind: publish.PropertyOracle,
			Args: []publish.Arg{admin, publish.ArgLiteral(p.MaxStaleness)},
		},
		{
			Kind: publish.ComplianceModule,
			Args: []publish.Arg{admin},
		},
		{
			Kind: publish.InvestmentPool,
			Args: []publish.Arg{
				admin,
				publish.ArgContract(publish.ComplianceModule),
				publish.ArgLiteral(p.MinInvestment),
			},
		},
		{
			Kind: publish.Vault,
			Args: []publish.Arg{
				admin,
				publish.ArgContract(publish.PropertyOracle),
				publish.ArgContract(publish.ComplianceModule),
				publish.ArgContract(publish.InvestmentPool),
			},
		},
	}
}
