package investmentpool

import "github.com/lmittmann/w3"

const (
	name     = "InvestmentPool"
	version  = "0.1.0"
	GasLimit = 3_500_000
)

const (
	// RoleVault is held by the Vault contract so it can move pooled funds.
	// It is a contract-to-contract grant and never belongs to a human owner.
	RoleVault = "VAULT_ROLE"
	// RoleManager may open and close investment rounds.
	RoleManager = "POOL_MANAGER_ROLE"
)

var funcConstructor = w3.MustNewFunc(
	"constructor(address,address,uint256)", "",
)

func Name() string        { return name }
func Version() string     { return version }
func MaxGasLimit() uint64 { return GasLimit }
func Roles() []string     { return []string{RoleVault, RoleManager} }

func Pack(values ...any) ([]byte, error) {
	return funcConstructor.Args.Pack(values...)
}
