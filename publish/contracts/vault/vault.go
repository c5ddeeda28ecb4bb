package vault

import "github.com/lmittmann/w3"

const (
	name     = "Vault"
	version  = "0.1.0"
	GasLimit = 4_000_000
)

// RoleKeeper may trigger deposit settlement and refunds.
const RoleKeeper = "VAULT_KEEPER_ROLE"

var funcConstructor = w3.MustNewFunc(
	"constructor(address,address,address,address)", "",
)

func Name() string        { return name }
func Version() string     { return version }
func MaxGasLimit() uint64 { return GasLimit }
func Roles() []string     { return []string{RoleKeeper} }

func Pack(values ...any) ([]byte, error) {
	return funcConstructor.Args.Pack(values...)
}
