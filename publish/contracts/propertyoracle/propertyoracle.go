package propertyoracle

import "github.com/lmittmann/w3"

const (
	name     = "PropertyOracle"
	version  = "0.1.0"
	GasLimit = 2_500_000
)

// RoleUpdater may post property valuations.
const RoleUpdater = "ORACLE_UPDATER_ROLE"

var funcConstructor = w3.MustNewFunc(
	"constructor(address,uint256)", "",
)

func Name() string        { return name }
func Version() string     { return version }
func MaxGasLimit() uint64 { return GasLimit }
func Roles() []string     { return []string{RoleUpdater} }

// Pack ABI-encodes already resolved constructor values.
func Pack(values ...any) ([]byte, error) {
	return funcConstructor.Args.Pack(values...)
}
