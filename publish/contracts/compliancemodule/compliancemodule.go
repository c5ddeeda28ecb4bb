package compliancemodule

import "github.com/lmittmann/w3"

const (
	name     = "ComplianceModule"
	version  = "0.1.0"
	GasLimit = 2_000_000
)

// RoleOfficer may whitelist and blacklist investors.
const RoleOfficer = "COMPLIANCE_OFFICER_ROLE"

var funcConstructor = w3.MustNewFunc(
	"constructor(address)", "",
)

func Name() string        { return name }
func Version() string     { return version }
func MaxGasLimit() uint64 { return GasLimit }
func Roles() []string     { return []string{RoleOfficer} }

func Pack(values ...any) ([]byte, error) {
	return funcConstructor.Args.Pack(values...)
}
