package publish

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
)

// AccessControl entry points shared by every contract.
var (
	FuncGrantRole  = w3.MustNewFunc("grantRole(bytes32,address)", "")
	FuncRevokeRole = w3.MustNewFunc("revokeRole(bytes32,address)", "")
	FuncHasRole    = w3.MustNewFunc("hasRole(bytes32,address)", "bool")
)

// RoleID is the on-chain identifier of a role: keccak256 of its canonical
// name, or zero for DEFAULT_ADMIN_ROLE.
type RoleID [32]byte

// RoleIDFromName hashes a role name. Names are case sensitive.
func RoleIDFromName(name string) RoleID {
	return RoleID(crypto.Keccak256Hash([]byte(name)))
}

func (id RoleID) Hash() common.Hash { return common.Hash(id) }
func (id RoleID) Hex() string       { return hexutil.Encode(id[:]) }
func (id RoleID) IsZero() bool      { return id == RoleID{} }

func (id RoleID) MarshalText() ([]byte, error) {
	return hexutil.Bytes(id[:]).MarshalText()
}

func (id *RoleID) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("RoleID", input, id[:])
}
