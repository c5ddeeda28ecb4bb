package publish

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigurationError reports a bad contract graph, role table or setting.
// It is never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func Configf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "configuration: " + e.Msg + ": " + e.Err.Error()
	}
	return "configuration: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InsufficientFundsError is returned before a deployment is submitted when the
// deployer cannot cover gasLimit * gasFeeCap.
type InsufficientFundsError struct {
	Kind     Kind
	Account  common.Address
	Required *big.Int
	Balance  *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds to deploy %s: account %s holds %s wei, needs at least %s wei",
		e.Kind, e.Account.Hex(), e.Balance, e.Required)
}

// DeploymentRevertedError carries the hash of a creation tx whose receipt
// reported failure. Inspect it manually; it is not retried.
type DeploymentRevertedError struct {
	Kind   Kind
	TxHash common.Hash
}

func (e *DeploymentRevertedError) Error() string {
	return fmt.Sprintf("%s deployment reverted: %s", e.Kind, e.TxHash.Hex())
}

// RoleRevertedError reports a grantRole/revokeRole tx that reverted.
type RoleRevertedError struct {
	Kind      Kind
	Op        string
	Role      string
	Principal common.Address
	TxHash    common.Hash
}

func (e *RoleRevertedError) Error() string {
	return fmt.Sprintf("%s %s %s for %s reverted: %s", e.Kind, e.Op, e.Role, e.Principal.Hex(), e.TxHash.Hex())
}

// RPCTimeoutError is what a timed-out chain call becomes once its retries are
// exhausted.
type RPCTimeoutError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RPCTimeoutError) Error() string {
	return fmt.Sprintf("rpc %s timed out after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *RPCTimeoutError) Unwrap() error { return e.Err }

// VerificationMismatchError summarises a failed verification. The mismatches
// themselves live in the verification report.
type VerificationMismatchError struct {
	Count   int
	Details []string
}

func (e *VerificationMismatchError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("verification found %d mismatch(es)", e.Count)
	}
	return fmt.Sprintf("verification found %d mismatch(es): %s", e.Count, strings.Join(e.Details, "; "))
}
