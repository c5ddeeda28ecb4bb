// Package chaintest provides an in-memory publish.Chain with OpenZeppelin
// AccessControl semantics: a deployer receives DEFAULT_ADMIN_ROLE on every
// contract it creates, and only holders of that role may grant or revoke.
package chaintest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

type TxType string

const (
	TxDeploy TxType = "deploy"
	TxGrant  TxType = "grant"
	TxRevoke TxType = "revoke"
	TxOther  TxType = "other"
)

// Tx is one submitted transaction as seen by the fake.
type Tx struct {
	Hash    common.Hash
	Type    TxType
	To      common.Address
	Data    []byte
	Role    publish.RoleID
	Account common.Address
}

// Chain is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	from     common.Address
	chainID  uint64
	balance  *big.Int
	nonce    uint64
	block    uint64
	code     map[common.Address][]byte
	roles    map[common.Address]map[publish.RoleID]map[common.Address]bool
	receipts map[common.Hash]*types.Receipt
	sent     []Tx

	// FailTx, when set, is consulted before a tx is accepted. A non-nil error
	// is returned from Deploy/Transact and nothing is recorded.
	FailTx func(tx Tx) error
	// RevertTx makes an accepted tx mine with status 0 and no state change.
	RevertTx func(tx Tx) bool
	// ReadErr is returned by every read call when set.
	ReadErr error
}

func New(from common.Address) *Chain {
	return &Chain{
		from:     from,
		chainID:  31337,
		balance:  new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
		block:    1,
		code:     map[common.Address][]byte{},
		roles:    map[common.Address]map[publish.RoleID]map[common.Address]bool{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

var _ publish.Chain = (*Chain)(nil)

func (c *Chain) SetBalance(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = new(big.Int).Set(wei)
}

// SetRole changes role membership directly, bypassing access control.
func (c *Chain) SetRole(contract common.Address, role publish.RoleID, account common.Address, granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRole(contract, role, account, granted)
}

// SetCode replaces (or with nil, removes) the code at an address.
func (c *Chain) SetCode(account common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == nil {
		delete(c.code, account)
		return
	}
	c.code[account] = code
}

// Sent returns a copy of every accepted transaction in submission order.
func (c *Chain) Sent() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.sent...)
}

// Count returns how many accepted transactions had the given type.
func (c *Chain) Count(typ TxType) int {
	n := 0
	for _, tx := range c.Sent() {
		if tx.Type == typ {
			n++
		}
	}
	return n
}

// Admins returns how many accounts hold DEFAULT_ADMIN_ROLE on contract.
func (c *Chain) Admins(contract common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, held := range c.roles[contract][publish.RoleID{}] {
		if held {
			n++
		}
	}
	return n
}

func (c *Chain) Address() common.Address { return c.from }

func (c *Chain) ChainID(context.Context) (uint64, error) {
	if c.ReadErr != nil {
		return 0, c.ReadErr
	}
	return c.chainID, nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return 0, c.ReadErr
	}
	return c.block, nil
}

func (c *Chain) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	if account != c.from {
		return new(big.Int), nil
	}
	return new(big.Int).Set(c.balance), nil
}

func (c *Chain) CodeAt(_ context.Context, account common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	return c.code[account], nil
}

func (c *Chain) HasRole(_ context.Context, contract common.Address, role publish.RoleID, account common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return false, c.ReadErr
	}
	return c.roles[contract][role][account], nil
}

func (c *Chain) Deploy(_ context.Context, bytecode []byte, gasLimit uint64) (publish.DeployResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(c.from, c.nonce)
	tx := Tx{Hash: c.txHash(bytecode), Type: TxDeploy, To: addr, Data: bytecode}
	if c.FailTx != nil {
		if err := c.FailTx(tx); err != nil {
			return publish.DeployResult{}, err
		}
	}
	c.accept(tx, func() bool {
		c.code[addr] = append([]byte{0x60, 0x80}, crypto.Keccak256(bytecode)[:4]...)
		c.setRole(addr, publish.RoleID{}, c.from, true)
		return true
	})
	return publish.DeployResult{TxHash: tx.Hash, ContractAddress: addr}, nil
}

func (c *Chain) Transact(_ context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := Tx{Hash: c.txHash(data), Type: TxOther, To: to, Data: data}
	if len(data) == 4+32+32 {
		switch {
		case bytes.Equal(data[:4], publish.FuncGrantRole.Selector[:]):
			tx.Type = TxGrant
		case bytes.Equal(data[:4], publish.FuncRevokeRole.Selector[:]):
			tx.Type = TxRevoke
		}
		copy(tx.Role[:], data[4:36])
		tx.Account = common.BytesToAddress(data[36:68])
	}
	if c.FailTx != nil {
		if err := c.FailTx(tx); err != nil {
			return common.Hash{}, err
		}
	}
	c.accept(tx, func() bool {
		if len(c.code[to]) == 0 {
			return false
		}
		switch tx.Type {
		case TxGrant, TxRevoke:
			// AccessControl: the caller must hold DEFAULT_ADMIN_ROLE.
			if !c.roles[to][publish.RoleID{}][c.from] {
				return false
			}
			c.setRole(to, tx.Role, tx.Account, tx.Type == TxGrant)
		}
		return true
	})
	return tx.Hash, nil
}

func (c *Chain) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("chaintest: unknown tx %s", txHash.Hex())
	}
	return r, nil
}

// accept mines tx in its own block. apply runs unless RevertTx says
// otherwise; a false return from apply also reverts.
func (c *Chain) accept(tx Tx, apply func() bool) {
	c.nonce++
	c.block++
	status := types.ReceiptStatusFailed
	if (c.RevertTx == nil || !c.RevertTx(tx)) && apply() {
		status = types.ReceiptStatusSuccessful
	}
	r := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash,
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
	if tx.Type == TxDeploy && status == types.ReceiptStatusSuccessful {
		r.ContractAddress = tx.To
	}
	c.receipts[tx.Hash] = r
	c.sent = append(c.sent, tx)
}

func (c *Chain) txHash(data []byte) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	return crypto.Keccak256Hash(c.from.Bytes(), n[:], data)
}

func (c *Chain) setRole(contract common.Address, role publish.RoleID, account common.Address, granted bool) {
	if c.roles[contract] == nil {
		c.roles[contract] = map[publish.RoleID]map[common.Address]bool{}
	}
	if c.roles[contract][role] == nil {
		c.roles[contract][role] = map[common.Address]bool{}
	}
	if granted {
		c.roles[contract][role][account] = true
		return
	}
	delete(c.roles[contract][role], account)
}
