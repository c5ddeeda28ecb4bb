package publish

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
)

// RoleGasLimit covers a single grantRole or revokeRole call.
const RoleGasLimit uint64 = 120_000

var ErrReadOnly = errors.New("publish: client has no signing key")

var _ Chain = (*Client)(nil)

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
	}

	// Chain is everything the orchestration needs from a node. Mutating calls
	// from one signer must be serialised by the implementation.
	Chain interface {
		Address() common.Address
		ChainID(ctx context.Context) (uint64, error)
		BlockNumber(ctx context.Context) (uint64, error)
		BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
		CodeAt(ctx context.Context, account common.Address) ([]byte, error)
		HasRole(ctx context.Context, contract common.Address, role RoleID, account common.Address) (bool, error)
		Deploy(ctx context.Context, bytecode []byte, gasLimit uint64) (DeployResult, error)
		Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
		WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	}

	ClientOptions struct {
		GasFeeCap      *big.Int
		GasTipCap      *big.Int
		Retry          RetryPolicy
		Confirmations  uint64
		PollInterval   time.Duration
		ReceiptTimeout time.Duration
	}

	// Client is the w3-backed Chain. A client built without a key can only
	// read.
	Client struct {
		client  *w3.Client
		chainID *big.Int
		signer  types.Signer
		key     *ecdsa.PrivateKey
		address common.Address
		opts    ClientOptions

		mu    sync.Mutex
		nonce *uint64
	}
)

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		GasFeeCap:      big.NewInt(2_000_000_000),
		GasTipCap:      big.NewInt(1_000_000_000),
		Retry:          DefaultRetryPolicy(),
		Confirmations:  1,
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 5 * time.Minute,
	}
}

func Dial(rpcURL string, chainID uint64, privateKey *ecdsa.PrivateKey, opts ClientOptions) (*Client, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	c := &Client{
		client:  client,
		chainID: new(big.Int).SetUint64(chainID),
		signer:  types.NewLondonSigner(new(big.Int).SetUint64(chainID)),
		key:     privateKey,
		opts:    opts,
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return c, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

// GasFeeCap is the max fee per gas every transaction is signed with.
func (c *Client) GasFeeCap() *big.Int {
	return c.opts.GasFeeCap
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id uint64
	err := Retry(ctx, c.opts.Retry, "eth_chainId", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.ChainID().Returns(&id))
	})
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	return id, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n *big.Int
	err := Retry(ctx, c.opts.Retry, "eth_blockNumber", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.BlockNumber().Returns(&n))
	})
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return n.Uint64(), nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := Retry(ctx, c.opts.Retry, "eth_getBalance", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.Balance(account, nil).Returns(&balance))
	})
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	var code []byte
	err := Retry(ctx, c.opts.Retry, "eth_getCode", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.Code(account, nil).Returns(&code))
	})
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

func (c *Client) HasRole(ctx context.Context, contract common.Address, role RoleID, account common.Address) (bool, error) {
	var ok bool
	err := Retry(ctx, c.opts.Retry, "hasRole", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.CallFunc(contract, FuncHasRole, role.Hash(), account).Returns(&ok))
	})
	if err != nil {
		return false, fmt.Errorf("hasRole: %w", err)
	}
	return ok, nil
}

// nextNonce must be called with c.mu held.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	if c.nonce != nil {
		return *c.nonce, nil
	}
	var nonce uint64
	err := Retry(ctx, c.opts.Retry, "eth_getTransactionCount", func(ctx context.Context) error {
		return c.client.CallCtx(ctx, eth.Nonce(c.address, nil).Returns(&nonce))
	})
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

// sendTx signs once and rebroadcasts the same bytes on timeout, so a retry
// never spends a second nonce.
func (c *Client) sendTx(ctx context.Context, to *common.Address, data []byte, gasLimit uint64) (common.Hash, uint64, error) {
	if c.key == nil {
		return common.Hash{}, 0, ErrReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return common.Hash{}, 0, err
	}

	//  EIP-1559 only
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasFeeCap: c.opts.GasFeeCap,
		GasTipCap: c.opts.GasTipCap,
		Gas:       gasLimit,
		To:        to,
		Data:      data,
	})
	signedTx, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("sign tx: %w", err)
	}

	var sent common.Hash
	err = Retry(ctx, c.opts.Retry, "eth_sendRawTransaction", func(ctx context.Context) error {
		err := c.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(&sent))
		if err != nil && isKnownTx(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.nonce = nil
		return common.Hash{}, 0, fmt.Errorf("send tx: %w", err)
	}
	next := nonce + 1
	c.nonce = &next
	return signedTx.Hash(), nonce, nil
}

func isKnownTx(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func (c *Client) Deploy(ctx context.Context, bytecode []byte, gasLimit uint64) (DeployResult, error) {
	txHash, nonce, err := c.sendTx(ctx, nil, bytecode, gasLimit)
	if err != nil {
		return DeployResult{}, err
	}
	return DeployResult{
		TxHash:          txHash,
		ContractAddress: crypto.CreateAddress(c.address, nonce),
	}, nil
}

func (c *Client) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	txHash, _, err := c.sendTx(ctx, &to, data, gasLimit)
	return txHash, err
}

// WaitForReceipt polls until the tx is mined and buried under the configured
// number of confirmations.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.opts.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		err := c.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			break
		}
		if err := waitTick(ctx, ticker, "eth_getTransactionReceipt"); err != nil {
			return nil, err
		}
	}

	if c.opts.Confirmations <= 1 || receipt.BlockNumber == nil {
		return receipt, nil
	}
	target := receipt.BlockNumber.Uint64() + c.opts.Confirmations - 1
	for {
		var head *big.Int
		if err := c.client.CallCtx(ctx, eth.BlockNumber().Returns(&head)); err == nil && head != nil && head.Uint64() >= target {
			return receipt, nil
		}
		if err := waitTick(ctx, ticker, "eth_blockNumber"); err != nil {
			return nil, err
		}
	}
}

func waitTick(ctx context.Context, ticker *time.Ticker, op string) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &RPCTimeoutError{Op: op, Attempts: 1, Err: ctx.Err()}
		}
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}

func MustHexDecode(hexStr string) []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexStr), "0x"))
	if err != nil {
		panic(fmt.Sprintf("decode hex: %v", err))
	}
	return b
}
