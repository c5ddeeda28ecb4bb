package ownership

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/chaintest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts/investmentpool"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
	"github.com/Vaios0x/JeonseVault-sub002/publish/verify"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	newOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	adminID  = roles.MustID(roles.DefaultAdmin)
)

// watchedChain asserts after every role transaction that no deployed
// contract is left without an admin.
type watchedChain struct {
	*chaintest.Chain
	t         *testing.T
	contracts []common.Address
}

func (w *watchedChain) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	h, err := w.Chain.Transact(ctx, to, data, gasLimit)
	for _, addr := range w.contracts {
		assert.GreaterOrEqual(w.t, w.Chain.Admins(addr), 1, "contract %s has no admin", addr.Hex())
	}
	return h, err
}

type fixture struct {
	chain *chaintest.Chain
	store manifest.Store
	m     *manifest.Manifest
	table []roles.Assignment
	c     *Coordinator
}

func newFixture(t *testing.T, rules []roles.Rule) *fixture {
	t.Helper()
	return newFixtureWithOperator(t, rules, operator)
}

// newFixtureWithOperator deploys and provisions every contract. A zero
// operator falls back to the deployer.
func newFixtureWithOperator(t *testing.T, rules []roles.Rule, op common.Address) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := manifest.OpenFile(filepath.Join(t.TempDir(), "local.json"), "local")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chain := chaintest.New(deployer)
	m := manifest.New("local")
	m.Deployer = deployer
	m.CurrentOwner = deployer
	watched := &watchedChain{Chain: chain, t: t}
	for _, k := range publish.Kinds {
		res, err := chain.Deploy(ctx, []byte(k), 1_000_000)
		require.NoError(t, err)
		m.Record(manifest.DeployedContract{Kind: k, Address: res.ContractAddress})
		watched.contracts = append(watched.contracts, res.ContractAddress)
	}
	require.NoError(t, store.Save(ctx, m))

	table, err := roles.Resolve(rules, roles.BindingsFor(m, op))
	require.NoError(t, err)
	prov := roles.NewProvisioner(watched, zerolog.Nop(), 2)
	require.NoError(t, prov.Apply(ctx, m, table))

	return &fixture{
		chain: chain,
		store: store,
		m:     m,
		table: table,
		c:     New(watched, store, prov, verify.New(watched, zerolog.Nop(), 4), zerolog.Nop()),
	}
}

func (f *fixture) hasAdmin(t *testing.T, kind publish.Kind, who common.Address) bool {
	t.Helper()
	addr, _ := f.m.Address(kind)
	ok, err := f.chain.HasRole(context.Background(), addr, adminID, who)
	require.NoError(t, err)
	return ok
}

func TestTransferThenVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roles.DefaultTable())

	require.NoError(t, f.c.Transfer(ctx, f.m, newOwner, f.table))
	assert.Equal(t, newOwner, f.m.CurrentOwner)
	require.NotNil(t, f.m.LastOwnershipTransferAt)
	assert.False(t, f.m.Unverified)

	for _, k := range publish.Kinds {
		assert.True(t, f.hasAdmin(t, k, newOwner), k)
		assert.False(t, f.hasAdmin(t, k, deployer), k)
		assert.Equal(t, Verified, f.c.States()[k])
	}

	// A fresh verify with the post-transfer table agrees.
	table, err := roles.Resolve(roles.DefaultTable(), roles.BindingsFor(f.m, operator))
	require.NoError(t, err)
	report, err := verify.New(f.chain, zerolog.Nop(), 1).Verify(ctx, f.m, table)
	require.NoError(t, err)
	assert.True(t, report.Passed, "%v", report.Mismatches)

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, newOwner, stored.CurrentOwner)
}

func TestTransferToCurrentOwnerIsNoop(t *testing.T) {
	f := newFixture(t, roles.DefaultTable())
	before := len(f.chain.Sent())
	require.NoError(t, f.c.Transfer(context.Background(), f.m, deployer, f.table))
	assert.Equal(t, before, len(f.chain.Sent()))
}

func TestTransferRejectsBadTargets(t *testing.T) {
	f := newFixture(t, roles.DefaultTable())
	vault, _ := f.m.Address(publish.Vault)
	for _, target := range []common.Address{{}, vault} {
		err := f.c.Transfer(context.Background(), f.m, target, f.table)
		var cfgErr *publish.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "target %s: %v", target.Hex(), err)
	}
}

func TestCrashAfterGrantPhaseKeepsDeployerAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roles.DefaultTable())
	crash := errors.New("process killed")
	f.chain.FailTx = func(tx chaintest.Tx) error {
		if tx.Type == chaintest.TxRevoke {
			return crash
		}
		return nil
	}

	err := f.c.Transfer(ctx, f.m, newOwner, f.table)
	require.ErrorIs(t, err, crash)
	assert.Zero(t, f.chain.Count(chaintest.TxRevoke))
	for _, k := range publish.Kinds {
		assert.True(t, f.hasAdmin(t, k, deployer), "deployer lost admin on %s", k)
		assert.True(t, f.hasAdmin(t, k, newOwner), k)
		assert.Equal(t, AdminGrantedToNewOwner, f.c.States()[k])
	}
	assert.True(t, f.m.Unverified)
	assert.Equal(t, deployer, f.m.CurrentOwner)

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Unverified)

	// Rerun: grants are already there, only the revokes go out.
	f.chain.FailTx = nil
	grants := f.chain.Count(chaintest.TxGrant)
	require.NoError(t, f.c.Transfer(ctx, f.m, newOwner, f.table))
	assert.Equal(t, grants, f.chain.Count(chaintest.TxGrant))
	assert.Equal(t, len(publish.Kinds), f.chain.Count(chaintest.TxRevoke))
	assert.Equal(t, newOwner, f.m.CurrentOwner)
	assert.False(t, f.m.Unverified)
}

func TestPartialGrantPhaseReportsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roles.DefaultTable())
	vault, _ := f.m.Address(publish.Vault)
	f.chain.FailTx = func(tx chaintest.Tx) error {
		if tx.Type == chaintest.TxGrant && tx.To == vault {
			return &publish.RPCTimeoutError{Op: "eth_sendRawTransaction", Attempts: 5}
		}
		return nil
	}
	grantsBefore := f.chain.Count(chaintest.TxGrant)

	err := f.c.Transfer(ctx, f.m, newOwner, f.table)
	var incomplete *IncompleteTransferError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, []publish.Kind{publish.Vault}, incomplete.Pending)
	var timeout *publish.RPCTimeoutError
	assert.True(t, errors.As(err, &timeout))

	assert.Zero(t, f.chain.Count(chaintest.TxRevoke), "no revoke before every grant landed")
	assert.Equal(t, grantsBefore+3, f.chain.Count(chaintest.TxGrant))
	assert.Equal(t, AdminHeldByDeployer, f.c.States()[publish.Vault])
	assert.True(t, f.m.Unverified)

	f.chain.FailTx = nil
	require.NoError(t, f.c.Transfer(ctx, f.m, newOwner, f.table))
	assert.Equal(t, grantsBefore+4, f.chain.Count(chaintest.TxGrant), "resume only sends the missing grant")
	assert.Equal(t, newOwner, f.m.CurrentOwner)
}

func TestVaultRoleOnPoolNeverTransfers(t *testing.T) {
	ctx := context.Background()
	// A naive table that also binds the pool's vault role to the owner.
	rules := append(roles.DefaultTable(), roles.Rule{
		Contract:  publish.InvestmentPool,
		Role:      investmentpool.RoleVault,
		Principal: contracts.PrincipalOwner,
		State:     roles.Granted,
	})
	f := newFixture(t, rules)
	vaultRole := roles.MustID(investmentpool.RoleVault)
	before := len(f.chain.Sent())

	require.NoError(t, f.c.Transfer(ctx, f.m, newOwner, f.table))

	for _, tx := range f.chain.Sent()[before:] {
		assert.NotEqual(t, vaultRole, tx.Role, "vault role touched by transfer")
	}
	pool, _ := f.m.Address(publish.InvestmentPool)
	vault, _ := f.m.Address(publish.Vault)
	ok, err := f.chain.HasRole(ctx, pool, vaultRole, vault)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.chain.HasRole(ctx, pool, vaultRole, newOwner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransferKeepsRoleOperatorHoldsInItsOwnRight(t *testing.T) {
	ctx := context.Background()
	// The pool manager role is bound to the owner as well as the operator,
	// and the operator defaults to the deployer.
	rules := append(roles.DefaultTable(), roles.Rule{
		Contract:  publish.InvestmentPool,
		Role:      investmentpool.RoleManager,
		Principal: contracts.PrincipalOwner,
		State:     roles.Granted,
	})
	f := newFixtureWithOperator(t, rules, common.Address{})
	manager := roles.MustID(investmentpool.RoleManager)
	pool, _ := f.m.Address(publish.InvestmentPool)

	require.NoError(t, f.c.Transfer(ctx, f.m, newOwner, f.table))

	for _, who := range []common.Address{deployer, newOwner} {
		ok, err := f.chain.HasRole(ctx, pool, manager, who)
		require.NoError(t, err)
		assert.True(t, ok, "%s lost the pool manager role", who.Hex())
	}
	for _, k := range publish.Kinds {
		assert.False(t, f.hasAdmin(t, k, deployer), k)
		assert.True(t, f.hasAdmin(t, k, newOwner), k)
	}

	table, err := roles.Resolve(rules, roles.BindingsFor(f.m, common.Address{}))
	require.NoError(t, err)
	report, err := verify.New(f.chain, zerolog.Nop(), 1).Verify(ctx, f.m, table)
	require.NoError(t, err)
	assert.True(t, report.Passed, "%v", report.Mismatches)
}

func TestTransferable(t *testing.T) {
	f := newFixture(t, roles.DefaultTable())
	vault, _ := f.m.Address(publish.Vault)
	assert.False(t, Transferable(f.m, roles.Assignment{Kind: publish.InvestmentPool, Role: roles.MustID(investmentpool.RoleVault), Principal: deployer}))
	assert.False(t, Transferable(f.m, roles.Assignment{Kind: publish.PropertyOracle, Role: adminID, Principal: vault}))
	assert.True(t, Transferable(f.m, roles.Assignment{Kind: publish.PropertyOracle, Role: adminID, Principal: deployer}))
}
