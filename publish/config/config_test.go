package config

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
)

const sample = `
network = "kaia-testnet"
rpc_url = "http://localhost:8545"
gas_fee_cap = "30000000000"
timeout = "10m"
verify_workers = 8

[retry]
attempts = 3
initial_delay = "500ms"

[oracle]
max_staleness = "3600"

[[roles]]
contract = "PropertyOracle"
role = "ORACLE_UPDATER_ROLE"
principal = "0x00000000000000000000000000000000000000b1"
state = "granted"

[networks.kaia-testnet]
rpc_url = "https://public-en-kairos.node.kaia.io"
chain_id = 1001
operator = "0x00000000000000000000000000000000000000c1"

[networks.kaia-testnet.pool]
min_investment = "5000"

[networks.mainnet]
chain_id = 8217
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jv-publish.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithoutFileKeepsDefaults(t *testing.T) {
	cfg, err := Load("", "local")
	require.NoError(t, err)
	assert.Equal(t, Default("local"), cfg)
}

func TestLoadOverlaysNetworkTable(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), "")
	require.NoError(t, err)

	assert.Equal(t, "kaia-testnet", cfg.Network)
	assert.Equal(t, "https://public-en-kairos.node.kaia.io", cfg.RPCURL)
	assert.Equal(t, uint64(1001), cfg.ChainID)
	assert.Equal(t, common.HexToAddress("0xc1"), cfg.Operator)
	assert.Equal(t, big.NewInt(30_000_000_000), cfg.GasFeeCap)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, 8, cfg.VerifyWorkers)
	assert.Equal(t, 1, cfg.ProvisionWorkers)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, publish.DefaultRetryPolicy().MaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, big.NewInt(3600), cfg.Params.MaxStaleness)
	assert.Equal(t, big.NewInt(5000), cfg.Params.MinInvestment)

	require.Len(t, cfg.Roles, 1)
	assert.Equal(t, publish.PropertyOracle, cfg.Roles[0].Contract)
	assert.Equal(t, roles.Granted, cfg.Roles[0].State)
	assert.Len(t, cfg.RoleRules(), len(roles.DefaultTable())+1)
}

func TestLoadExplicitNetworkWins(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), "mainnet")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, uint64(8217), cfg.ChainID)
	// Top-level value, no mainnet override.
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, contracts.DefaultParams().MinInvestment, cfg.Params.MinInvestment)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":   `network = `,
		"duration": `timeout = "soon"`,
		"big":      `gas_fee_cap = "1e9"`,
		"address":  `operator = "0x1234"`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), "local")
			var cfgErr *publish.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RPC_URL", "http://node:8545")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("GAS_TIP_CAP", "7")
	t.Setenv("MANIFEST_PATH", "/tmp/m.json")
	t.Setenv("OPERATOR", "0x00000000000000000000000000000000000000c2")

	cfg := Default("local")
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.Equal(t, uint64(31337), cfg.ChainID)
	assert.Equal(t, big.NewInt(7), cfg.GasTipCap)
	assert.Equal(t, "/tmp/m.json", cfg.ManifestPath)
	assert.Equal(t, common.HexToAddress("0xc2"), cfg.Operator)

	t.Setenv("CHAIN_ID", "one")
	assert.Error(t, cfg.ApplyEnv())
}

func TestFinalize(t *testing.T) {
	cfg := Default("local")
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, "deployments/local.json", cfg.ManifestPath)

	cfg = Default("local")
	cfg.ManifestBackend = "LevelDB"
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, manifest.BackendLevelDB, cfg.ManifestBackend)
	assert.Equal(t, "deployments/local.ldb", cfg.ManifestPath)

	broken := map[string]func(c *Config){
		"no network":    func(c *Config) { c.Network = " " },
		"postgres dsn":  func(c *Config) { c.ManifestBackend = manifest.BackendPostgres },
		"backend":       func(c *Config) { c.ManifestBackend = "s3" },
		"tip over cap":  func(c *Config) { c.GasTipCap = new(big.Int).Add(c.GasFeeCap, big.NewInt(1)) },
		"zero attempts": func(c *Config) { c.Retry.Attempts = 0 },
		"workers":       func(c *Config) { c.VerifyWorkers = 0 },
		"staleness":     func(c *Config) { c.Params.MaxStaleness = big.NewInt(0) },
	}
	for name, mutate := range broken {
		t.Run(name, func(t *testing.T) {
			c := Default("local")
			mutate(&c)
			var cfgErr *publish.ConfigurationError
			assert.True(t, errors.As(c.Finalize(), &cfgErr))
		})
	}
}

func TestRequireChain(t *testing.T) {
	cfg := Default("local")
	assert.Error(t, cfg.RequireChain())
	cfg.RPCURL = "http://localhost:8545"
	assert.NoError(t, cfg.RequireChain())
}
