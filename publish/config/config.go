// Package config loads publisher settings from a TOML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
)

type Config struct {
	Network string
	RPCURL  string
	// ChainID zero means whatever the node reports.
	ChainID uint64

	GasFeeCap      *big.Int
	GasTipCap      *big.Int
	Confirmations  uint64
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	Timeout        time.Duration
	Retry          publish.RetryPolicy

	ManifestBackend string
	ManifestPath    string
	ManifestDSN     string
	ArtifactsDir    string

	// Operator runs the day to day roles; zero means the deployer.
	Operator common.Address

	ProvisionWorkers int
	VerifyWorkers    int

	Params contracts.Params
	// Roles are appended to the default role table.
	Roles []roles.Rule
}

func Default(network string) Config {
	opts := publish.DefaultClientOptions()
	return Config{
		Network:          network,
		GasFeeCap:        opts.GasFeeCap,
		GasTipCap:        opts.GasTipCap,
		Confirmations:    opts.Confirmations,
		PollInterval:     opts.PollInterval,
		ReceiptTimeout:   opts.ReceiptTimeout,
		Timeout:          30 * time.Minute,
		Retry:            opts.Retry,
		ManifestBackend:  manifest.BackendFile,
		ArtifactsDir:     "artifacts",
		ProvisionWorkers: 1,
		VerifyWorkers:    4,
		Params:           contracts.DefaultParams(),
	}
}

// ClientOptions maps the settings onto the chain client.
func (c Config) ClientOptions() publish.ClientOptions {
	return publish.ClientOptions{
		GasFeeCap:      c.GasFeeCap,
		GasTipCap:      c.GasTipCap,
		Retry:          c.Retry,
		Confirmations:  c.Confirmations,
		PollInterval:   c.PollInterval,
		ReceiptTimeout: c.ReceiptTimeout,
	}
}

func (c Config) ManifestOptions() manifest.Options {
	return manifest.Options{
		Backend: c.ManifestBackend,
		Network: c.Network,
		Path:    c.ManifestPath,
		DSN:     c.ManifestDSN,
	}
}

// RoleRules is the default table followed by the configured extras.
func (c Config) RoleRules() []roles.Rule {
	return append(roles.DefaultTable(), c.Roles...)
}

// settings is one level of the file: the top level or a [networks.<name>]
// table. Durations and big numbers are strings.
type settings struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          uint64 `toml:"chain_id"`
	GasFeeCap        string `toml:"gas_fee_cap"`
	GasTipCap        string `toml:"gas_tip_cap"`
	Confirmations    uint64 `toml:"confirmations"`
	PollInterval     string `toml:"poll_interval"`
	ReceiptTimeout   string `toml:"receipt_timeout"`
	Timeout          string `toml:"timeout"`
	ManifestBackend  string `toml:"manifest_backend"`
	ManifestPath     string `toml:"manifest_path"`
	ManifestDSN      string `toml:"manifest_dsn"`
	ArtifactsDir     string `toml:"artifacts_dir"`
	Operator         string `toml:"operator"`
	ProvisionWorkers int    `toml:"provision_workers"`
	VerifyWorkers    int    `toml:"verify_workers"`

	Retry struct {
		Attempts     int    `toml:"attempts"`
		InitialDelay string `toml:"initial_delay"`
		MaxDelay     string `toml:"max_delay"`
		CallTimeout  string `toml:"call_timeout"`
	} `toml:"retry"`
	Oracle struct {
		MaxStaleness string `toml:"max_staleness"`
	} `toml:"oracle"`
	Pool struct {
		MinInvestment string `toml:"min_investment"`
	} `toml:"pool"`

	Roles []roles.Rule `toml:"roles"`
}

type fileConfig struct {
	Network string `toml:"network"`
	settings
	Networks map[string]settings `toml:"networks"`
}

// Load reads path (if set) onto the defaults. network picks the
// [networks.<name>] table; empty means the file's top-level network key.
func Load(path, network string) (Config, error) {
	cfg := Default(network)
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, &publish.ConfigurationError{Msg: "load config " + path, Err: err}
	}
	if cfg.Network == "" && meta.IsDefined("network") {
		cfg.Network = strings.TrimSpace(raw.Network)
	}
	if err := overlay(&cfg, raw.settings, meta); err != nil {
		return Config{}, err
	}
	if cfg.Network != "" {
		if nw, ok := raw.Networks[cfg.Network]; ok {
			if err := overlay(&cfg, nw, meta, "networks", cfg.Network); err != nil {
				return Config{}, err
			}
		}
	}
	return cfg, nil
}

func overlay(cfg *Config, raw settings, meta toml.MetaData, prefix ...string) error {
	defined := func(key ...string) bool {
		return meta.IsDefined(append(append([]string(nil), prefix...), key...)...)
	}
	var err error
	if defined("rpc_url") {
		cfg.RPCURL = strings.TrimSpace(raw.RPCURL)
	}
	if defined("chain_id") {
		cfg.ChainID = raw.ChainID
	}
	if defined("gas_fee_cap") {
		if cfg.GasFeeCap, err = parseBig("gas_fee_cap", raw.GasFeeCap); err != nil {
			return err
		}
	}
	if defined("gas_tip_cap") {
		if cfg.GasTipCap, err = parseBig("gas_tip_cap", raw.GasTipCap); err != nil {
			return err
		}
	}
	if defined("confirmations") {
		cfg.Confirmations = raw.Confirmations
	}
	if defined("poll_interval") {
		if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval); err != nil {
			return err
		}
	}
	if defined("receipt_timeout") {
		if cfg.ReceiptTimeout, err = parseDuration("receipt_timeout", raw.ReceiptTimeout); err != nil {
			return err
		}
	}
	if defined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return err
		}
	}
	if defined("manifest_backend") {
		cfg.ManifestBackend = strings.TrimSpace(raw.ManifestBackend)
	}
	if defined("manifest_path") {
		cfg.ManifestPath = strings.TrimSpace(raw.ManifestPath)
	}
	if defined("manifest_dsn") {
		cfg.ManifestDSN = strings.TrimSpace(raw.ManifestDSN)
	}
	if defined("artifacts_dir") {
		cfg.ArtifactsDir = strings.TrimSpace(raw.ArtifactsDir)
	}
	if defined("operator") {
		if cfg.Operator, err = parseAddress("operator", raw.Operator); err != nil {
			return err
		}
	}
	if defined("provision_workers") {
		cfg.ProvisionWorkers = raw.ProvisionWorkers
	}
	if defined("verify_workers") {
		cfg.VerifyWorkers = raw.VerifyWorkers
	}

	if defined("retry", "attempts") {
		cfg.Retry.Attempts = raw.Retry.Attempts
	}
	if defined("retry", "initial_delay") {
		if cfg.Retry.InitialDelay, err = parseDuration("retry.initial_delay", raw.Retry.InitialDelay); err != nil {
			return err
		}
	}
	if defined("retry", "max_delay") {
		if cfg.Retry.MaxDelay, err = parseDuration("retry.max_delay", raw.Retry.MaxDelay); err != nil {
			return err
		}
	}
	if defined("retry", "call_timeout") {
		if cfg.Retry.CallTimeout, err = parseDuration("retry.call_timeout", raw.Retry.CallTimeout); err != nil {
			return err
		}
	}

	if defined("oracle", "max_staleness") {
		if cfg.Params.MaxStaleness, err = parseBig("oracle.max_staleness", raw.Oracle.MaxStaleness); err != nil {
			return err
		}
	}
	if defined("pool", "min_investment") {
		if cfg.Params.MinInvestment, err = parseBig("pool.min_investment", raw.Pool.MinInvestment); err != nil {
			return err
		}
	}
	if defined("roles") {
		cfg.Roles = append(cfg.Roles, raw.Roles...)
	}
	return nil
}

// ApplyEnv overlays the environment the way the publisher always read it.
func (c *Config) ApplyEnv() error {
	var err error
	if v := envOr("RPC_URL", ""); v != "" {
		c.RPCURL = v
	}
	if v := envOr("CHAIN_ID", ""); v != "" {
		if c.ChainID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return publish.Configf("CHAIN_ID: %v", err)
		}
	}
	if v := envOr("GAS_FEE_CAP", ""); v != "" {
		if c.GasFeeCap, err = parseBig("GAS_FEE_CAP", v); err != nil {
			return err
		}
	}
	if v := envOr("GAS_TIP_CAP", ""); v != "" {
		if c.GasTipCap, err = parseBig("GAS_TIP_CAP", v); err != nil {
			return err
		}
	}
	c.ManifestPath = envOr("MANIFEST_PATH", c.ManifestPath)
	c.ManifestDSN = envOr("MANIFEST_DSN", c.ManifestDSN)
	c.ArtifactsDir = envOr("ARTIFACTS_DIR", c.ArtifactsDir)
	if v := envOr("OPERATOR", ""); v != "" {
		if c.Operator, err = parseAddress("OPERATOR", v); err != nil {
			return err
		}
	}
	return nil
}

// Finalize fills derived defaults and validates the result.
func (c *Config) Finalize() error {
	c.Network = strings.TrimSpace(c.Network)
	if c.Network == "" {
		return publish.Configf("network is required")
	}
	backend := strings.ToLower(strings.TrimSpace(c.ManifestBackend))
	switch backend {
	case "", manifest.BackendFile:
		c.ManifestBackend = manifest.BackendFile
		if c.ManifestPath == "" {
			c.ManifestPath = "deployments/" + c.Network + ".json"
		}
	case manifest.BackendLevelDB:
		c.ManifestBackend = backend
		if c.ManifestPath == "" {
			c.ManifestPath = "deployments/" + c.Network + ".ldb"
		}
	case manifest.BackendPostgres:
		c.ManifestBackend = backend
		if c.ManifestDSN == "" {
			return publish.Configf("manifest_dsn is required for the postgres backend")
		}
	default:
		return publish.Configf("unknown manifest backend %q", c.ManifestBackend)
	}

	if c.GasFeeCap == nil || c.GasFeeCap.Sign() <= 0 {
		return publish.Configf("gas fee cap must be positive")
	}
	if c.GasTipCap == nil || c.GasTipCap.Sign() < 0 || c.GasTipCap.Cmp(c.GasFeeCap) > 0 {
		return publish.Configf("gas tip cap must be between 0 and the fee cap")
	}
	if c.Confirmations == 0 {
		c.Confirmations = 1
	}
	if c.Timeout <= 0 {
		return publish.Configf("timeout must be positive")
	}
	if c.Retry.Attempts < 1 {
		return publish.Configf("retry attempts must be at least 1")
	}
	if c.ProvisionWorkers < 1 || c.VerifyWorkers < 1 {
		return publish.Configf("worker counts must be at least 1")
	}
	if c.Params.MaxStaleness == nil || c.Params.MaxStaleness.Sign() <= 0 {
		return publish.Configf("oracle.max_staleness must be positive")
	}
	if c.Params.MinInvestment == nil || c.Params.MinInvestment.Sign() < 0 {
		return publish.Configf("pool.min_investment must not be negative")
	}
	return nil
}

// RequireChain checks the settings needed to talk to a node.
func (c Config) RequireChain() error {
	if c.RPCURL == "" {
		return publish.Configf("rpc url is required (--rpc-url, RPC_URL or rpc_url)")
	}
	return nil
}

func parseBig(name, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok {
		return nil, publish.Configf("%s: not an integer: %q", name, v)
	}
	return n, nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, publish.Configf("%s: %v", name, err)
	}
	return d, nil
}

func parseAddress(name, v string) (common.Address, error) {
	if strings.TrimSpace(v) == "" {
		return common.Address{}, nil
	}
	a, err := publish.ParseAddress(v)
	if err != nil {
		return common.Address{}, publish.Configf("%s: %v", name, err)
	}
	return a, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
