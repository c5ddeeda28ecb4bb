package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/config"
	"github.com/Vaios0x/JeonseVault-sub002/publish/logging"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
	"github.com/Vaios0x/JeonseVault-sub002/publish/roles"
)

// session is everything one command needs: settings, logger, the manifest
// store (locked exclusively when signing, shared otherwise) and, when asked
// for, a chain client.
type session struct {
	cfg   config.Config
	log   zerolog.Logger
	store manifest.Store
	m     *manifest.Manifest
	chain *publish.Client

	cancel context.CancelFunc
}

type access int

const (
	offline access = iota
	readOnly
	signing
)

// open loads the config, takes the manifest lock and dials the node as far
// as mode requires. The returned context carries the --timeout deadline.
func open(c *cli.Context, mode access) (context.Context, *session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(c.App.Name, c.String(logLevelFlag.Name)).
		With().Str("network", cfg.Network).Str("command", c.Command.Name).Logger()

	ctx, cancel := context.WithTimeout(c.Context, cfg.Timeout)
	s := &session{cfg: cfg, log: log, cancel: cancel}

	if mode != offline {
		var key *ecdsa.PrivateKey
		if mode == signing {
			var signer common.Address
			key, signer, err = loadKey(c)
			if err != nil {
				s.Close()
				return nil, nil, err
			}
			log.Info().Str("signer", signer.Hex()).Msg("signing key loaded")
		}
		if s.chain, err = dial(ctx, cfg, key, log); err != nil {
			s.Close()
			return nil, nil, err
		}
	}

	// Only signing commands write the manifest; the rest share the lock.
	opts := cfg.ManifestOptions()
	opts.Shared = mode != signing
	if s.store, err = manifest.Open(ctx, opts); err != nil {
		s.Close()
		return nil, nil, err
	}
	if s.m, err = s.store.Load(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("load manifest: %w", err)
	}
	return ctx, s, nil
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close manifest store")
		}
	}
	if s.chain != nil {
		s.chain.Close()
	}
	s.cancel()
}

// table resolves the configured role rules against the manifest.
func (s *session) table() ([]roles.Assignment, error) {
	return roles.Resolve(s.cfg.RoleRules(), roles.BindingsFor(s.m, s.cfg.Operator))
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name), c.String(networkFlag.Name))
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	if c.IsSet(rpcURLFlag.Name) {
		cfg.RPCURL = c.String(rpcURLFlag.Name)
	}
	if c.IsSet(chainIDFlag.Name) {
		cfg.ChainID = c.Uint64(chainIDFlag.Name)
	}
	if c.IsSet(manifestBackendFlag.Name) {
		cfg.ManifestBackend = c.String(manifestBackendFlag.Name)
	}
	if c.IsSet(manifestFlag.Name) {
		if strings.EqualFold(strings.TrimSpace(cfg.ManifestBackend), manifest.BackendPostgres) {
			cfg.ManifestDSN = c.String(manifestFlag.Name)
		} else {
			cfg.ManifestPath = c.String(manifestFlag.Name)
		}
	}
	if c.IsSet(artifactsFlag.Name) {
		cfg.ArtifactsDir = c.String(artifactsFlag.Name)
	}
	if c.IsSet(timeoutFlag.Name) {
		cfg.Timeout = c.Duration(timeoutFlag.Name)
	}
	if err := cfg.Finalize(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadKey reads the signing key from --key-file or PRIVATE_KEY. The key is
// only ever handed to the client; errors never quote it.
func loadKey(c *cli.Context) (*ecdsa.PrivateKey, common.Address, error) {
	raw := envOr("PRIVATE_KEY", "")
	if path := c.String(keyFileFlag.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("read key file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, common.Address{}, publish.Configf("signing key required: set PRIVATE_KEY or --key-file")
	}
	return publish.ParsePrivateKey(raw)
}

// dial connects to the node. Without a configured chain id the node's own is
// used; with one, the node must agree.
func dial(ctx context.Context, cfg config.Config, key *ecdsa.PrivateKey, log zerolog.Logger) (*publish.Client, error) {
	if err := cfg.RequireChain(); err != nil {
		return nil, err
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		node, err := publish.Dial(cfg.RPCURL, 0, nil, cfg.ClientOptions())
		if err != nil {
			return nil, err
		}
		chainID, err = node.ChainID(ctx)
		node.Close()
		if err != nil {
			return nil, err
		}
	}

	client, err := publish.Dial(cfg.RPCURL, chainID, key, cfg.ClientOptions())
	if err != nil {
		return nil, err
	}
	if cfg.ChainID != 0 {
		got, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		if got != cfg.ChainID {
			client.Close()
			return nil, publish.Configf("node reports chain id %d, expected %d", got, cfg.ChainID)
		}
	}
	log.Debug().Uint64("chain_id", chainID).Msg("connected")
	return client, nil
}

func envOr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
