package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

// ErrLocked is returned when another orchestrator already holds the manifest.
var ErrLocked = errors.New("manifest: locked by another process")

// ErrReadOnly is returned by Save on a store opened with Options.Shared.
var ErrReadOnly = errors.New("manifest: opened read-only")

// Store persists one network's manifest. Implementations hold a lock from
// open until Close: exclusive for writers, so only one orchestrator mutates a
// manifest at a time, and shared for readers, which may run side by side.
type Store interface {
	// Load returns an empty manifest, not an error, when nothing was saved yet.
	Load(ctx context.Context) (*Manifest, error)
	// Save replaces the stored manifest atomically.
	Save(ctx context.Context, m *Manifest) error
	// Exists reports whether the stored manifest records kind.
	Exists(ctx context.Context, kind publish.Kind) (bool, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

type Options struct {
	Backend string
	Network string
	// Path is the JSON file or leveldb directory.
	Path string
	// DSN is the Postgres connection string.
	DSN string
	// Shared takes a reader lock. The store can be loaded but not saved.
	Shared bool
}

// Open selects a backend and takes its lock.
func Open(ctx context.Context, opts Options) (Store, error) {
	if strings.TrimSpace(opts.Network) == "" {
		return nil, publish.Configf("manifest network is required")
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		if opts.Shared {
			return OpenFileShared(opts.Path, opts.Network)
		}
		return OpenFile(opts.Path, opts.Network)
	case BackendLevelDB:
		if opts.Shared {
			return OpenLevelDBShared(opts.Path, opts.Network)
		}
		return OpenLevelDB(opts.Path, opts.Network)
	case BackendPostgres:
		if opts.Shared {
			return OpenPostgresShared(ctx, opts.DSN, opts.Network)
		}
		return OpenPostgres(ctx, opts.DSN, opts.Network)
	default:
		return nil, publish.Configf("unknown manifest backend %q", opts.Backend)
	}
}

// Encode renders the manifest in its on-disk JSON form.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a manifest and checks it belongs to network.
func Decode(data []byte, network string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Contracts == nil {
		m.Contracts = map[publish.Kind]DeployedContract{}
	}
	if network != "" && m.Network != "" && m.Network != network {
		return nil, publish.Configf("manifest belongs to network %q, not %q", m.Network, network)
	}
	if m.Network == "" {
		m.Network = network
	}
	return &m, nil
}

func exists(ctx context.Context, s Store, kind publish.Kind) (bool, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return m.Has(kind), nil
}
