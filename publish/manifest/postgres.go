package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

const createManifestTable = `
	CREATE TABLE IF NOT EXISTS deployment_manifests (
		network    TEXT PRIMARY KEY,
		manifest   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStore keeps manifests in a table keyed by network. A session-level
// advisory lock on a dedicated connection is held until Close; readers take
// the shared form of it.
type PostgresStore struct {
	pool    *pgxpool.Pool
	lockCon *pgxpool.Conn
	network string
	shared  bool
}

var _ Store = (*PostgresStore)(nil)

func OpenPostgres(ctx context.Context, dsn, network string) (*PostgresStore, error) {
	return openPostgres(ctx, dsn, network, false)
}

func OpenPostgresShared(ctx context.Context, dsn, network string) (*PostgresStore, error) {
	return openPostgres(ctx, dsn, network, true)
}

func lockQueries(shared bool) (lock, unlock string) {
	if shared {
		return `SELECT pg_try_advisory_lock_shared(hashtext($1))`, `SELECT pg_advisory_unlock_shared(hashtext($1))`
	}
	return `SELECT pg_try_advisory_lock(hashtext($1))`, `SELECT pg_advisory_unlock(hashtext($1))`
}

func openPostgres(ctx context.Context, dsn, network string, shared bool) (*PostgresStore, error) {
	if dsn == "" {
		return nil, publish.Configf("manifest dsn is required for the postgres backend")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createManifestTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create manifest table: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}
	lock, _ := lockQueries(shared)
	var locked bool
	if err := conn.QueryRow(ctx, lock, "jv-publish/"+network).Scan(&locked); err != nil {
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("failed to take manifest lock: %w", err)
	}
	if !locked {
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("%w: network %s", ErrLocked, network)
	}
	return &PostgresStore{pool: pool, lockCon: conn, network: network, shared: shared}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Manifest, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT manifest FROM deployment_manifests WHERE network = $1`, s.network).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return New(s.network), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Decode(data, s.network)
}

func (s *PostgresStore) Save(ctx context.Context, m *Manifest) error {
	if s.shared {
		return fmt.Errorf("%w: network %s", ErrReadOnly, s.network)
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin manifest tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_manifests (network, manifest, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (network) DO UPDATE SET manifest = EXCLUDED.manifest, updated_at = now()
	`, s.network, data)
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, kind publish.Kind) (bool, error) {
	return exists(ctx, s, kind)
}

func (s *PostgresStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, unlock := lockQueries(s.shared)
	_, err := s.lockCon.Exec(ctx, unlock, "jv-publish/"+s.network)
	s.lockCon.Release()
	s.pool.Close()
	return err
}
