package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

// LevelDBStore keeps manifests in a leveldb directory, one key per network.
// leveldb's own LOCK file keeps a second writer out; read-only opens share
// it.
type LevelDBStore struct {
	db      *leveldb.DB
	network string
	shared  bool
}

var _ Store = (*LevelDBStore)(nil)

func OpenLevelDB(path, network string) (*LevelDBStore, error) {
	return openLevelDB(path, network, false)
}

// OpenLevelDBShared opens the database read-only. A database that does not
// exist yet reads as empty.
func OpenLevelDBShared(path, network string) (*LevelDBStore, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			s, err := NewLevelDB(storage.NewMemStorage(), network)
			if err != nil {
				return nil, err
			}
			s.shared = true
			return s, nil
		}
	}
	return openLevelDB(path, network, true)
}

func openLevelDB(path, network string, shared bool) (*LevelDBStore, error) {
	if path == "" {
		return nil, publish.Configf("manifest path is required")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ReadOnly: shared})
	if err != nil {
		if isLockErr(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	return &LevelDBStore{db: db, network: network, shared: shared}, nil
}

// NewLevelDB wraps an already opened database, e.g. one on memory storage.
func NewLevelDB(stor storage.Storage, network string) (*LevelDBStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	return &LevelDBStore{db: db, network: network}, nil
}

// isLockErr matches the errno of a non-blocking flock on a held LOCK file.
func isLockErr(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

func (s *LevelDBStore) key() []byte {
	return []byte("manifest/" + s.network)
}

func (s *LevelDBStore) Load(context.Context) (*Manifest, error) {
	data, err := s.db.Get(s.key(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return New(s.network), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data, s.network)
}

// Save is a single synced Put, which leveldb applies atomically.
func (s *LevelDBStore) Save(_ context.Context, m *Manifest) error {
	if s.shared {
		return ErrReadOnly
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := s.db.Put(s.key(), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *LevelDBStore) Exists(ctx context.Context, kind publish.Kind) (bool, error) {
	return exists(ctx, s, kind)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
