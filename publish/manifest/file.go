package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
)

// FileStore keeps the manifest as a JSON file next to a <path>.lock file.
type FileStore struct {
	path    string
	network string
	lock    *flock.Flock
	shared  bool
}

var _ Store = (*FileStore)(nil)

// OpenFile takes the exclusive lock.
func OpenFile(path, network string) (*FileStore, error) {
	return openFile(path, network, false)
}

// OpenFileShared takes a reader lock: any number of readers may hold it,
// but not while a writer does.
func OpenFileShared(path, network string) (*FileStore, error) {
	return openFile(path, network, true)
}

func openFile(path, network string, shared bool) (*FileStore, error) {
	if path == "" {
		return nil, publish.Configf("manifest path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	try := lock.TryLock
	if shared {
		try = lock.TryRLock
	}
	ok, err := try()
	if err != nil {
		return nil, fmt.Errorf("lock manifest: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &FileStore{path: path, network: network, lock: lock, shared: shared}, nil
}

func (s *FileStore) Load(context.Context) (*Manifest, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(s.network), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data, s.network)
}

// Save writes a temp file in the same directory, syncs it and renames it
// over the manifest, so readers see either the old or the new file.
func (s *FileStore) Save(_ context.Context, m *Manifest) error {
	if s.shared {
		return fmt.Errorf("%w: %s", ErrReadOnly, s.path)
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, kind publish.Kind) (bool, error) {
	return exists(ctx, s, kind)
}

func (s *FileStore) Close() error {
	return s.lock.Unlock()
}
