package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps each document in its own JSON file under dir. Saves
// write to a temp file and rename so a crash mid-write leaves the
// previous document intact.
type FileStore struct {
	Store
	dir string
}

// NewFileStore opens (creating if needed) a file-backed store in dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	fs := &FileStore{dir: dir}
	fs.Store = Store{b: &fileBackend{dir: dir}}
	return fs, nil
}

type fileBackend struct {
	mu  sync.Mutex
	dir string
}

func (f *fileBackend) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *fileBackend) load(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(name))
	if os.IsNotExist(err) {
		return nil, nil // Start empty
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *fileBackend) save(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
