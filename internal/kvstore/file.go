package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// StoreFileName is the name of the file holding all keys
	StoreFileName = "store.json"

	lockRetryDelay = 50 * time.Millisecond
)

// fileStore implements Store as a single JSON document on local disk.
// Writes take an advisory file lock so that several processes sharing the
// directory (for example `serve` and a one-off `generate`) do not lose updates.
type fileStore struct {
	basePath string
	lock     *flock.Flock

	mu sync.Mutex
}

// NewFileStore creates a file-backed store rooted at basePath
func NewFileStore(basePath string) (Store, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory '%s': %w", basePath, err)
	}
	return &fileStore{
		basePath: basePath,
		lock:     flock.New(filepath.Join(basePath, StoreFileName+".lock")),
	}, nil
}

func (f *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := f.withLock(ctx, false, func(data map[string][]byte) (bool, error) {
		raw, ok := data[key]
		if !ok {
			return false, ErrNotFound
		}
		value = raw
		return false, nil
	})
	return value, err
}

func (f *fileStore) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	return f.withLock(ctx, true, func(data map[string][]byte) (bool, error) {
		data[key] = stored
		return true, nil
	})
}

func (f *fileStore) Delete(ctx context.Context, key string) error {
	return f.withLock(ctx, true, func(data map[string][]byte) (bool, error) {
		if _, ok := data[key]; !ok {
			return false, nil
		}
		delete(data, key)
		return true, nil
	})
}

func (f *fileStore) DeletePrefix(ctx context.Context, prefix string) error {
	return f.withLock(ctx, true, func(data map[string][]byte) (bool, error) {
		changed := false
		for key := range data {
			if strings.HasPrefix(key, prefix) {
				delete(data, key)
				changed = true
			}
		}
		return changed, nil
	})
}

// withLock loads the document under the file lock, applies fn and persists the
// result when fn reports a change
func (f *fileStore) withLock(
	ctx context.Context,
	exclusive bool,
	fn func(data map[string][]byte) (bool, error),
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = f.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock store: lock not acquired")
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	data, err := f.load()
	if err != nil {
		return err
	}

	changed, err := fn(data)
	if err != nil || !changed {
		return err
	}
	return f.save(data)
}

func (f *fileStore) load() (map[string][]byte, error) {
	filePath := filepath.Join(f.basePath, StoreFileName)

	// #nosec G304 -- filePath is built from the configured storage directory
	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string][]byte), nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	data := make(map[string][]byte)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store file: %w", err)
	}
	return data, nil
}

func (f *fileStore) save(data map[string][]byte) error {
	filePath := filepath.Join(f.basePath, StoreFileName)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to write temporary store file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename store file: %w", err)
	}
	return nil
}
