// Package archive stores raw session-history payloads outside the task
// table, keyed by task id. The database keeps the result the UI reads; the
// archive keeps the full payload for later inspection.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when no payload has been archived under a key.
var ErrNotFound = errors.New("not found")

type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ResultKey names the archive entry for one task's session history.
func ResultKey(taskID int64) string {
	return fmt.Sprintf("results/task-%d.json", taskID)
}

// Local is a filesystem-backed archive.
type Local struct {
	basePath string
	mu       sync.Mutex
}

func NewLocal(basePath string) (*Local, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Local{basePath: abs}, nil
}

func (a *Local) resolve(key string) string {
	return filepath.Join(a.basePath, filepath.Clean(key))
}

func (a *Local) Put(_ context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	full := a.resolve(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive temp file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize archive entry: %w", err)
	}
	return nil
}

func (a *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(a.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read archive entry %s: %w", key, err)
	}
	return data, nil
}
