package user

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const fixtureDebounce = 100 * time.Millisecond

// FixtureFile is the on-disk shape of a demo user definition.
type FixtureFile struct {
	Users []*User `yaml:"users"`
}

// LoadFixtures reads a YAML user file and upserts every entry. Used for
// local and demo deployments where no identity provider sits in front of
// the server.
func LoadFixtures(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read user fixtures %s: %w", path, err)
	}
	var file FixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse user fixtures %s: %w", path, err)
	}
	for i, u := range file.Users {
		if u.ID == 0 {
			return i, fmt.Errorf("user fixture %d in %s has no id", i, path)
		}
		if u.APIToken == "" {
			return i, fmt.Errorf("user fixture %d in %s has no api_token", i, path)
		}
		if err := store.Upsert(ctx, u); err != nil {
			return i, fmt.Errorf("upsert fixture user %d: %w", u.ID, err)
		}
	}
	return len(file.Users), nil
}

// WatchFixtures reloads the fixture file whenever it changes on disk.
// The parent directory is watched rather than the file itself so that
// atomic replaces (write temp file, rename) are caught. Blocks until the
// context is canceled.
func WatchFixtures(ctx context.Context, store Store, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fixture watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.InfoContext(ctx, "watching user fixtures", "path", path)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(fixtureDebounce, func() {
				n, err := LoadFixtures(ctx, store, path)
				if err != nil {
					slog.ErrorContext(ctx, "failed to reload user fixtures", "path", path, "error", err)
					return
				}
				slog.InfoContext(ctx, "reloaded user fixtures", "path", path, "users", n)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "fixture watcher error", "error", err)
		}
	}
}
