package corpus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Corpus is the read-mostly holder of the current department snapshot.
// Readers take a snapshot once per decision; Reload swaps the pointer
// atomically so a reload is never observed mid-decision.
type Corpus struct {
	loader  Loader
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// New creates a corpus and performs the initial load.
func New(ctx context.Context, loader Loader) (*Corpus, error) {
	c := &Corpus{loader: loader}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Snapshot returns the current corpus snapshot.
func (c *Corpus) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload loads profiles from the loader and publishes a new snapshot.
// On load failure the previous snapshot stays in place.
func (c *Corpus) Reload(ctx context.Context) error {
	profiles, err := c.loader.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	snap := NewSnapshot(c.version.Add(1), profiles)
	c.current.Store(snap)
	slog.Info("corpus loaded",
		"version", snap.Version(),
		"departments", snap.Len())
	return nil
}

// Watch reloads the corpus when the file at path changes. It returns a stop
// function. Editors often replace files via rename, so Create events on the
// watched path trigger a reload too.
func (c *Corpus) Watch(ctx context.Context, path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		// Debounce bursts of write events from a single save.
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					pending = time.After(200 * time.Millisecond)
				}
			case <-pending:
				pending = nil
				if err := c.Reload(ctx); err != nil {
					slog.Warn("corpus reload failed, keeping previous snapshot", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("corpus watcher error", "error", err)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
