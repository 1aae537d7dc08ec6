package watchlist

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/user/ouiprox/internal/util"
)

// Watcher triggers a reload when list files change on disk.
type Watcher struct {
	dir      string
	extra    []string
	debounce time.Duration
	reload   func()
	watcher  *fsnotify.Watcher
}

// NewWatcher watches dir (and any extra files) and calls reload after a burst
// of changes settles for debounce.
func NewWatcher(dir string, debounce time.Duration, reload func(), extra ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := util.EnsureDir(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create lists dir: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	// Files outside dir are watched through their parent directory so that
	// atomic replace-by-rename is still seen.
	for _, f := range extra {
		parent := filepath.Dir(f)
		if parent == filepath.Clean(dir) {
			continue
		}
		if err := fw.Add(parent); err != nil {
			util.Warn("Failed to watch %s: %v", parent, err)
		}
	}

	return &Watcher{
		dir:      filepath.Clean(dir),
		extra:    extra,
		debounce: debounce,
		reload:   reload,
		watcher:  fw,
	}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			util.Debug("Watchlist change: %s %s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			util.Warn("Watchlist watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(event.Name)
	if filepath.Dir(name) == w.dir {
		return true
	}
	for _, f := range w.extra {
		if name == filepath.Clean(f) {
			return true
		}
	}
	return false
}
