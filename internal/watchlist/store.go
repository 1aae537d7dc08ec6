// Package watchlist loads the operator's device lists and keeps the merged
// mapping the matcher runs against.
package watchlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// Watchlist is an immutable, insertion-ordered mapping of pattern to entry.
type Watchlist struct {
	order   []string
	entries map[string]model.WatchlistEntry
}

func newWatchlist() *Watchlist {
	return &Watchlist{entries: make(map[string]model.WatchlistEntry)}
}

// put inserts or overwrites an entry. An overwritten key keeps its position.
func (w *Watchlist) put(e model.WatchlistEntry) {
	if _, exists := w.entries[e.Pattern]; !exists {
		w.order = append(w.order, e.Pattern)
	}
	w.entries[e.Pattern] = e
}

// FromEntries builds a Watchlist from already-parsed entries.
// Later entries win on key collisions.
func FromEntries(entries []model.WatchlistEntry) *Watchlist {
	wl := newWatchlist()
	for _, e := range entries {
		wl.put(e)
	}
	return wl
}

// Len returns the number of entries.
func (w *Watchlist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.order)
}

// Get returns the entry for a pattern.
func (w *Watchlist) Get(pattern string) (model.WatchlistEntry, bool) {
	if w == nil {
		return model.WatchlistEntry{}, false
	}
	e, ok := w.entries[model.NormalizeAddress(pattern)]
	return e, ok
}

// Entries returns the entries in insertion order.
func (w *Watchlist) Entries() []model.WatchlistEntry {
	if w == nil {
		return nil
	}
	out := make([]model.WatchlistEntry, 0, len(w.order))
	for _, p := range w.order {
		out = append(out, w.entries[p])
	}
	return out
}

// ParseLine parses one record: <pattern> <quoted-or-bare-name> [action command].
// ok is false for blank lines, comments and malformed records.
func ParseLine(line string) (model.WatchlistEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return model.WatchlistEntry{}, false
	}

	sep := strings.IndexAny(line, " \t")
	if sep == -1 {
		return model.WatchlistEntry{}, false
	}

	entry := model.WatchlistEntry{Pattern: model.NormalizeAddress(line[:sep])}
	rest := strings.TrimLeft(line[sep+1:], " \t")

	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end == -1 {
			return model.WatchlistEntry{}, false
		}
		entry.Name = rest[1 : end+1]
		entry.ActionCommand = strings.TrimSpace(rest[end+2:])
	} else {
		if next := strings.IndexAny(rest, " \t"); next == -1 {
			entry.Name = rest
		} else {
			entry.Name = rest[:next]
			entry.ActionCommand = strings.TrimSpace(rest[next+1:])
		}
	}

	if entry.Name == "" {
		return model.WatchlistEntry{}, false
	}
	// An explicitly empty command is written as "".
	if entry.ActionCommand == `""` || entry.ActionCommand == `''` {
		entry.ActionCommand = ""
	}
	return entry, true
}

// Parse reads records from r, tagging each with source.
func Parse(r io.Reader, source string) ([]model.WatchlistEntry, error) {
	var entries []model.WatchlistEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		entry, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		entry.SourceList = source
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Load merges the list files at paths into a new Watchlist.
// Later paths win on key collisions. Missing files are reported and skipped.
func Load(paths []string) (*Watchlist, error) {
	wl := newWatchlist()
	var missing []string

	for _, path := range paths {
		entries, err := loadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				util.Warn("Watchlist file not found: %s", path)
				missing = append(missing, path)
				continue
			}
			util.Warn("Failed to read watchlist %s: %v", path, err)
			missing = append(missing, path)
			continue
		}
		for _, e := range entries {
			wl.put(e)
		}
	}

	if len(missing) > 0 {
		return wl, &MissingSourcesError{Paths: missing}
	}
	return wl, nil
}

func loadFile(path string) ([]model.WatchlistEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, filepath.Base(path))
}

// MissingSourcesError lists sources that could not be read. It is non-fatal;
// the accompanying Watchlist contains everything that did load.
type MissingSourcesError struct {
	Paths []string
}

func (e *MissingSourcesError) Error() string {
	return fmt.Sprintf("%d watchlist source(s) unavailable: %s", len(e.Paths), strings.Join(e.Paths, ", "))
}

// Store holds the active Watchlist and swaps it atomically on reload.
type Store struct {
	mu    sync.RWMutex
	list  *Watchlist
	paths []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{list: newWatchlist()}
}

// Current returns the active Watchlist. Callers must not mutate it.
func (s *Store) Current() *Watchlist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

// Paths returns the sources the active Watchlist was built from.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.paths...)
}

// Replace swaps in a new Watchlist built from paths.
func (s *Store) Replace(wl *Watchlist, paths []string) {
	if wl == nil {
		wl = newWatchlist()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = wl
	s.paths = append([]string(nil), paths...)
}

// Reload rebuilds the Watchlist from paths and swaps it in.
// Missing sources are logged and do not prevent the swap.
func (s *Store) Reload(paths []string) error {
	wl, err := Load(paths)
	var missing *MissingSourcesError
	if err != nil && !errors.As(err, &missing) {
		return err
	}
	s.Replace(wl, paths)
	util.Info("Loaded %d watchlist entries from %d list(s)", wl.Len(), len(paths))
	return nil
}
