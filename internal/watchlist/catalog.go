package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// ErrListExists is returned when creating a list that already exists.
var ErrListExists = errors.New("list already exists")

// ErrDeviceNotFound is returned when removing an address no active list holds.
var ErrDeviceNotFound = errors.New("device not found in any list")

// ListsStatus records which list files feed the watchlist.
type ListsStatus struct {
	Active   []string `json:"active"`
	Inactive []string `json:"inactive"`
}

func (s ListsStatus) equal(o ListsStatus) bool {
	return sameNames(s.Active, o.Active) && sameNames(s.Inactive, o.Inactive)
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Catalog manages the list directory and the active/inactive selection.
type Catalog struct {
	dir        string
	configPath string
	mu         sync.Mutex
}

// NewCatalog creates a catalog over dir, persisting selection to configPath.
func NewCatalog(dir, configPath string) *Catalog {
	return &Catalog{dir: dir, configPath: configPath}
}

// Dir returns the list directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Available returns the names of all list files in the directory.
func (c *Catalog) Available() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lists dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Status reconciles the saved selection with the directory contents and
// persists the result if it changed. New lists start inactive; vanished lists
// are dropped. The config file is watched, so an unchanged selection must not
// be rewritten.
func (c *Catalog) Status() (ListsStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	saved, err := c.readConfig()
	if err != nil {
		return ListsStatus{}, err
	}
	status, err := c.reconcile(toSet(saved.Active))
	if err != nil {
		return ListsStatus{}, err
	}
	if status.equal(saved) && util.FileExists(c.configPath) {
		return status, nil
	}
	return status, c.writeConfig(status)
}

// ActivePaths returns full paths of the active lists.
func (c *Catalog) ActivePaths() ([]string, error) {
	status, err := c.Status()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(status.Active))
	for _, name := range status.Active {
		paths = append(paths, filepath.Join(c.dir, name))
	}
	return paths, nil
}

// SetActive marks a list active or inactive.
func (c *Catalog) SetActive(name string, active bool) error {
	if err := validateListName(name); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	saved, err := c.readConfig()
	if err != nil {
		return err
	}
	set := toSet(saved.Active)
	if active {
		if !util.FileExists(filepath.Join(c.dir, name)) {
			return util.NewValidationError("name", "list %q does not exist", name)
		}
		set[name] = true
	} else {
		delete(set, name)
	}

	status, err := c.reconcile(set)
	if err != nil {
		return err
	}
	return c.writeConfig(status)
}

// Activate replaces the selection with exactly names.
func (c *Catalog) Activate(names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.reconcile(toSet(names))
	if err != nil {
		return err
	}
	return c.writeConfig(status)
}

// Create makes a new, empty, active list.
func (c *Catalog) Create(name string) error {
	if err := validateListName(name); err != nil {
		return err
	}
	if err := util.EnsureDir(c.dir); err != nil {
		return fmt.Errorf("failed to create lists dir: %w", err)
	}

	path := filepath.Join(c.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrListExists
		}
		return fmt.Errorf("failed to create list: %w", err)
	}
	f.Close()

	return c.SetActive(name, true)
}

// AddDevice appends a record to list.
func (c *Catalog) AddDevice(list, address, name, command string) error {
	if err := validateListName(list); err != nil {
		return err
	}
	address = model.NormalizeAddress(address)
	entry := model.WatchlistEntry{Pattern: address}
	if entry.Kind() == model.PatternInvalid {
		return util.NewValidationError("mac", "%q is neither a full address nor a 3-octet prefix", address)
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, `"`) {
		return util.NewValidationError("name", "must be non-empty and contain no quotes")
	}

	path := filepath.Join(c.dir, list)
	if !util.FileExists(path) {
		return util.NewValidationError("list", "list %q does not exist", list)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open list: %w", err)
	}
	defer f.Close()

	record := fmt.Sprintf("%s \"%s\" %s", address, name, strings.TrimSpace(command))
	if _, err := fmt.Fprintln(f, strings.TrimRight(record, " ")); err != nil {
		return fmt.Errorf("failed to append to list: %w", err)
	}
	util.Info("Added %s (%s) to %s", address, name, list)
	return nil
}

// RemoveDevice deletes records keyed by address from every active list.
// For a full address, a record keyed by its 3-octet prefix is removed too.
func (c *Catalog) RemoveDevice(address string) error {
	address = model.NormalizeAddress(address)
	if address == "" {
		return util.NewValidationError("mac", "address required")
	}
	targets := map[string]bool{address: true}
	if len(address) == model.FullAddressLen {
		targets[model.AddressPrefix(address)] = true
	}

	paths, err := c.ActivePaths()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	for _, path := range paths {
		n, err := removeFromFile(path, targets)
		if err != nil {
			util.Warn("Failed to update %s: %v", path, err)
			continue
		}
		if n > 0 {
			util.Info("Removed %d record(s) for %s from %s", n, address, filepath.Base(path))
			removed = true
		}
	}
	if !removed {
		return ErrDeviceNotFound
	}
	return nil
}

func removeFromFile(path string, targets map[string]bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	lines := strings.SplitAfter(string(data), "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) > 0 && targets[model.NormalizeAddress(fields[0])] {
			removed++
			continue
		}
		kept = append(kept, line)
	}

	if removed == 0 {
		return 0, nil
	}
	return removed, os.WriteFile(path, []byte(strings.Join(kept, "")), 0644)
}

func (c *Catalog) reconcile(active map[string]bool) (ListsStatus, error) {
	available, err := c.Available()
	if err != nil {
		return ListsStatus{}, err
	}

	status := ListsStatus{Active: []string{}, Inactive: []string{}}
	for _, name := range available {
		if active[name] {
			status.Active = append(status.Active, name)
		} else {
			status.Inactive = append(status.Inactive, name)
		}
	}
	return status, nil
}

func (c *Catalog) readConfig() (ListsStatus, error) {
	var status ListsStatus
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return status, nil
		}
		return status, fmt.Errorf("failed to read lists config: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("failed to parse lists config: %w", err)
	}
	return status, nil
}

func (c *Catalog) writeConfig(status ListsStatus) error {
	if err := util.EnsureDir(filepath.Dir(c.configPath)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configPath, data, 0644)
}

func validateListName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return util.NewValidationError("name", "invalid list name %q", name)
	}
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
