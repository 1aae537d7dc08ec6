// Package suppress holds the ignore list and the per-address alert cooldowns.
package suppress

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/ouiprox/internal/clock"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// MinIgnoreDuration is the shortest ignore an operator may request.
const MinIgnoreDuration = time.Minute

// State is safe for concurrent use by the detection loop and the admin surface.
type State struct {
	mu        sync.Mutex
	clock     clock.Clock
	ignores   map[string]model.IgnoreEntry
	lastAlert map[string]time.Time
	cooldown  time.Duration
	retention time.Duration
}

// New creates a State. A retention shorter than the cooldown window is raised
// to the window so a live cooldown is never evicted.
func New(clk clock.Clock, cooldown, retention time.Duration) *State {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if retention < cooldown {
		retention = cooldown
	}
	return &State{
		clock:     clk,
		ignores:   make(map[string]model.IgnoreEntry),
		lastAlert: make(map[string]time.Time),
		cooldown:  cooldown,
		retention: retention,
	}
}

// Cooldown returns the alert cooldown window.
func (s *State) Cooldown() time.Duration {
	return s.cooldown
}

// AddIgnore mutes address (a full address or a 3-octet prefix) for duration.
// An existing entry is overwritten.
func (s *State) AddIgnore(address string, duration time.Duration) (model.IgnoreEntry, error) {
	address = model.NormalizeAddress(address)
	if address == "" {
		return model.IgnoreEntry{}, util.NewValidationError("mac", "address required")
	}
	if duration < MinIgnoreDuration {
		return model.IgnoreEntry{}, util.NewValidationError("duration", "must be at least 1 minute, got %s", duration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.IgnoreEntry{
		Address:   address,
		Prefix:    model.AddressPrefix(address),
		ExpiresAt: s.clock.Now().Add(duration),
	}
	s.ignores[address] = entry
	util.Info("Ignoring %s until %s", address, entry.ExpiresAt.Format("15:04:05"))
	return entry, nil
}

// IsIgnored reports whether address, or its prefix, has a live ignore entry.
func (s *State) IsIgnored(address string) bool {
	address = model.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	if _, ok := s.ignores[address]; ok {
		return true
	}
	if prefix := model.AddressPrefix(address); prefix != address {
		if _, ok := s.ignores[prefix]; ok {
			return true
		}
	}
	return false
}

// IgnoredOnLine reports whether any live entry's address or prefix appears
// anywhere in the raw capture line.
func (s *State) IgnoredOnLine(line string) bool {
	upper := strings.ToUpper(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	for _, e := range s.ignores {
		if strings.Contains(upper, e.Address) || strings.Contains(upper, e.Prefix) {
			return true
		}
	}
	return false
}

// Ignored returns the live entries, soonest expiry first.
func (s *State) Ignored() []model.IgnoreEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	out := make([]model.IgnoreEntry, 0, len(s.ignores))
	for _, e := range s.ignores {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].Address < out[j].Address
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// RemoveIgnore deletes an entry early. It reports whether one existed.
func (s *State) RemoveIgnore(address string) bool {
	address = model.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ignores[address]; !ok {
		return false
	}
	delete(s.ignores, address)
	util.Info("Ignore removed for %s", address)
	return true
}

// CanAlert checks the cooldown for address and, if it has elapsed, records
// now as the last alert. The check and the record happen under one lock.
func (s *State) CanAlert(address string) bool {
	address = model.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if last, ok := s.lastAlert[address]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastAlert[address] = now
	return true
}

// PruneCooldowns evicts cooldown records older than the retention period and
// returns how many were dropped.
func (s *State) PruneCooldowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	dropped := 0
	for addr, last := range s.lastAlert {
		if now.Sub(last) >= s.retention {
			delete(s.lastAlert, addr)
			dropped++
		}
	}
	return dropped
}

// CooldownCount returns the number of tracked cooldown records.
func (s *State) CooldownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastAlert)
}

// evictLocked drops entries whose expiry has been reached. Caller holds mu.
func (s *State) evictLocked() {
	now := s.clock.Now()
	for addr, e := range s.ignores {
		if !now.Before(e.ExpiresAt) {
			delete(s.ignores, addr)
			util.Debug("Ignore expired for %s", addr)
		}
	}
}
