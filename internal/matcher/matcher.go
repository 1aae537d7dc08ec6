// Package matcher resolves capture records against the watchlist.
package matcher

import (
	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/suppress"
	"github.com/user/ouiprox/internal/watchlist"
)

// Matcher applies ignore rules, pattern matching and the cooldown gate.
type Matcher struct {
	state *suppress.State
	scope model.IgnoreScope
}

// New creates a Matcher. An empty scope means address-level suppression.
func New(state *suppress.State, scope model.IgnoreScope) *Matcher {
	if scope == "" {
		scope = model.IgnoreAddress
	}
	return &Matcher{state: state, scope: scope}
}

// Scope returns the configured ignore scope.
func (m *Matcher) Scope() model.IgnoreScope {
	return m.scope
}

// MatchLine returns every cooldown-eligible watchlist hit on one record,
// in watchlist order.
func (m *Matcher) MatchLine(rec capture.Record, wl *watchlist.Watchlist) []model.Match {
	if len(rec.Candidates) == 0 || wl.Len() == 0 {
		return nil
	}
	if m.scope == model.IgnoreLine && m.state.IgnoredOnLine(rec.Raw) {
		return nil
	}

	addrs := rec.Addresses()
	channel := rec.Channel()

	var matches []model.Match
	for _, entry := range wl.Entries() {
		switch entry.Kind() {
		case model.PatternFull:
			if !contains(addrs, entry.Pattern) {
				continue
			}
			if m.scope == model.IgnoreAddress && m.state.IsIgnored(entry.Pattern) {
				continue
			}
			if !m.state.CanAlert(entry.Pattern) {
				continue
			}
			matches = append(matches, newMatch(entry, entry.Pattern, channel))

		case model.PatternPrefix:
			for _, addr := range addrs {
				if model.AddressPrefix(addr) != entry.Pattern {
					continue
				}
				if m.scope == model.IgnoreAddress && m.state.IsIgnored(addr) {
					continue
				}
				if !m.state.CanAlert(addr) {
					continue
				}
				matches = append(matches, newMatch(entry, addr, channel))
			}
		}
	}
	return matches
}

// Match runs MatchLine over every record and prunes stale cooldowns.
func (m *Matcher) Match(records []capture.Record, wl *watchlist.Watchlist) []model.Match {
	var all []model.Match
	for _, rec := range records {
		all = append(all, m.MatchLine(rec, wl)...)
	}
	m.state.PruneCooldowns()
	return all
}

func newMatch(e model.WatchlistEntry, addr, channel string) model.Match {
	return model.Match{
		Name:          e.Name,
		Address:       addr,
		ActionCommand: e.ActionCommand,
		SourceList:    e.SourceList,
		Channel:       channel,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
