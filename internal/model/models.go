// Package model defines core data structures for ouiprox.
package model

import (
	"strings"
	"time"
)

// Address lengths in their colon-delimited text form.
const (
	FullAddressLen   = 17 // AA:BB:CC:DD:EE:FF
	PrefixAddressLen = 8  // AA:BB:CC
)

// UnknownChannel is reported when a capture row carries no channel.
const UnknownChannel = "unknown"

// PatternKind classifies a watchlist pattern.
type PatternKind int

const (
	PatternInvalid PatternKind = iota
	PatternFull
	PatternPrefix
)

// NormalizeAddress upper-cases an address and uses colons as the delimiter.
func NormalizeAddress(addr string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(addr)), "-", ":")
}

// AddressPrefix returns the leading three octets of a normalized address.
func AddressPrefix(addr string) string {
	if len(addr) < PrefixAddressLen {
		return addr
	}
	return addr[:PrefixAddressLen]
}

// WatchlistEntry is one device or manufacturer prefix being watched for.
type WatchlistEntry struct {
	Pattern       string `json:"pattern"`
	Name          string `json:"name"`
	ActionCommand string `json:"action_command,omitempty"`
	SourceList    string `json:"source_list"`
}

// Kind reports whether the pattern names one device or a whole prefix.
func (e WatchlistEntry) Kind() PatternKind {
	switch len(e.Pattern) {
	case FullAddressLen:
		return PatternFull
	case PrefixAddressLen:
		return PatternPrefix
	default:
		return PatternInvalid
	}
}

// IgnoreEntry temporarily mutes alerts for an address or prefix.
type IgnoreEntry struct {
	Address   string    `json:"address"`
	Prefix    string    `json:"oui"`
	ExpiresAt time.Time `json:"expires"`
}

// IgnoreScope selects how far an ignore entry reaches inside a capture line.
type IgnoreScope string

const (
	// IgnoreAddress suppresses only the ignored device (or prefix).
	IgnoreAddress IgnoreScope = "address"
	// IgnoreLine suppresses every match on a line that mentions an ignored device.
	IgnoreLine IgnoreScope = "line"
)

// CaptureCandidate is one address found in a row of capture output.
type CaptureCandidate struct {
	RawAddress   string   `json:"raw_address"`
	Channel      string   `json:"channel"`
	VendorFields []string `json:"vendor_fields,omitempty"`
}

// Match is a qualifying, cooldown-eligible watchlist hit.
type Match struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	ActionCommand string `json:"action_command,omitempty"`
	SourceList    string `json:"source_list"`
	Channel       string `json:"channel"`
}

// DetectionEvent is the durable record of one alert.
type DetectionEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Address    string    `json:"mac"`
	Name       string    `json:"name"`
	SourceList string    `json:"list"`
	Channel    string    `json:"channel"`
}

// Phase is the detection controller's position in its cycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLaunching Phase = "launching"
	PhaseCapturing Phase = "capturing"
	PhaseDraining  Phase = "draining"
	PhaseMatching  Phase = "matching"
)

// CapturePlan is the band and channel selection resolved for one cycle.
type CapturePlan struct {
	Interface      string        `json:"interface"`
	BandMode       string        `json:"band_mode"`
	Channels       []string      `json:"channels"`
	CaptureSeconds int           `json:"capture_time"`
	Duration       time.Duration `json:"-"`
}

// Empty reports whether the plan selects no channels at all.
func (p CapturePlan) Empty() bool {
	return len(p.Channels) == 0
}

// CycleState is owned by the detection controller.
type CycleState struct {
	CycleCount            int64     `json:"cycle_count"`
	Paused                bool      `json:"paused"`
	InterfaceHealthy      bool      `json:"interface_status"`
	ConsecutiveErrorCount int       `json:"consecutive_errors"`
	LastErrorAt           time.Time `json:"last_error_at,omitempty"`
	LastError             string    `json:"last_error,omitempty"`
	Phase                 Phase     `json:"phase"`
	Recoveries            int       `json:"recoveries"`
	Detections            int64     `json:"detections"`
}

// Status is a read-only snapshot exposed to the admin surface.
type Status struct {
	CycleState
	Plan      CapturePlan `json:"config"`
	StartedAt time.Time   `json:"started_at"`
	Watchlist int         `json:"watchlist_entries"`
	Ignored   int         `json:"ignored"`
}

// DeviceSummary aggregates every alert for one address.
type DeviceSummary struct {
	Address     string    `json:"mac"`
	Name        string    `json:"name"`
	SourceList  string    `json:"list"`
	LastChannel string    `json:"last_channel"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Count       int       `json:"count"`
}

// IncidentType classifies a controller incident.
type IncidentType string

const (
	IncidentCycleError   IncidentType = "cycle_error"
	IncidentRecovery     IncidentType = "recovery"
	IncidentRestart      IncidentType = "restart"
	IncidentSetupFailure IncidentType = "setup_failure"
)

// Incident is a recorded fault or recovery in the detection loop.
type Incident struct {
	ID        int64        `json:"id"`
	Type      IncidentType `json:"type"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}
