// Package settings holds the runtime capture settings the admin surface edits
// and the detection loop re-reads at the start of every cycle.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// Band modes understood by the capture tool's --band flag.
const (
	Band2GHz = "g"
	Band5GHz = "a"
	BandBoth = "abg"
)

// Settings is the operator-editable capture configuration.
type Settings struct {
	Interface              string `mapstructure:"interface" json:"interface"`
	CaptureDurationSeconds int    `mapstructure:"capture_duration_seconds" json:"capture_duration_seconds"`
	Band2Enabled           bool   `mapstructure:"band2_enabled" json:"band2_enabled"`
	Band5Enabled           bool   `mapstructure:"band5_enabled" json:"band5_enabled"`
	Channels2              []int  `mapstructure:"channels2" json:"channels2"`
	Channels5              []int  `mapstructure:"channels5" json:"channels5"`
}

// Defaults returns the built-in settings used when no source is available.
func Defaults() Settings {
	return Settings{
		Interface:              "wlan1mon",
		CaptureDurationSeconds: 13,
		Band2Enabled:           true,
		Band5Enabled:           false,
		Channels2:              []int{1, 6, 11},
		Channels5:              []int{44, 52, 100, 149, 157, 161},
	}
}

// Validate rejects settings that select nothing to scan or an invalid duration.
func (s Settings) Validate() error {
	if s.Interface == "" {
		return util.NewValidationError("interface", "must not be empty")
	}
	if s.CaptureDurationSeconds < 1 {
		return util.NewValidationError("capture_duration_seconds", "must be at least 1, got %d", s.CaptureDurationSeconds)
	}
	if !s.Band2Enabled && !s.Band5Enabled {
		return util.NewValidationError("band", "at least one band (2.4GHz or 5GHz) must be enabled")
	}
	if s.Band2Enabled && len(s.Channels2) == 0 {
		return util.NewValidationError("channels2", "2.4GHz band is enabled but has no channels")
	}
	if s.Band5Enabled && len(s.Channels5) == 0 {
		return util.NewValidationError("channels5", "5GHz band is enabled but has no channels")
	}
	for _, ch := range s.Channels2 {
		if ch < 1 || ch > 14 {
			return util.NewValidationError("channels2", "channel %d is outside 1-14", ch)
		}
	}
	for _, ch := range s.Channels5 {
		if ch < 32 || ch > 177 {
			return util.NewValidationError("channels5", "channel %d is outside 32-177", ch)
		}
	}
	return nil
}

// Plan resolves the band mode and channel list for one capture cycle.
// A plan with no channels is a valid idle state, not an error.
func (s Settings) Plan() model.CapturePlan {
	plan := model.CapturePlan{
		Interface:      s.Interface,
		CaptureSeconds: s.CaptureDurationSeconds,
		Duration:       time.Duration(s.CaptureDurationSeconds) * time.Second,
	}

	if s.Band2Enabled {
		for _, ch := range s.Channels2 {
			plan.Channels = append(plan.Channels, strconv.Itoa(ch))
		}
	}
	if s.Band5Enabled {
		for _, ch := range s.Channels5 {
			plan.Channels = append(plan.Channels, strconv.Itoa(ch))
		}
	}

	switch {
	case s.Band2Enabled && s.Band5Enabled:
		plan.BandMode = BandBoth
	case s.Band5Enabled:
		plan.BandMode = Band5GHz
	case s.Band2Enabled:
		plan.BandMode = Band2GHz
	}

	if plan.BandMode == "" {
		plan.Channels = nil
	}
	return plan
}

// Source reads and replaces the settings record.
type Source interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileSource persists settings as YAML. An absent file yields Defaults.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource creates a settings source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (f *FileSource) Path() string {
	return f.path
}

// Load reads the settings file. Missing keys fall back to Defaults.
func (f *FileSource) Load() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}

	v := newViper(Defaults())
	v.SetConfigFile(f.path)
	if err := v.ReadInConfig(); err != nil {
		return Defaults(), fmt.Errorf("failed to read settings: %w", err)
	}
	// Decode into a zero value: mapstructure overwrites slices in place and
	// would keep trailing default channels. Missing keys come from SetDefault.
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Defaults(), fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

// Save validates and writes the settings file.
func (f *FileSource) Save(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := util.EnsureDir(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}

	v := newViper(s)
	v.Set("interface", s.Interface)
	v.Set("capture_duration_seconds", s.CaptureDurationSeconds)
	v.Set("band2_enabled", s.Band2Enabled)
	v.Set("band5_enabled", s.Band5Enabled)
	v.Set("channels2", s.Channels2)
	v.Set("channels5", s.Channels5)
	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func newViper(defaults Settings) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("interface", defaults.Interface)
	v.SetDefault("capture_duration_seconds", defaults.CaptureDurationSeconds)
	v.SetDefault("band2_enabled", defaults.Band2Enabled)
	v.SetDefault("band5_enabled", defaults.Band5Enabled)
	v.SetDefault("channels2", defaults.Channels2)
	v.SetDefault("channels5", defaults.Channels5)
	return v
}

// MemorySource keeps settings in memory. Used when no file is configured.
type MemorySource struct {
	mu sync.RWMutex
	s  Settings
}

// NewMemorySource creates an in-memory source seeded with s.
func NewMemorySource(s Settings) *MemorySource {
	return &MemorySource{s: s}
}

// Load returns the current settings.
func (m *MemorySource) Load() (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, nil
}

// Save validates and replaces the settings.
func (m *MemorySource) Save(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
