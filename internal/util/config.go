// Package util provides configuration, logging and error helpers for ouiprox.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	Verbose  bool   `mapstructure:"verbose"`

	// Watchlists and runtime settings
	ListsDir        string `mapstructure:"lists_dir"`
	ListsConfigFile string `mapstructure:"lists_config_file"`
	SettingsFile    string `mapstructure:"settings_file"`
	DetectionLog    string `mapstructure:"detection_log"`

	// Capture tool
	CaptureTool    string        `mapstructure:"capture_tool"`
	UseSudo        bool          `mapstructure:"use_sudo"`
	OutputPrefix   string        `mapstructure:"output_prefix"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`

	// Interface control
	BaseInterface       string        `mapstructure:"base_interface"`
	SpoofMAC            string        `mapstructure:"spoof_mac"`
	InterfaceSettle     time.Duration `mapstructure:"interface_settle"`
	SetupFailureCommand string        `mapstructure:"setup_failure_command"`

	// Suppression
	AlertCooldown     time.Duration `mapstructure:"alert_cooldown"`
	CooldownRetention time.Duration `mapstructure:"cooldown_retention"`
	IgnoreScope       string        `mapstructure:"ignore_scope"`

	// Detection loop cadence and recovery policy
	HealthCheckEvery int           `mapstructure:"health_check_every"`
	RestartEvery     int           `mapstructure:"restart_every"`
	ErrorThreshold   int           `mapstructure:"error_threshold"`
	StabilityWindow  time.Duration `mapstructure:"stability_window"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
	CycleGap         time.Duration `mapstructure:"cycle_gap"`
	PausePoll        time.Duration `mapstructure:"pause_poll"`
	SetupRetryDelay  time.Duration `mapstructure:"setup_retry_delay"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`

	// Admin surface
	WebListen   string `mapstructure:"web_listen"`
	EventBuffer int    `mapstructure:"event_buffer"`

	// Report settings
	ReportOutputDir string `mapstructure:"report_output_dir"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".ouiprox")

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "ouiprox.log"),

		ListsDir:        filepath.Join(dataDir, "list"),
		ListsConfigFile: filepath.Join(dataDir, "lists_config.json"),
		SettingsFile:    filepath.Join(dataDir, "settings.yaml"),
		DetectionLog:    filepath.Join(dataDir, "detected_macs.log"),

		CaptureTool:    "airodump-ng",
		UseSudo:        false,
		OutputPrefix:   "/mnt/ram/OUI-Prox",
		TerminateGrace: 500 * time.Millisecond,

		BaseInterface:   "wlan1",
		InterfaceSettle: 2 * time.Second,

		AlertCooldown:     60 * time.Second,
		CooldownRetention: 10 * time.Minute,
		IgnoreScope:       "address",

		HealthCheckEvery: 10,
		RestartEvery:     4000,
		ErrorThreshold:   3,
		StabilityWindow:  5 * time.Minute,
		ErrorBackoff:     5 * time.Second,
		CycleGap:         1 * time.Second,
		PausePoll:        1 * time.Second,
		SetupRetryDelay:  30 * time.Second,
		ShutdownTimeout:  2 * time.Second,

		WebListen:   ":5000",
		EventBuffer: 64,

		ReportOutputDir: filepath.Join(dataDir, "reports"),
	}
}

// LoadConfig loads configuration from file and environment.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(cfg.DataDir)
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("ouiprox")
	viper.AutomaticEnv()

	// Every key needs a default: Unmarshal only sees keys viper knows about,
	// so an unregistered key would ignore its OUIPROX_ environment override.
	for key, value := range cfg.defaults() {
		viper.SetDefault(key, value)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults maps every configuration key to its current value.
func (c *Config) defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":  c.DataDir,
		"log_level": c.LogLevel,
		"log_file":  c.LogFile,
		"verbose":   c.Verbose,

		"lists_dir":         c.ListsDir,
		"lists_config_file": c.ListsConfigFile,
		"settings_file":     c.SettingsFile,
		"detection_log":     c.DetectionLog,

		"capture_tool":    c.CaptureTool,
		"use_sudo":        c.UseSudo,
		"output_prefix":   c.OutputPrefix,
		"terminate_grace": c.TerminateGrace,

		"base_interface":        c.BaseInterface,
		"spoof_mac":             c.SpoofMAC,
		"interface_settle":      c.InterfaceSettle,
		"setup_failure_command": c.SetupFailureCommand,

		"alert_cooldown":     c.AlertCooldown,
		"cooldown_retention": c.CooldownRetention,
		"ignore_scope":       c.IgnoreScope,

		"health_check_every": c.HealthCheckEvery,
		"restart_every":      c.RestartEvery,
		"error_threshold":    c.ErrorThreshold,
		"stability_window":   c.StabilityWindow,
		"error_backoff":      c.ErrorBackoff,
		"cycle_gap":          c.CycleGap,
		"pause_poll":         c.PausePoll,
		"setup_retry_delay":  c.SetupRetryDelay,
		"shutdown_timeout":   c.ShutdownTimeout,

		"web_listen":   c.WebListen,
		"event_buffer": c.EventBuffer,

		"report_output_dir": c.ReportOutputDir,
	}
}

// Validate rejects configuration the detection loop cannot run with.
func (c *Config) Validate() error {
	if c.AlertCooldown <= 0 {
		return NewValidationError("alert_cooldown", "must be positive, got %s", c.AlertCooldown)
	}
	if c.HealthCheckEvery <= 0 || c.RestartEvery <= 0 {
		return NewValidationError("health_check_every", "cycle milestones must be positive")
	}
	if c.ErrorThreshold < 1 {
		return NewValidationError("error_threshold", "must be at least 1, got %d", c.ErrorThreshold)
	}
	switch c.IgnoreScope {
	case "address", "line":
	default:
		return NewValidationError("ignore_scope", "must be address or line, got %q", c.IgnoreScope)
	}
	if c.CaptureTool == "" {
		return NewValidationError("capture_tool", "must not be empty")
	}
	return nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
