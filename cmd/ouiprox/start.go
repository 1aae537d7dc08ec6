package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/daemon"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

// startFlags are the start options that seed persistent state before the
// daemon runs.
type startFlags struct {
	lists       []string
	captureTime int
	customMAC   string
	verbose     bool
	band2       bool
	band5       bool
	foreground  bool
	noWeb       bool
}

var startOpts startFlags

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ouiprox daemon",
	Long: `Start the detection daemon in the background.

Flags given here are written to the settings file and list catalog, so they
persist across restarts and can later be changed through the admin API.

Examples:
  ouiprox start --list devices.txt --list drones.txt
  ouiprox start -t 20 --band2 --band5
  ouiprox start -f -v --custom-mac 02:11:22:33:44:55`,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.StringSliceVarP(&startOpts.lists, "list", "m", nil,
		"Watchlist file to activate (repeatable)")
	f.IntVarP(&startOpts.captureTime, "capture-time", "t", 0,
		"Seconds per capture cycle")
	f.StringVarP(&startOpts.customMAC, "custom-mac", "c", "",
		"MAC address to assign to the monitor interface")
	f.BoolVarP(&startOpts.verbose, "verbose", "v", false,
		"Enable debug logging")
	f.BoolVar(&startOpts.band2, "band2", false,
		"Scan the 2.4GHz band")
	f.BoolVar(&startOpts.band5, "band5", false,
		"Scan the 5GHz band")
	f.BoolVarP(&startOpts.foreground, "foreground", "f", false,
		"Run in foreground instead of daemonizing")
	f.BoolVar(&startOpts.noWeb, "no-web", false,
		"Do not start the admin API")
}

func runStart(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if running {
		fmt.Printf("Daemon is already running (PID %d)\n", pid)
		return nil
	}

	if startOpts.verbose {
		cfg.Verbose = true
		util.InitLogger(cfg.LogLevel, cfg.LogFile, true)
	}
	if startOpts.customMAC != "" {
		cfg.SpoofMAC = startOpts.customMAC
	}

	if err := seedState(cfg, startOpts, cmd.Flags().Changed); err != nil {
		return err
	}

	if startOpts.foreground {
		return runForeground()
	}

	return runDaemon()
}

// seedState persists the start flags the operator actually passed.
func seedState(cfg *util.Config, opts startFlags, changed func(string) bool) error {
	src := settings.NewFileSource(cfg.SettingsFile)
	s, err := src.Load()
	if err != nil {
		util.Warn("Settings unreadable, starting from defaults: %v", err)
		s = settings.Defaults()
	}

	dirty := false
	if changed("capture-time") {
		s.CaptureDurationSeconds = opts.captureTime
		dirty = true
	}
	if changed("band2") || changed("band5") {
		s.Band2Enabled = opts.band2
		s.Band5Enabled = opts.band5
		dirty = true
	}
	if dirty || !util.FileExists(cfg.SettingsFile) {
		if err := src.Save(s); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}

	if len(opts.lists) > 0 {
		if err := util.EnsureDir(cfg.ListsDir); err != nil {
			return fmt.Errorf("failed to create lists dir: %w", err)
		}
		catalog := watchlist.NewCatalog(cfg.ListsDir, cfg.ListsConfigFile)
		if err := catalog.Activate(opts.lists); err != nil {
			return fmt.Errorf("failed to activate lists: %w", err)
		}
		util.Info("Active lists: %v", opts.lists)
	}

	return nil
}

func runForeground() error {
	fmt.Println("Starting ouiprox in foreground mode...")

	d, err := daemon.New(cfg, daemon.Options{NoWeb: startOpts.noWeb})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if !startOpts.noWeb {
		fmt.Printf("Admin API: %s\n", cfg.WebListen)
	}
	fmt.Println("OUI-Prox daemon started. Press Ctrl+C to stop.")

	d.Wait()

	return nil
}

func runDaemon() error {
	// Re-execute self in background
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Settings and lists are already persisted, only process options travel.
	args := []string{"start", "--foreground"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if startOpts.customMAC != "" {
		args = append(args, "--custom-mac", startOpts.customMAC)
	}
	if startOpts.verbose {
		args = append(args, "--verbose")
	}
	if startOpts.noWeb {
		args = append(args, "--no-web")
	}

	files, err := daemonFiles(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeFiles(files)

	procAttr := &os.ProcAttr{
		Dir:   "/",
		Env:   os.Environ(),
		Files: files,
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}

	proc, err := os.StartProcess(executable, append([]string{executable}, args...), procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if err := proc.Release(); err != nil {
		util.Warn("Failed to release process: %v", err)
	}

	fmt.Printf("OUI-Prox daemon started (PID %d)\n", proc.Pid)
	fmt.Printf("Logs: %s\n", cfg.LogFile)
	if !startOpts.noWeb {
		fmt.Printf("Admin API: %s\n", cfg.WebListen)
	}

	return nil
}

// daemonFiles returns stdin, stdout and stderr for the background child. The
// child's logger already writes logPath, so stdout is discarded; stderr still
// goes to the log so crashes are not lost.
func daemonFiles(logPath string) ([]*os.File, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		devNull.Close()
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return []*os.File{nil, devNull, logFile}, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
