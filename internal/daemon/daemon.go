// Package daemon runs the detection cycle controller as a background service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/clock"
	"github.com/user/ouiprox/internal/detection"
	"github.com/user/ouiprox/internal/iface"
	"github.com/user/ouiprox/internal/metrics"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/suppress"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
	"github.com/user/ouiprox/internal/web"
)

// watchDebounce collapses bursts of list file writes into one reload.
const watchDebounce = 500 * time.Millisecond

// Options tweak which parts of the service are started.
type Options struct {
	NoWeb bool
}

// Daemon manages the background service.
type Daemon struct {
	config  *util.Config
	engine  *Engine
	web     *web.Server
	db      *storage.DB
	pidFile string

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	engineDone chan struct{}
	stopOnce   sync.Once

	running   bool
	startTime time.Time
	mu        sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *util.Config, opts Options) (*Daemon, error) {
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := util.EnsureDir(cfg.ListsDir); err != nil {
		return nil, fmt.Errorf("failed to create lists dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	clk := clock.RealClock{}

	supervisor := capture.NewSupervisor(cfg.CaptureTool, cfg.UseSudo, cfg.TerminateGrace)
	manager := iface.NewManager(iface.Options{
		BaseInterface: cfg.BaseInterface,
		SpoofMAC:      cfg.SpoofMAC,
		Settle:        cfg.InterfaceSettle,
		Runner:        iface.ExecRunner{UseSudo: cfg.UseSudo},
	})

	engine := NewEngine(cfg, Deps{
		Clock:     clk,
		Settings:  settings.NewFileSource(cfg.SettingsFile),
		Store:     watchlist.NewStore(),
		Catalog:   watchlist.NewCatalog(cfg.ListsDir, cfg.ListsConfigFile),
		Suppress:  suppress.New(clk, cfg.AlertCooldown, cfg.CooldownRetention),
		Capturer:  supervisor,
		Interface: manager,
		Actions:   ShellActions{},
		Log:       detection.NewLog(cfg.DetectionLog),
		Hub:       detection.NewHub(),
		History:   storage.NewDetectionStorage(db),
		Incidents: storage.NewIncidentStorage(db),
		Metrics:   metrics.Get(),
	})

	d := &Daemon{
		config:     cfg,
		engine:     engine,
		db:         db,
		pidFile:    filepath.Join(cfg.DataDir, pidFileName),
		ctx:        ctx,
		cancel:     cancel,
		engineDone: make(chan struct{}),
	}
	engine.OnCycle = d.writeStatus

	if !opts.NoWeb {
		d.web = web.NewServer(cfg, engine, db)
	}

	return d, nil
}

// Engine returns the detection controller.
func (d *Daemon) Engine() *Engine {
	return d.engine
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	if err := d.engine.ReloadWatchlist(); err != nil {
		util.Warn("Initial watchlist load failed: %v", err)
	}
	if len(d.engine.Watchlist()) == 0 {
		util.Warn("Watchlist is empty; no device will be reported until a list is activated")
	}

	watcher, err := watchlist.NewWatcher(d.config.ListsDir, watchDebounce, func() {
		if err := d.engine.ReloadWatchlist(); err != nil {
			util.Warn("Watchlist reload failed: %v", err)
		}
	}, d.config.ListsConfigFile)
	if err != nil {
		util.Warn("List files will not be watched: %v", err)
	} else {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			watcher.Run(d.ctx)
		}()
	}

	go func() {
		defer close(d.engineDone)
		d.engine.Run(d.ctx)
	}()

	if d.web != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.web.Start(); err != nil {
				util.Error("Admin API error: %v", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	d.writeStatus(d.engine.Status())
	util.Info("Daemon started with PID %d", os.Getpid())

	return nil
}

// Wait waits for the daemon to finish.
func (d *Daemon) Wait() {
	d.wg.Wait()
}

// Stop stops the daemon gracefully. The capture process and its output are
// cleaned up even if the controller does not return within the shutdown timeout.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.stopOnce.Do(d.shutdown)
	return nil
}

func (d *Daemon) shutdown() {
	util.Info("Daemon stopping...")

	d.cancel()

	select {
	case <-d.engineDone:
		util.Info("Detection loop stopped gracefully")
	case <-time.After(d.config.ShutdownTimeout):
		util.Warn("Detection loop did not stop within %s", d.config.ShutdownTimeout)
	}
	d.engine.ForceCleanup()

	if d.web != nil {
		if err := d.web.Stop(); err != nil {
			util.Warn("Admin API shutdown: %v", err)
		}
	}

	st := d.engine.Status()
	st.Phase = model.PhaseIdle
	if err := WriteStatusFile(d.config.DataDir, newStatusFile(false, d.startTime, time.Now(), d.config.WebListen, st)); err != nil {
		util.Warn("Failed to write status file: %v", err)
	}

	d.removePIDFile()
	if d.db != nil {
		d.db.Close()
	}
	util.Info("Daemon stopped")
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		d.Stop()
	case <-d.ctx.Done():
		return
	}
}

func (d *Daemon) writeStatus(st model.Status) {
	d.mu.RLock()
	running, start := d.running, d.startTime
	d.mu.RUnlock()

	listen := ""
	if d.web != nil {
		listen = d.config.WebListen
	}
	if err := WriteStatusFile(d.config.DataDir, newStatusFile(running, start, time.Now(), listen, st)); err != nil {
		util.Warn("Failed to write status file: %v", err)
	}
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFile)
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetDB returns the database instance.
func (d *Daemon) GetDB() *storage.DB {
	return d.db
}

// GetConfig returns the configuration.
func (d *Daemon) GetConfig() *util.Config {
	return d.config
}
