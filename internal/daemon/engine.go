package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/clock"
	"github.com/user/ouiprox/internal/detection"
	"github.com/user/ouiprox/internal/iface"
	"github.com/user/ouiprox/internal/matcher"
	"github.com/user/ouiprox/internal/metrics"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/suppress"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

// Capturer runs one capture and returns the raw output lines.
type Capturer interface {
	Capture(ctx context.Context, spec capture.Spec, d time.Duration, phase func(model.Phase)) ([]string, error)
	KillAll()
}

// Interface checks and repairs the capture interface.
type Interface interface {
	Check(ctx context.Context, name string) iface.Health
	Setup(ctx context.Context, name string) error
	Restore(ctx context.Context, name string) error
	FullRestart(ctx context.Context, name string) error
}

// ActionRunner launches operator commands as detached side effects.
type ActionRunner interface {
	Run(command string, env []string)
}

// ShellActions runs commands through sh -c without waiting on them.
type ShellActions struct{}

// Run implements ActionRunner. Failures are logged and counted.
func (ShellActions) Run(command string, env []string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Start(); err != nil {
		util.Error("Action command failed to start: %v", err)
		metrics.Get().ActionFailures.Inc()
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			util.Warn("Action command %q exited: %v", command, err)
			metrics.Get().ActionFailures.Inc()
		}
	}()
}

// Deps are the collaborators an Engine is built from. Optional fields may be
// nil: History, Incidents, Catalog, Metrics.
type Deps struct {
	Clock     clock.Clock
	Sleep     func(ctx context.Context, d time.Duration) error
	Settings  settings.Source
	Store     *watchlist.Store
	Catalog   *watchlist.Catalog
	Suppress  *suppress.State
	Capturer  Capturer
	Interface Interface
	Actions   ActionRunner
	Log       *detection.Log
	Hub       *detection.Hub
	History   *storage.DetectionStorage
	Incidents *storage.IncidentStorage
	Metrics   *metrics.Registry
}

// Engine is the detection cycle controller and the state it shares with the
// admin surface. All cross-goroutine access goes through its methods.
type Engine struct {
	cfg *util.Config

	clock     clock.Clock
	sleep     func(ctx context.Context, d time.Duration) error
	settings  settings.Source
	store     *watchlist.Store
	catalog   *watchlist.Catalog
	suppress  *suppress.State
	matcher   *matcher.Matcher
	capturer  Capturer
	iface     Interface
	actions   ActionRunner
	log       *detection.Log
	hub       *detection.Hub
	history   *storage.DetectionStorage
	incidents *storage.IncidentStorage
	metrics   *metrics.Registry

	// OnCycle, if set, is called with a status snapshot after every loop pass.
	OnCycle func(model.Status)

	mu        sync.RWMutex
	state     model.CycleState
	plan      model.CapturePlan
	startedAt time.Time
}

// NewEngine wires an Engine from cfg and deps.
func NewEngine(cfg *util.Config, deps Deps) *Engine {
	e := &Engine{
		cfg:       cfg,
		clock:     deps.Clock,
		sleep:     deps.Sleep,
		settings:  deps.Settings,
		store:     deps.Store,
		catalog:   deps.Catalog,
		suppress:  deps.Suppress,
		capturer:  deps.Capturer,
		iface:     deps.Interface,
		actions:   deps.Actions,
		log:       deps.Log,
		hub:       deps.Hub,
		history:   deps.History,
		incidents: deps.Incidents,
		metrics:   deps.Metrics,
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.settings == nil {
		e.settings = settings.NewMemorySource(settings.Defaults())
	}
	if e.store == nil {
		e.store = watchlist.NewStore()
	}
	if e.suppress == nil {
		e.suppress = suppress.New(e.clock, cfg.AlertCooldown, cfg.CooldownRetention)
	}
	if e.actions == nil {
		e.actions = ShellActions{}
	}
	if e.hub == nil {
		e.hub = detection.NewHub()
	}
	if e.metrics == nil {
		e.metrics = metrics.Get()
	}
	e.matcher = matcher.New(e.suppress, model.IgnoreScope(cfg.IgnoreScope))

	e.state.Phase = model.PhaseIdle
	e.startedAt = e.clock.Now()
	if s, err := e.settings.Load(); err == nil {
		e.plan = s.Plan()
	}
	return e
}

// Status returns a snapshot of the controller state.
func (e *Engine) Status() model.Status {
	e.mu.RLock()
	st := model.Status{
		CycleState: e.state,
		Plan:       e.plan,
		StartedAt:  e.startedAt,
	}
	e.mu.RUnlock()

	st.Watchlist = e.store.Current().Len()
	st.Ignored = len(e.suppress.Ignored())
	return st
}

// Paused reports whether detection is paused.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Paused
}

// SetPaused sets the pause flag. It takes effect at the next cycle boundary.
func (e *Engine) SetPaused(paused bool) {
	e.mu.Lock()
	e.state.Paused = paused
	e.mu.Unlock()

	e.metrics.SetPaused(paused)
	if paused {
		util.Info("Detection paused")
	} else {
		util.Info("Detection resumed")
	}
}

// TogglePause flips the pause flag and returns the new value.
func (e *Engine) TogglePause() bool {
	e.mu.Lock()
	e.state.Paused = !e.state.Paused
	paused := e.state.Paused
	e.mu.Unlock()

	e.metrics.SetPaused(paused)
	util.Info("Detection paused: %t", paused)
	return paused
}

// Ignore mutes address for the given number of minutes.
func (e *Engine) Ignore(address string, minutes int) (model.IgnoreEntry, error) {
	if minutes < 1 {
		return model.IgnoreEntry{}, util.NewValidationError("duration", "must be at least 1 minute, got %d", minutes)
	}
	entry, err := e.suppress.AddIgnore(address, time.Duration(minutes)*time.Minute)
	if err != nil {
		return entry, err
	}
	e.metrics.IgnoredDevices.Set(float64(len(e.suppress.Ignored())))
	return entry, nil
}

// Ignored returns the live ignore entries.
func (e *Engine) Ignored() []model.IgnoreEntry {
	return e.suppress.Ignored()
}

// RemoveIgnore ends an ignore early.
func (e *Engine) RemoveIgnore(address string) bool {
	removed := e.suppress.RemoveIgnore(address)
	e.metrics.IgnoredDevices.Set(float64(len(e.suppress.Ignored())))
	return removed
}

// Subscribe attaches a live detection stream.
func (e *Engine) Subscribe(bufSize int) (<-chan model.DetectionEvent, func()) {
	return e.hub.Subscribe(bufSize)
}

// Hub returns the live detection hub.
func (e *Engine) Hub() *detection.Hub {
	return e.hub
}

// Catalog returns the list catalog, or nil if none is configured.
func (e *Engine) Catalog() *watchlist.Catalog {
	return e.catalog
}

// ReloadWatchlist rebuilds the watchlist from the active lists and swaps it in.
func (e *Engine) ReloadWatchlist() error {
	if e.catalog == nil {
		return e.store.Reload(e.store.Paths())
	}
	paths, err := e.catalog.ActivePaths()
	if err != nil {
		return fmt.Errorf("failed to resolve active lists: %w", err)
	}
	if err := e.store.Reload(paths); err != nil {
		return err
	}
	e.metrics.WatchlistSize.Set(float64(e.store.Current().Len()))
	return nil
}

// Watchlist returns the active entries in order.
func (e *Engine) Watchlist() []model.WatchlistEntry {
	return e.store.Current().Entries()
}

// Settings returns the current settings record.
func (e *Engine) Settings() (settings.Settings, error) {
	return e.settings.Load()
}

// UpdateSettings validates and stores s. The next cycle picks it up.
func (e *Engine) UpdateSettings(s settings.Settings) error {
	if err := e.settings.Save(s); err != nil {
		return err
	}
	util.Info("Settings updated: %s band=%s channels=%v", s.Interface, s.Plan().BandMode, s.Plan().Channels)
	return nil
}

// DetectionLines returns the detection log, oldest first.
func (e *Engine) DetectionLines() ([]string, error) {
	if e.log == nil {
		return []string{}, nil
	}
	return e.log.Lines()
}

// History returns the queryable detection history, or nil.
func (e *Engine) History() *storage.DetectionStorage {
	return e.history
}

// ClearLog truncates the detection log and the history index.
func (e *Engine) ClearLog() error {
	var errs []error
	if e.log != nil {
		if err := e.log.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.history != nil {
		if err := e.history.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	util.Info("Detection log cleared")
	return nil
}

// ForceCleanup kills any capture process by name and removes output files.
func (e *Engine) ForceCleanup() {
	if e.capturer != nil {
		e.capturer.KillAll()
	}
	capture.Cleanup(e.cfg.OutputPrefix)
}

func (e *Engine) setPhase(p model.Phase) {
	e.mu.Lock()
	e.state.Phase = p
	e.mu.Unlock()
}

func (e *Engine) setHealthy(healthy bool) {
	e.mu.Lock()
	e.state.InterfaceHealthy = healthy
	e.mu.Unlock()
	e.metrics.SetInterfaceHealthy(healthy)
}

func (e *Engine) healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.InterfaceHealthy
}

func (e *Engine) recordIncident(typ model.IncidentType, format string, args ...interface{}) {
	if e.incidents == nil {
		return
	}
	inc := &model.Incident{Type: typ, Message: fmt.Sprintf(format, args...), Timestamp: e.clock.Now()}
	if err := e.incidents.Save(inc); err != nil {
		util.Warn("Failed to record incident: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
