package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/clock"
	"github.com/user/ouiprox/internal/detection"
	"github.com/user/ouiprox/internal/iface"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

type captureResult struct {
	lines []string
	err   error
}

type fakeCapturer struct {
	clk     clock.Clock
	results []captureResult
	calls   []time.Time
	specs   []capture.Spec
	kills   int
}

func (f *fakeCapturer) Capture(ctx context.Context, spec capture.Spec, d time.Duration, phase func(model.Phase)) ([]string, error) {
	f.calls = append(f.calls, f.clk.Now())
	f.specs = append(f.specs, spec)
	if phase != nil {
		phase(model.PhaseCapturing)
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.lines, r.err
}

func (f *fakeCapturer) KillAll() { f.kills++ }

type fakeInterface struct {
	health    iface.Health
	setupErr  error
	restarts  int
	restores  int
	setups    int
	checks    int
	restartFn func() error
}

func (f *fakeInterface) Check(ctx context.Context, name string) iface.Health {
	f.checks++
	return f.health
}

func (f *fakeInterface) Setup(ctx context.Context, name string) error {
	f.setups++
	return f.setupErr
}

func (f *fakeInterface) Restore(ctx context.Context, name string) error {
	f.restores++
	return nil
}

func (f *fakeInterface) FullRestart(ctx context.Context, name string) error {
	f.restarts++
	if f.restartFn != nil {
		return f.restartFn()
	}
	return nil
}

type actionCall struct {
	command string
	env     []string
}

type recordingActions struct {
	mu    sync.Mutex
	calls []actionCall
}

func (r *recordingActions) Run(command string, env []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, actionCall{command: command, env: env})
}

func (r *recordingActions) all() []actionCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]actionCall(nil), r.calls...)
}

type harness struct {
	engine  *Engine
	clk     *clock.MockClock
	cap     *fakeCapturer
	iface   *fakeInterface
	actions *recordingActions
	log     *detection.Log
	cfg     *util.Config
	sleeps  []time.Duration
}

func newHarness(t *testing.T, entries ...model.WatchlistEntry) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := util.DefaultConfig()
	cfg.DataDir = dir
	cfg.OutputPrefix = filepath.Join(dir, "OUI-Prox")

	h := &harness{
		clk:     clock.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		iface:   &fakeInterface{health: iface.Health{Exists: true, Up: true, MonitorMode: true}},
		actions: &recordingActions{},
		log:     detection.NewLog(filepath.Join(dir, "detected_macs.log")),
		cfg:     cfg,
	}
	h.cap = &fakeCapturer{clk: h.clk}

	store := watchlist.NewStore()
	store.Replace(watchlist.FromEntries(entries), nil)

	h.engine = NewEngine(cfg, Deps{
		Clock: h.clk,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			h.clk.Advance(d)
			return ctx.Err()
		},
		Settings:  settings.NewMemorySource(settings.Defaults()),
		Store:     store,
		Capturer:  h.cap,
		Interface: h.iface,
		Actions:   h.actions,
		Log:       h.log,
	})
	return h
}

// runPasses runs the loop until it has completed n passes.
func (h *harness) runPasses(t *testing.T, n int, each func(pass int, st model.Status)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pass := 0
	h.engine.OnCycle = func(st model.Status) {
		pass++
		if each != nil {
			each(pass, st)
		}
		if pass >= n {
			cancel()
		}
	}
	h.engine.Run(ctx)
	require.Equal(t, n, pass)
}

var phone = model.WatchlistEntry{Pattern: "AA:BB:CC:00:00:01", Name: "Phone", SourceList: "list/devices.txt"}

const phoneLine = "aa:bb:cc:00:00:01, 2024-03-01 12:00:01, 2024-03-01 12:00:09, 6, 10"

func earlyExit() error {
	return util.Recoverable("capture", errors.New("capture tool exited early: exit status 1"))
}

func TestEarlyExitIsRetriedAfterBackoff(t *testing.T) {
	h := newHarness(t, phone)
	h.cap.results = []captureResult{
		{err: earlyExit()},
		{lines: []string{phoneLine}},
	}

	h.runPasses(t, 2, func(pass int, st model.Status) {
		lines, err := h.engine.DetectionLines()
		require.NoError(t, err)
		switch pass {
		case 1:
			assert.Equal(t, 1, st.ConsecutiveErrorCount)
			assert.Contains(t, st.LastError, "exited early")
			assert.Empty(t, lines, "a failed cycle writes nothing")
		case 2:
			assert.Equal(t, 0, st.ConsecutiveErrorCount)
			assert.Len(t, lines, 1)
		}
	})

	require.Len(t, h.cap.calls, 2)
	gap := h.cap.calls[1].Sub(h.cap.calls[0])
	assert.GreaterOrEqual(t, gap, h.cfg.ErrorBackoff)
	assert.Contains(t, h.sleeps, h.cfg.ErrorBackoff)
	assert.Equal(t, 0, h.iface.restarts)
}

func TestThirdFailureEscalatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.engine.recordFailure(ctx, earlyExit())
		h.clk.Advance(6 * time.Second)
	}

	st := h.engine.Status()
	assert.Equal(t, 1, h.iface.restarts, "exactly one full restart")
	assert.Equal(t, 1, h.cap.kills, "kill by name before restart")
	assert.Equal(t, 0, st.ConsecutiveErrorCount)
	assert.Equal(t, 1, st.Recoveries)
	assert.True(t, st.InterfaceHealthy)

	// The stability window has passed since the last error, so the count
	// starts over instead of continuing.
	h.clk.Advance(5*time.Minute + time.Second)
	h.engine.recordFailure(ctx, earlyExit())
	assert.Equal(t, 1, h.engine.Status().ConsecutiveErrorCount)
	assert.Equal(t, 1, h.iface.restarts)
}

func TestStabilityWindowResetsCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.recordFailure(ctx, earlyExit())
	h.clk.Advance(10 * time.Second)
	h.engine.recordFailure(ctx, earlyExit())
	assert.Equal(t, 2, h.engine.Status().ConsecutiveErrorCount)

	h.clk.Advance(6 * time.Minute)
	h.engine.recordFailure(ctx, earlyExit())
	assert.Equal(t, 1, h.engine.Status().ConsecutiveErrorCount)
	assert.Equal(t, 0, h.iface.restarts)
}

func TestFailedEscalationMarksInterfaceUnhealthy(t *testing.T) {
	h := newHarness(t)
	h.iface.restartFn = func() error {
		return util.FatalSetup("wlan1", errors.New("airmon-ng start failed"))
	}
	h.engine.setHealthy(true)

	for i := 0; i < 3; i++ {
		h.engine.recordFailure(context.Background(), earlyExit())
	}

	st := h.engine.Status()
	assert.False(t, st.InterfaceHealthy)
	assert.Equal(t, 0, st.ConsecutiveErrorCount)
}

func TestRecoverableErrorKeepsInterfaceHealthy(t *testing.T) {
	h := newHarness(t)
	h.engine.setHealthy(true)

	h.engine.recordFailure(context.Background(), earlyExit())
	assert.True(t, h.engine.Status().InterfaceHealthy)

	h.engine.recordFailure(context.Background(), util.FatalSetup("wlan1mon", errors.New("gone")))
	assert.False(t, h.engine.Status().InterfaceHealthy)
}

func TestCooldownSuppressesRepeatDetections(t *testing.T) {
	h := newHarness(t, phone)
	ctx := context.Background()
	h.cap.results = []captureResult{
		{lines: []string{phoneLine}},
		{lines: []string{phoneLine}},
		{lines: []string{phoneLine}},
	}

	require.NoError(t, h.engine.runCycle(ctx))
	h.clk.Advance(20 * time.Second)
	require.NoError(t, h.engine.runCycle(ctx))

	lines, err := h.engine.DetectionLines()
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	h.clk.Advance(h.cfg.AlertCooldown)
	require.NoError(t, h.engine.runCycle(ctx))
	lines, err = h.engine.DetectionLines()
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, int64(2), h.engine.Status().Detections)
}

func TestDetectionRunsActionAndPublishes(t *testing.T) {
	entry := phone
	entry.ActionCommand = "notify-send found"
	h := newHarness(t, entry)
	h.cap.results = []captureResult{{lines: []string{phoneLine}}}

	events, cancel := h.engine.Subscribe(4)
	defer cancel()

	require.NoError(t, h.engine.runCycle(context.Background()))

	calls := h.actions.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "notify-send found", calls[0].command)
	assert.Contains(t, calls[0].env, "OUIPROX_MAC=AA:BB:CC:00:00:01")
	assert.Contains(t, calls[0].env, "OUIPROX_CHANNEL=6")

	select {
	case ev := <-events:
		assert.Equal(t, "AA:BB:CC:00:00:01", ev.Address)
		assert.Equal(t, "Phone", ev.Name)
		assert.NotEmpty(t, ev.ID)
	default:
		t.Fatal("expected a published detection")
	}

	lines, err := h.log.Lines()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "[2024-03-01 12:00] | AA:BB:CC:00:00:01 | Phone | Ch: 6 | List: devices.txt"), lines[0])
}

func TestEmptyPlanSkipsCapture(t *testing.T) {
	h := newHarness(t, phone)
	s := settings.Defaults()
	s.Band2Enabled = false
	s.Band5Enabled = false
	h.engine.settings = settings.NewMemorySource(s)

	require.NoError(t, h.engine.runCycle(context.Background()))
	assert.Empty(t, h.cap.calls)
	assert.Equal(t, model.PhaseIdle, h.engine.Status().Phase)
}

func TestPlanFollowsSettings(t *testing.T) {
	h := newHarness(t)
	s := settings.Defaults()
	s.Band5Enabled = true
	require.NoError(t, h.engine.UpdateSettings(s))

	require.NoError(t, h.engine.runCycle(context.Background()))
	require.Len(t, h.cap.specs, 1)
	assert.Equal(t, "abg", h.cap.specs[0].BandMode)
	assert.Equal(t, []string{"1", "6", "11", "44", "52", "100", "149", "157", "161"}, h.cap.specs[0].Channels)
	assert.Equal(t, h.cfg.OutputPrefix, h.cap.specs[0].OutputPrefix)
}

func TestHealthCheckMilestone(t *testing.T) {
	h := newHarness(t)
	h.cfg.HealthCheckEvery = 2
	h.iface.health = iface.Health{Exists: true, Up: false, MonitorMode: true}
	ctx := context.Background()

	require.NoError(t, h.engine.runCycle(ctx))
	assert.Equal(t, 0, h.iface.checks)

	require.NoError(t, h.engine.runCycle(ctx))
	assert.Equal(t, 1, h.iface.checks)
	assert.Equal(t, 1, h.iface.restores)
}

func TestScheduledRestartMilestone(t *testing.T) {
	h := newHarness(t)
	h.cfg.RestartEvery = 3
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.runCycle(ctx))
	}
	assert.Equal(t, 1, h.iface.restarts)
	assert.Equal(t, int64(3), h.engine.Status().CycleCount)
}

func TestSetupFailureNotifiesAndRetries(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetupFailureCommand = "logger setup-failed"
	h.iface.setupErr = util.FatalSetup("wlan1", errors.New("no such device"))

	h.runPasses(t, 2, nil)

	assert.Equal(t, 2, h.iface.setups)
	assert.Empty(t, h.cap.calls, "no capture without a healthy interface")
	assert.False(t, h.engine.Status().InterfaceHealthy)
	assert.Contains(t, h.sleeps, h.cfg.SetupRetryDelay)

	calls := h.actions.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "logger setup-failed", calls[0].command)
}

func TestPausedLoopDoesNotCapture(t *testing.T) {
	h := newHarness(t, phone)
	h.engine.SetPaused(true)

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 3 {
			cancel()
		}
		return ctx.Err()
	}
	h.engine.Run(ctx)

	assert.Equal(t, 3, polls)
	assert.Empty(t, h.cap.calls)
	assert.Equal(t, 0, h.iface.setups)
	assert.True(t, h.engine.Status().Paused)
}

func TestTogglePause(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.engine.TogglePause())
	assert.True(t, h.engine.Paused())
	assert.False(t, h.engine.TogglePause())
	assert.False(t, h.engine.Paused())
}

func TestIgnoreValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Ignore("AA:BB:CC:00:00:01", 0)
	require.Error(t, err)
	assert.True(t, util.IsValidation(err))

	entry, err := h.engine.Ignore("aa-bb-cc-00-00-01", 5)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:00:00:01", entry.Address)
	assert.Equal(t, h.clk.Now().Add(5*time.Minute), entry.ExpiresAt)
	assert.Len(t, h.engine.Ignored(), 1)

	assert.True(t, h.engine.RemoveIgnore("AA:BB:CC:00:00:01"))
	assert.Empty(t, h.engine.Ignored())
}

func TestIgnoredDeviceIsNotReported(t *testing.T) {
	h := newHarness(t, phone)
	h.cap.results = []captureResult{{lines: []string{phoneLine}}}
	_, err := h.engine.Ignore(phone.Pattern, 10)
	require.NoError(t, err)

	require.NoError(t, h.engine.runCycle(context.Background()))
	lines, err := h.engine.DetectionLines()
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCyclePanicIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.engine.capturer = panicCapturer{}

	err := h.engine.guardedCycle(context.Background())
	require.Error(t, err)
	assert.True(t, util.IsRecoverable(err))
}

type panicCapturer struct{}

func (panicCapturer) Capture(context.Context, capture.Spec, time.Duration, func(model.Phase)) ([]string, error) {
	panic("boom")
}

func (panicCapturer) KillAll() {}

func TestClearLog(t *testing.T) {
	h := newHarness(t, phone)
	h.cap.results = []captureResult{{lines: []string{phoneLine}}}
	require.NoError(t, h.engine.runCycle(context.Background()))

	require.NoError(t, h.engine.ClearLog())
	lines, err := h.engine.DetectionLines()
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStatusFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	st := h.engine.Status()
	st.CycleCount = 42

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	require.NoError(t, WriteStatusFile(dir, newStatusFile(true, start, start.Add(90*time.Second), ":5000", st)))

	sf, err := ReadStatusFile(dir)
	require.NoError(t, err)
	assert.True(t, sf.Running)
	assert.Equal(t, "1m30s", sf.Uptime)
	assert.Equal(t, int64(42), sf.Status.CycleCount)
	assert.Equal(t, "wlan1mon", sf.Status.Plan.Interface)
}

func TestCheckRunningWithoutPIDFile(t *testing.T) {
	running, pid := CheckRunning(t.TempDir())
	assert.False(t, running)
	assert.Zero(t, pid)
}
