package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/model"
)

// stuckCapturer blocks inside Capture until released, ignoring cancellation.
type stuckCapturer struct {
	entered chan struct{}
	release chan struct{}
	kills   atomic.Int32
}

func newStuckCapturer() *stuckCapturer {
	return &stuckCapturer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stuckCapturer) Capture(ctx context.Context, spec capture.Spec, d time.Duration, phase func(model.Phase)) ([]string, error) {
	close(s.entered)
	<-s.release
	return nil, ctx.Err()
}

func (s *stuckCapturer) KillAll() { s.kills.Add(1) }

func newTestDaemon(t *testing.T, h *harness) *Daemon {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:     h.cfg,
		engine:     h.engine,
		pidFile:    filepath.Join(h.cfg.DataDir, pidFileName),
		ctx:        ctx,
		cancel:     cancel,
		engineDone: make(chan struct{}),
		running:    true,
		startTime:  time.Now(),
	}
	require.NoError(t, d.writePIDFile())
	return d
}

func TestShutdownIsBoundedWhenLoopIsStuck(t *testing.T) {
	h := newHarness(t, phone)
	h.cfg.ShutdownTimeout = 100 * time.Millisecond

	stuck := newStuckCapturer()
	h.engine.capturer = stuck

	leftover := h.cfg.OutputPrefix + "-01.csv"
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0644))

	d := newTestDaemon(t, h)
	go func() {
		defer close(d.engineDone)
		d.engine.Run(d.ctx)
	}()
	t.Cleanup(func() {
		close(stuck.release)
		select {
		case <-d.engineDone:
		case <-time.After(2 * time.Second):
			t.Error("detection loop did not exit after release")
		}
	})

	select {
	case <-stuck.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detection loop never reached capture")
	}

	begin := time.Now()
	require.NoError(t, d.Stop())
	elapsed := time.Since(begin)

	assert.Less(t, elapsed, h.cfg.ShutdownTimeout+time.Second)
	assert.GreaterOrEqual(t, elapsed, h.cfg.ShutdownTimeout)
	assert.Equal(t, int32(1), stuck.kills.Load(), "capture processes are killed even though the loop did not return")
	assert.NoFileExists(t, leftover)
	assert.NoFileExists(t, d.pidFile)

	sf, err := ReadStatusFile(h.cfg.DataDir)
	require.NoError(t, err)
	assert.False(t, sf.Running)
	assert.Equal(t, model.PhaseIdle, sf.Status.Phase)

	// A second stop is a no-op.
	require.NoError(t, d.Stop())
	assert.Equal(t, int32(1), stuck.kills.Load())
}

func TestShutdownCleansUpAfterGracefulStop(t *testing.T) {
	h := newHarness(t, phone)
	h.cfg.ShutdownTimeout = 5 * time.Second

	leftover := h.cfg.OutputPrefix + "-01.cap"
	require.NoError(t, os.WriteFile(leftover, nil, 0644))

	d := newTestDaemon(t, h)
	close(d.engineDone)

	begin := time.Now()
	require.NoError(t, d.Stop())

	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, 1, h.cap.kills)
	assert.NoFileExists(t, leftover)
}
