package daemon

import (
	"context"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// recordFailure applies the retry policy to a failed cycle. The counter
// restarts at 1 when the previous error is older than the stability window;
// reaching the threshold triggers one escalated recovery.
func (e *Engine) recordFailure(ctx context.Context, err error) {
	now := e.clock.Now()

	e.mu.Lock()
	if e.state.LastErrorAt.IsZero() || now.Sub(e.state.LastErrorAt) > e.cfg.StabilityWindow {
		e.state.ConsecutiveErrorCount = 1
	} else {
		e.state.ConsecutiveErrorCount++
	}
	e.state.LastErrorAt = now
	e.state.LastError = err.Error()
	count := e.state.ConsecutiveErrorCount
	e.mu.Unlock()

	class := "recoverable"
	if util.IsFatalSetup(err) {
		class = "fatal_setup"
		e.setHealthy(false)
	}
	e.metrics.RecordCycleError(class, count)
	e.recordIncident(model.IncidentCycleError, "%v", err)
	util.Warn("Cycle failed (%d/%d): %v", count, e.cfg.ErrorThreshold, err)

	if count >= e.cfg.ErrorThreshold {
		e.escalate(ctx)
	}
}

// recordSuccess resets the error counter after a clean cycle.
func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.state.ConsecutiveErrorCount = 0
	e.mu.Unlock()
	e.metrics.ConsecutiveFails.Set(0)
}

// escalate kills any capture process by name, removes output files and
// restarts the interface. A failed restart is logged and marks the interface
// unhealthy; the loop carries on either way.
func (e *Engine) escalate(ctx context.Context) {
	util.Warn("Too many consecutive errors, performing escalated recovery")

	if e.capturer != nil {
		e.capturer.KillAll()
	}
	capture.Cleanup(e.cfg.OutputPrefix)

	monitor := e.loadSettings().Interface
	if e.iface != nil {
		e.metrics.Restarts.WithLabelValues("escalation").Inc()
		if err := e.iface.FullRestart(ctx, monitor); err != nil {
			util.Error("Escalated interface restart failed: %v", err)
			if util.IsFatalSetup(err) {
				e.setHealthy(false)
			}
		} else {
			e.setHealthy(true)
		}
	}

	e.mu.Lock()
	e.state.ConsecutiveErrorCount = 0
	e.state.Recoveries++
	recoveries := e.state.Recoveries
	e.mu.Unlock()

	e.metrics.Recoveries.Inc()
	e.metrics.ConsecutiveFails.Set(0)
	e.recordIncident(model.IncidentRecovery, "escalated recovery #%d on %s", recoveries, monitor)
}
