package daemon

import (
	"context"
	"fmt"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// Run drives detection cycles until ctx is cancelled. No cycle failure ends
// the loop; only cancellation does.
func (e *Engine) Run(ctx context.Context) {
	util.Info("Detection loop started")
	defer util.Info("Detection loop stopped")

	for ctx.Err() == nil {
		if e.Paused() {
			e.setPhase(model.PhaseIdle)
			if e.sleep(ctx, e.cfg.PausePoll) != nil {
				return
			}
			continue
		}

		if !e.healthy() {
			if !e.setup(ctx) {
				e.afterPass()
				if e.sleep(ctx, e.cfg.SetupRetryDelay) != nil {
					return
				}
				continue
			}
		}

		err := e.guardedCycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.recordFailure(ctx, err)
			e.afterPass()
			if e.sleep(ctx, e.cfg.ErrorBackoff) != nil {
				return
			}
		} else {
			e.recordSuccess()
			e.afterPass()
		}

		if e.sleep(ctx, e.cfg.CycleGap) != nil {
			return
		}
	}
}

// guardedCycle turns a panic inside a cycle into a recoverable failure.
func (e *Engine) guardedCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("Cycle panicked: %v", r)
			e.setPhase(model.PhaseIdle)
			err = util.Recoverable("cycle", fmt.Errorf("panic: %v", r))
		}
	}()
	return e.runCycle(ctx)
}

// setup brings the interface into scan mode. On failure the interface is
// marked unhealthy, the operator is notified and false is returned.
func (e *Engine) setup(ctx context.Context) bool {
	monitor := e.currentPlan().Interface
	if s, err := e.settings.Load(); err == nil {
		monitor = s.Interface
	}

	if e.iface == nil {
		e.setHealthy(true)
		return true
	}

	err := e.iface.Setup(ctx, monitor)
	if err == nil {
		e.setHealthy(true)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	util.Error("Interface setup failed: %v", err)
	e.setHealthy(false)
	e.mu.Lock()
	e.state.LastError = err.Error()
	e.state.LastErrorAt = e.clock.Now()
	e.mu.Unlock()
	e.recordIncident(model.IncidentSetupFailure, "%v", err)

	if cmd := e.cfg.SetupFailureCommand; cmd != "" {
		e.actions.Run(cmd, []string{"OUIPROX_INTERFACE=" + monitor, "OUIPROX_ERROR=" + err.Error()})
	}
	util.Info("Retrying interface setup in %s", e.cfg.SetupRetryDelay)
	return false
}

func (e *Engine) afterPass() {
	if e.OnCycle != nil {
		e.OnCycle(e.Status())
	}
}

func (e *Engine) currentPlan() model.CapturePlan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plan
}
