package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/user/ouiprox/internal/capture"
	"github.com/user/ouiprox/internal/detection"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/util"
)

// runCycle executes one capture cycle. It returns a RecoverableError for a
// transient capture fault and a FatalSetupError if the interface could not be
// repaired.
func (e *Engine) runCycle(ctx context.Context) error {
	start := time.Now()

	e.mu.Lock()
	e.state.CycleCount++
	count := e.state.CycleCount
	e.mu.Unlock()
	e.metrics.CyclesTotal.Inc()
	util.Debug("=== Cycle %d ===", count)

	s := e.loadSettings()
	monitor := s.Interface

	if e.iface != nil {
		if count%int64(e.cfg.HealthCheckEvery) == 0 {
			h := e.iface.Check(ctx, monitor)
			if !h.Healthy() {
				util.Warn("Interface %s unhealthy (exists=%t up=%t monitor=%t)", monitor, h.Exists, h.Up, h.MonitorMode)
				e.metrics.Restarts.WithLabelValues("health_check").Inc()
				if err := e.iface.Restore(ctx, monitor); err != nil {
					return err
				}
				e.recordIncident(model.IncidentRestart, "interface %s restored after failed health check", monitor)
			}
		}
		if count%int64(e.cfg.RestartEvery) == 0 {
			util.Info("Cycle %d: performing scheduled interface restart", count)
			e.metrics.Restarts.WithLabelValues("scheduled").Inc()
			if err := e.iface.FullRestart(ctx, monitor); err != nil {
				return err
			}
			e.recordIncident(model.IncidentRestart, "scheduled restart of %s at cycle %d", monitor, count)
		}
	}

	plan := s.Plan()
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()

	if plan.Empty() {
		util.Debug("No channels selected, skipping capture")
		e.setPhase(model.PhaseIdle)
		return nil
	}

	spec := capture.Spec{
		Interface:    plan.Interface,
		BandMode:     plan.BandMode,
		Channels:     plan.Channels,
		OutputPrefix: e.cfg.OutputPrefix,
	}
	lines, err := e.capturer.Capture(ctx, spec, plan.Duration, e.setPhase)
	if err != nil {
		e.setPhase(model.PhaseIdle)
		return err
	}

	e.setPhase(model.PhaseMatching)
	matches := e.matcher.Match(capture.Parse(lines), e.store.Current())
	for _, m := range matches {
		e.emit(m)
	}
	e.setPhase(model.PhaseIdle)

	e.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	return nil
}

// loadSettings reads the settings source fresh. An unreadable source falls
// back to the built-in defaults.
func (e *Engine) loadSettings() settings.Settings {
	s, err := e.settings.Load()
	if err != nil {
		util.Warn("Failed to load settings, using defaults: %v", err)
		return settings.Defaults()
	}
	return s
}

// emit records one match. Log, history and action failures are logged and
// never stop the remaining matches.
func (e *Engine) emit(m model.Match) {
	ev := model.DetectionEvent{
		ID:         uuid.NewString(),
		Timestamp:  e.clock.Now(),
		Address:    m.Address,
		Name:       m.Name,
		SourceList: m.SourceList,
		Channel:    m.Channel,
	}
	util.Info("%s", detection.FormatLine(ev))

	if e.log != nil {
		if err := e.log.Append(ev); err != nil {
			util.Error("Failed to write detection log: %v", err)
		}
	}
	if e.history != nil {
		if err := e.history.Save(&ev); err != nil {
			util.Warn("Failed to store detection: %v", err)
		}
	}
	e.hub.Publish(ev)

	e.mu.Lock()
	e.state.Detections++
	e.mu.Unlock()
	e.metrics.RecordDetection(ev.SourceList)

	if m.ActionCommand != "" {
		util.Debug("Executing command for %s: %s", m.Address, m.ActionCommand)
		e.actions.Run(m.ActionCommand, []string{
			"OUIPROX_MAC=" + m.Address,
			"OUIPROX_NAME=" + m.Name,
			"OUIPROX_CHANNEL=" + m.Channel,
			"OUIPROX_LIST=" + m.SourceList,
		})
	}
}
