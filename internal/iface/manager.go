// Package iface checks and controls the wireless interface used for capture.
package iface

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/user/ouiprox/internal/util"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, optionally through sudo.
type ExecRunner struct {
	UseSudo bool
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.UseSudo {
		name, args = "sudo", append([]string{name}, args...)
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Health is the observed state of an interface.
type Health struct {
	Exists      bool `json:"exists"`
	Up          bool `json:"up"`
	MonitorMode bool `json:"monitor_mode"`
}

// Healthy reports whether the interface can capture.
func (h Health) Healthy() bool {
	return h.Exists && h.Up && h.MonitorMode
}

// Manager brings the base interface into scan mode and keeps it there.
type Manager struct {
	base     string
	spoofMAC string
	settle   time.Duration
	runner   Runner
	links    Links
	sleep    func(context.Context, time.Duration) error
}

// Options configures a Manager.
type Options struct {
	BaseInterface string
	SpoofMAC      string
	Settle        time.Duration
	Runner        Runner
	Links         Links
	Sleep         func(context.Context, time.Duration) error
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		base:     opts.BaseInterface,
		spoofMAC: opts.SpoofMAC,
		settle:   opts.Settle,
		runner:   opts.Runner,
		links:    opts.Links,
		sleep:    opts.Sleep,
	}
	if m.runner == nil {
		m.runner = ExecRunner{}
	}
	if m.links == nil {
		m.links = defaultLinks()
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	return m
}

// Base returns the physical interface name.
func (m *Manager) Base() string {
	return m.base
}

// Check inspects name through netlink, falling back to iwconfig for the mode.
func (m *Manager) Check(ctx context.Context, name string) Health {
	var h Health
	state, err := m.links.State(name)
	if err != nil {
		if !errors.Is(err, ErrLinkNotFound) {
			util.Warn("Link state for %s: %v", name, err)
		}
		return h
	}
	h.Exists = true
	h.Up = state.Up
	if state.Monitor {
		h.MonitorMode = true
		return h
	}

	out, err := m.runner.Run(ctx, "iwconfig", name)
	if err != nil {
		util.Debug("iwconfig %s: %v", name, err)
	}
	h.MonitorMode = bytes.Contains(out, []byte("Mode:Monitor"))
	return h
}

// Setup ensures monitor is in scan mode, creating it from the base interface
// and optionally assigning a spoofed address. Failure is a FatalSetupError.
func (m *Manager) Setup(ctx context.Context, monitor string) error {
	if h := m.Check(ctx, monitor); h.Exists && h.MonitorMode {
		util.Info("Using existing %s interface in monitor mode", monitor)
		if !h.Up {
			if err := m.links.SetUp(monitor); err != nil {
				return util.FatalSetup(monitor, err)
			}
		}
		return nil
	}

	if !m.baseExists(ctx) {
		return util.FatalSetup(monitor, fmt.Errorf("base interface %s not found", m.base))
	}

	util.Info("Setting up monitor mode on %s", m.base)
	if _, err := m.runner.Run(ctx, "airmon-ng", "start", m.base); err != nil {
		return util.FatalSetup(monitor, err)
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return err
	}

	if m.spoofMAC != "" {
		if err := m.spoof(monitor); err != nil {
			return util.FatalSetup(monitor, err)
		}
	}

	if h := m.Check(ctx, monitor); !h.Healthy() {
		return util.FatalSetup(monitor, fmt.Errorf("interface not in monitor mode after setup (exists=%t up=%t monitor=%t)", h.Exists, h.Up, h.MonitorMode))
	}
	util.Info("Monitor mode setup complete on %s", monitor)
	return nil
}

// Restore re-enters scan mode only if the interface is unhealthy.
func (m *Manager) Restore(ctx context.Context, monitor string) error {
	if m.Check(ctx, monitor).Healthy() {
		return nil
	}
	util.Warn("Interface %s unhealthy, restarting", monitor)
	return m.FullRestart(ctx, monitor)
}

// FullRestart stops and restarts scan mode unconditionally.
func (m *Manager) FullRestart(ctx context.Context, monitor string) error {
	util.Info("Restarting wireless interface %s", monitor)

	if _, err := m.runner.Run(ctx, "airmon-ng", "stop", monitor); err != nil {
		// The monitor interface may already be gone.
		util.Warn("airmon-ng stop %s: %v", monitor, err)
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return err
	}
	if _, err := m.runner.Run(ctx, "airmon-ng", "start", m.base); err != nil {
		return util.FatalSetup(monitor, err)
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return err
	}

	if h := m.Check(ctx, monitor); !h.Healthy() {
		return util.FatalSetup(monitor, errors.New("interface not in monitor mode after restart"))
	}
	util.Info("Wireless interface %s restarted", monitor)
	return nil
}

// Address reads the interface's current hardware address.
func (m *Manager) Address(name string) (string, error) {
	state, err := m.links.State(name)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(state.HardwareAddr.String()), nil
}

// spoof assigns the configured address. The link must be down while the
// address changes.
func (m *Manager) spoof(monitor string) error {
	addr, err := net.ParseMAC(m.spoofMAC)
	if err != nil {
		return fmt.Errorf("invalid spoof address %q: %w", m.spoofMAC, err)
	}
	util.Info("Assigning address %s to %s", addr, monitor)
	if err := m.links.SetDown(monitor); err != nil {
		return err
	}
	if err := m.links.SetHardwareAddr(monitor, addr); err != nil {
		// Leave the link usable with its old address before failing setup.
		if upErr := m.links.SetUp(monitor); upErr != nil {
			util.Warn("Failed to bring %s back up: %v", monitor, upErr)
		}
		return err
	}
	return m.links.SetUp(monitor)
}

func (m *Manager) baseExists(ctx context.Context) bool {
	if _, err := m.links.State(m.base); err == nil {
		return true
	}
	out, _ := m.runner.Run(ctx, "iwconfig", m.base)
	lower := strings.ToLower(string(out))
	return len(out) > 0 && !strings.Contains(lower, "no such device")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
