package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// Spec describes one capture run.
type Spec struct {
	Interface    string
	BandMode     string
	Channels     []string
	OutputPrefix string
}

// Handle tracks a running capture process.
type Handle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	err     error
	started time.Time
}

// Pid returns the process id.
func (h *Handle) Pid() int {
	if h == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited polls the process without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited.
func (h *Handle) Err() error {
	if !h.Exited() {
		return nil
	}
	return h.err
}

// waitFor blocks until the process exits or d elapses.
func (h *Handle) waitFor(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// Supervisor owns the single capture process alive at any time.
type Supervisor struct {
	tool    string
	useSudo bool
	grace   time.Duration

	// killByName is the system-wide backstop run at the end of every stop.
	killByName func(name string) error

	mu      sync.Mutex
	current *Handle
}

// NewSupervisor creates a supervisor for tool.
func NewSupervisor(tool string, useSudo bool, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}
	s := &Supervisor{
		tool:    tool,
		useSudo: useSudo,
		grace:   grace,
	}
	s.killByName = s.pkill
	return s
}

// SetKillByName replaces the kill-by-name backstop.
func (s *Supervisor) SetKillByName(fn func(name string) error) {
	s.killByName = fn
}

// Args builds the capture tool's argument list.
func (s *Supervisor) Args(spec Spec) []string {
	return []string{
		"--output-format", "csv",
		"--write", spec.OutputPrefix,
		"--band", spec.BandMode,
		"--channel", strings.Join(spec.Channels, ","),
		spec.Interface,
	}
}

// Start cleans stale output at the spec's prefix and launches the tool.
// A previous process that is still alive is stopped first.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil && !prev.Exited() {
		util.Warn("Stale capture process %d still alive, stopping it", prev.Pid())
		s.Stop(prev)
	}

	Cleanup(spec.OutputPrefix)
	if err := util.EnsureDir(filepath.Dir(spec.OutputPrefix)); err != nil {
		return nil, util.Recoverable("prepare output dir", err)
	}

	name, args := s.tool, s.Args(spec)
	if s.useSudo {
		name, args = "sudo", append([]string{s.tool}, args...)
	}
	cmd := exec.Command(name, args...)

	util.Debug("Launching %s %s", name, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, util.Recoverable("launch capture", err)
	}

	h := &Handle{cmd: cmd, done: make(chan struct{}), started: time.Now()}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
	return h, nil
}

// Await blocks for d while watching the process. An exit before d elapses
// is a recoverable cycle failure.
func (s *Supervisor) Await(ctx context.Context, h *Handle, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		if h.Exited() {
			return util.Recoverable("capture", fmt.Errorf("capture tool exited early: %v", h.err))
		}
		return nil
	case <-h.done:
		elapsed := time.Since(h.started).Round(100 * time.Millisecond)
		cause := h.err
		if cause == nil {
			cause = errors.New("exit status 0")
		}
		return util.Recoverable("capture", fmt.Errorf("capture tool exited after %s of %s: %v", elapsed, d, cause))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capture runs one full cycle: launch, wait d, stop unconditionally, then read
// the output. Output is never read after a failed wait. phase, if set, is told
// about each transition.
func (s *Supervisor) Capture(ctx context.Context, spec Spec, d time.Duration, phase func(model.Phase)) ([]string, error) {
	report := func(p model.Phase) {
		if phase != nil {
			phase(p)
		}
	}

	report(model.PhaseLaunching)
	h, err := s.Start(ctx, spec)
	if err != nil {
		s.KillAll()
		return nil, err
	}

	report(model.PhaseCapturing)
	waitErr := s.Await(ctx, h, d)

	report(model.PhaseDraining)
	s.Stop(h)
	if waitErr != nil {
		return nil, waitErr
	}

	lines, err := ReadOutput(spec.OutputPrefix)
	if err != nil {
		return nil, util.Recoverable("read capture output", err)
	}
	return lines, nil
}

// Stop terminates h with escalating signals and then sweeps any instance of
// the tool by name. It never panics and never returns an error.
func (s *Supervisor) Stop(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("Capture stop panicked: %v", r)
		}
	}()

	if h != nil && h.cmd.Process != nil {
		steps := []struct {
			name string
			sig  os.Signal
		}{
			{"SIGTERM", unix.SIGTERM},
			{"SIGHUP", unix.SIGHUP},
			{"SIGKILL", unix.SIGKILL},
		}
		for _, step := range steps {
			if h.Exited() {
				break
			}
			if err := h.cmd.Process.Signal(step.sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				util.Warn("Failed to send %s to capture process %d: %v", step.name, h.Pid(), err)
			}
			if h.waitFor(s.grace) {
				util.Debug("Capture process %d exited after %s", h.Pid(), step.name)
				break
			}
		}
	}

	s.KillAll()

	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	s.mu.Unlock()
}

// KillAll force-kills every running instance of the tool by name.
func (s *Supervisor) KillAll() {
	if s.killByName == nil {
		return
	}
	if err := s.killByName(filepath.Base(s.tool)); err != nil {
		util.Warn("Kill-by-name sweep for %s failed: %v", s.tool, err)
	}
}

func (s *Supervisor) pkill(name string) error {
	bin, args := "pkill", []string{"-9", "-f", name}
	if s.useSudo {
		bin, args = "sudo", append([]string{"pkill"}, args...)
	}
	err := exec.Command(bin, args...).Run()
	var exitErr *exec.ExitError
	// pkill exits 1 when nothing matched.
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

// Cleanup removes capture output files at prefix. Missing files are fine.
func Cleanup(prefix string) {
	for _, pattern := range []string{prefix + "*.csv", prefix + "*.cap"} {
		files, err := filepath.Glob(pattern)
		if err != nil {
			util.Warn("Invalid cleanup pattern %s: %v", pattern, err)
			continue
		}
		for _, f := range files {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				util.Warn("Failed to remove %s: %v", f, err)
			}
		}
	}
}
