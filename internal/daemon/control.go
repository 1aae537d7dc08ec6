package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/ouiprox/internal/model"
)

const (
	pidFileName    = "ouiprox.pid"
	statusFileName = "status.json"
)

// CheckRunning checks if the daemon is already running.
func CheckRunning(dataDir string) (bool, int) {
	data, err := os.ReadFile(filepath.Join(dataDir, pidFileName))
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}

	// Signal 0 checks that the process exists without delivering anything. EPERM
	// still means it exists but belongs to another user (e.g. started via sudo).
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return false, 0
	}

	return true, pid
}

// SendStop sends a stop signal to the running daemon.
func SendStop(dataDir string) error {
	running, pid := CheckRunning(dataDir)
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	return nil
}

// StatusFile holds serialized daemon status.
type StatusFile struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid"`
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UpdatedAt string `json:"updated_at"`
	WebListen string `json:"web_listen,omitempty"`

	Status model.Status `json:"status"`
}

// WriteStatusFile writes the daemon status to a file. The file is replaced
// atomically so readers never see a partial write.
func WriteStatusFile(dataDir string, sf *StatusFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, statusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatusFile reads the daemon status from a file.
func ReadStatusFile(dataDir string) (*StatusFile, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, statusFileName))
	if err != nil {
		return nil, err
	}

	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}

	return &sf, nil
}

func newStatusFile(running bool, start time.Time, now time.Time, listen string, st model.Status) *StatusFile {
	return &StatusFile{
		Running:   running,
		PID:       os.Getpid(),
		StartTime: start.Format("2006-01-02 15:04:05"),
		Uptime:    now.Sub(start).Round(time.Second).String(),
		UpdatedAt: now.Format("2006-01-02 15:04:05"),
		WebListen: listen,
		Status:    st,
	}
}
