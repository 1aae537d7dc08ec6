// Package detection persists alerts to the append-only log and fans them out
// to live subscribers.
package detection

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// Log is the append-only detection log, one line per event.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog opens a log at path. The file is created on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// FormatLine renders an event as
// [YYYY-MM-DD HH:MM] | <address> | <name> | Ch: <channel> | List: <source>.
func FormatLine(e model.DetectionEvent) string {
	channel := e.Channel
	if channel == "" {
		channel = model.UnknownChannel
	}
	return fmt.Sprintf("[%s] | %s | %s | Ch: %s | List: %s",
		e.Timestamp.Format("2006-01-02 15:04"), e.Address, e.Name, channel, filepath.Base(e.SourceList))
}

// ParseLine is the inverse of FormatLine. The timestamp is parsed in loc.
func ParseLine(line string, loc *time.Location) (model.DetectionEvent, error) {
	var e model.DetectionEvent
	parts := strings.Split(line, " | ")
	if len(parts) != 5 || !strings.HasPrefix(parts[0], "[") || !strings.HasSuffix(parts[0], "]") {
		return e, fmt.Errorf("malformed detection line: %q", line)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", strings.Trim(parts[0], "[]"), loc)
	if err != nil {
		return e, fmt.Errorf("malformed detection timestamp: %w", err)
	}
	e.Timestamp = ts
	e.Address = parts[1]
	e.Name = parts[2]
	e.Channel = strings.TrimPrefix(parts[3], "Ch: ")
	e.SourceList = strings.TrimPrefix(parts[4], "List: ")
	return e, nil
}

// Append writes one event.
func (l *Log) Append(e model.DetectionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := util.EnsureDir(filepath.Dir(l.path)); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open detection log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, FormatLine(e)); err != nil {
		return fmt.Errorf("failed to write detection log: %w", err)
	}
	return nil
}

// Lines returns the log's lines, oldest first. A missing log is empty.
func (l *Log) Lines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// Clear truncates the log.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := util.EnsureDir(filepath.Dir(l.path)); err != nil {
		return err
	}
	return os.WriteFile(l.path, nil, 0644)
}
