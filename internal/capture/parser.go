// Package capture runs the capture tool for one cycle and parses its CSV output.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/util"
)

// channelColumn is the zero-based CSV column holding the channel number.
const channelColumn = 3

var addressPattern = regexp.MustCompile(`(?i)(?:[0-9A-F]{2}[:-]){5}[0-9A-F]{2}`)

// Record is one capture line that mentioned at least one address.
type Record struct {
	Raw        string
	Candidates []model.CaptureCandidate
}

// Addresses returns the normalized candidate addresses on the line.
func (r Record) Addresses() []string {
	out := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		out[i] = model.NormalizeAddress(c.RawAddress)
	}
	return out
}

// Channel returns the channel shared by every candidate on the line.
func (r Record) Channel() string {
	if len(r.Candidates) == 0 {
		return model.UnknownChannel
	}
	return r.Candidates[0].Channel
}

// ParseLine extracts candidates from one line. ok is false when the line
// carries no address.
func ParseLine(line string) (Record, bool) {
	found := addressPattern.FindAllString(line, -1)
	if len(found) == 0 {
		return Record{}, false
	}

	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	channel := model.UnknownChannel
	if len(parts) > channelColumn && parts[channelColumn] != "" {
		channel = parts[channelColumn]
	}

	rec := Record{Raw: line, Candidates: make([]model.CaptureCandidate, 0, len(found))}
	for _, addr := range found {
		rec.Candidates = append(rec.Candidates, model.CaptureCandidate{
			RawAddress:   addr,
			Channel:      channel,
			VendorFields: parts,
		})
	}
	return rec, true
}

// Parse turns raw lines into records, skipping lines without addresses.
func Parse(lines []string) []Record {
	var records []Record
	for _, line := range lines {
		if rec, ok := ParseLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// ReadOutput reads every CSV file the capture tool wrote at prefix.
// Unreadable files are logged and skipped.
func ReadOutput(prefix string) ([]string, error) {
	files, err := filepath.Glob(prefix + "*.csv")
	if err != nil {
		return nil, fmt.Errorf("invalid output prefix %q: %w", prefix, err)
	}
	sort.Strings(files)

	var lines []string
	for _, path := range files {
		fileLines, err := readLines(path)
		if err != nil {
			util.Warn("Failed to read capture output %s: %v", path, err)
			continue
		}
		lines = append(lines, fileLines...)
	}
	return lines, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
