// Package report generates detection history reports.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
)

// Generator creates detection reports from the history database.
type Generator struct {
	detections *storage.DetectionStorage
	devices    *storage.DeviceStorage
	incidents  *storage.IncidentStorage
	config     *util.Config
}

// NewGenerator creates a new report generator.
func NewGenerator(db *storage.DB, cfg *util.Config) *Generator {
	return &Generator{
		detections: storage.NewDetectionStorage(db),
		devices:    storage.NewDeviceStorage(db),
		incidents:  storage.NewIncidentStorage(db),
		config:     cfg,
	}
}

// Options selects the report window.
type Options struct {
	Since time.Time
	Until time.Time
}

// ReportData holds all data for a report.
type ReportData struct {
	GeneratedAt time.Time
	Since       time.Time
	Until       time.Time

	Detections     []model.DetectionEvent
	DetectionCount int
	ByList         map[string]int
	ByHour         [24]int

	Devices []model.DeviceSummary

	Incidents      []model.Incident
	IncidentCounts map[model.IncidentType]int
}

// ListCount is one row of the per-list tally.
type ListCount struct {
	List  string
	Count int
}

// Lists returns the per-list tally, largest first.
func (d *ReportData) Lists() []ListCount {
	out := make([]ListCount, 0, len(d.ByList))
	for l, c := range d.ByList {
		out = append(out, ListCount{List: l, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].List < out[j].List
	})
	return out
}

// Generate creates a report for the specified time range.
func (g *Generator) Generate(opts Options) (*ReportData, error) {
	if opts.Until.IsZero() {
		opts.Until = time.Now()
	}
	data := &ReportData{
		GeneratedAt:    time.Now(),
		Since:          opts.Since,
		Until:          opts.Until,
		ByList:         make(map[string]int),
		IncidentCounts: make(map[model.IncidentType]int),
	}

	events, err := g.detections.GetHistory(opts.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to get detection history: %w", err)
	}
	for _, e := range events {
		if e.Timestamp.After(opts.Until) {
			continue
		}
		data.Detections = append(data.Detections, e)
		data.ByList[filepath.Base(e.SourceList)]++
		data.ByHour[e.Timestamp.Local().Hour()]++
	}
	data.DetectionCount = len(data.Detections)

	devices, err := g.devices.SeenSince(opts.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	data.Devices = devices

	incidents, err := g.incidents.GetHistory(opts.Since)
	if err != nil {
		util.Warn("Failed to load incidents for report: %v", err)
	}
	for _, inc := range incidents {
		if inc.Timestamp.After(opts.Until) {
			continue
		}
		data.Incidents = append(data.Incidents, inc)
		data.IncidentCounts[inc.Type]++
	}

	return data, nil
}

// FormatMarkdown renders a report as markdown.
func FormatMarkdown(data *ReportData) string {
	var sb strings.Builder

	sb.WriteString("# OUI-Prox Detection Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s  \n", data.GeneratedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n",
		data.Since.Format("2006-01-02 15:04"), data.Until.Format("2006-01-02 15:04")))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	sb.WriteString(fmt.Sprintf("| Detections | %d |\n", data.DetectionCount))
	sb.WriteString(fmt.Sprintf("| Distinct devices | %d |\n", len(data.Devices)))
	sb.WriteString(fmt.Sprintf("| Lists with hits | %d |\n", len(data.ByList)))
	sb.WriteString(fmt.Sprintf("| Recoveries | %d |\n", data.IncidentCounts[model.IncidentRecovery]))
	sb.WriteString(fmt.Sprintf("| Cycle errors | %d |\n\n", data.IncidentCounts[model.IncidentCycleError]))

	if data.DetectionCount == 0 {
		sb.WriteString("_No detections in this window._\n")
		return sb.String()
	}

	sb.WriteString("## Detections by List\n\n")
	lists := data.Lists()
	slices := make([]PieSlice, 0, len(lists))
	for _, l := range lists {
		slices = append(slices, PieSlice{Label: l.List, Value: l.Count})
	}
	sb.WriteString(GeneratePieChart("Detections by list", slices))
	sb.WriteString("\n| List | Detections |\n|---|---|\n")
	for _, l := range lists {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", l.List, l.Count))
	}
	sb.WriteString("\n")

	sb.WriteString("## Activity by Hour\n\n")
	sb.WriteString(GenerateHourlyChart(data.ByHour))
	sb.WriteString("\n")

	if len(data.Devices) > 0 {
		sb.WriteString("## Devices\n\n")
		sb.WriteString("| Address | Name | List | Count | First seen | Last seen | Last channel |\n")
		sb.WriteString("|---|---|---|---|---|---|---|\n")
		for _, d := range data.Devices {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s | %d | %s | %s | %s |\n",
				d.Address, d.Name, filepath.Base(d.SourceList), d.Count,
				d.FirstSeen.Local().Format("01-02 15:04"), d.LastSeen.Local().Format("01-02 15:04"), d.LastChannel))
		}
		sb.WriteString("\n")
	}

	if len(data.Incidents) > 0 {
		sb.WriteString("## Incidents\n\n")
		for _, inc := range data.Incidents {
			sb.WriteString(fmt.Sprintf("- %s **%s** %s\n",
				inc.Timestamp.Local().Format("2006-01-02 15:04:05"), inc.Type, inc.Message))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// WriteMarkdownFile writes the report into dir under a timestamped name and
// returns the path.
func WriteMarkdownFile(data *ReportData, dir string) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	name := fmt.Sprintf("ouiprox_report_%s.md", data.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatMarkdown(data)), 0644); err != nil {
		return "", err
	}
	return path, nil
}
