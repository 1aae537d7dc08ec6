package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/ouiprox/internal/model"
)

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	Running   bool
	PID       int
	HasStatus bool
	Uptime    string
	UpdatedAt string
	Status    model.Status

	Detections24h int
	ByList        map[string]int
	Recent        []DetectionInfo
}

// DetectionInfo represents one detection for display.
type DetectionInfo struct {
	Time    string
	Address string
	Name    string
	Channel string
	List    string
}

// Dashboard is the main dashboard view.
type Dashboard struct {
	data   *DashboardData
	width  int
	height int
	notice string
}

// NewDashboard creates a new dashboard.
func NewDashboard(msg dataMsg, width, height int) *Dashboard {
	return &Dashboard{
		data:   msg.Data,
		width:  width,
		height: height,
	}
}

// SetSize updates the dashboard size.
func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var sb strings.Builder

	header := HeaderStyle.Width(d.width).Render("📡 OUI-Prox Dashboard")
	sb.WriteString(header)
	sb.WriteString("\n\n")

	sb.WriteString(d.renderControllerSection())
	sb.WriteString("\n")

	sb.WriteString(d.renderListsSection())
	sb.WriteString("\n")

	sb.WriteString(d.renderRecentSection())
	sb.WriteString("\n")

	if d.notice != "" {
		sb.WriteString(WarningStyle.Render(d.notice))
		sb.WriteString("\n")
	}

	help := HelpStyle.Render("Press 'p' to pause/resume • 'r' to refresh • 'q' to quit")
	sb.WriteString(help)

	return sb.String()
}

func (d *Dashboard) sectionWidth() int {
	w := d.width - 4
	if w < 40 {
		w = 40
	}
	return w
}

func (d *Dashboard) renderControllerSection() string {
	if !d.data.HasStatus {
		content := DimStyle.Render("No status file yet. Start the daemon with 'ouiprox start'.")
		return SectionStyle.Width(d.sectionWidth()).Render(
			SectionTitleStyle.Render("⚙️ Detection Loop") + "\n" + content)
	}

	st := d.data.Status
	state := RenderStatus(d.data.Running, fmt.Sprintf("running (PID %d)", d.data.PID), "stopped")
	if d.data.Running && st.Paused {
		state = WarningStyle.Render("⏸ paused")
	}

	errors := fmt.Sprintf("%d", st.ConsecutiveErrorCount)
	if st.ConsecutiveErrorCount > 0 {
		errors = WarningStyle.Render(errors + "  " + truncate(st.LastError, 40))
	}

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s",
		LabelStyle.Render("State:"), state,
		LabelStyle.Render("Interface:"), RenderStatus(st.InterfaceHealthy, st.Plan.Interface, st.Plan.Interface+" unhealthy"),
		LabelStyle.Render("Phase:"), ValueStyle.Render(string(st.Phase)),
		LabelStyle.Render("Cycles:"), ValueStyle.Render(fmt.Sprintf("%d (%d recoveries)", st.CycleCount, st.Recoveries)),
		LabelStyle.Render("Errors:"), errors,
		LabelStyle.Render("Plan:"), ValueStyle.Render(renderPlan(st.Plan)),
		LabelStyle.Render("Updated:"), DimStyle.Render(d.data.UpdatedAt+" (up "+d.data.Uptime+")"),
	)

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("⚙️ Detection Loop") + "\n" + content)
}

func (d *Dashboard) renderListsSection() string {
	title := SectionTitleStyle.Render(fmt.Sprintf("📋 Last 24h: %d detections", d.data.Detections24h))
	if len(d.data.ByList) == 0 {
		return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + DimStyle.Render("No detections yet"))
	}

	names := make([]string, 0, len(d.data.ByList))
	max := 0
	for name, c := range d.data.ByList {
		names = append(names, name)
		if c > max {
			max = c
		}
	}
	sort.Strings(names)

	var rows []string
	for _, name := range names {
		c := d.data.ByList[name]
		rows = append(rows, fmt.Sprintf("%-18s %s %d", truncate(filepath.Base(name), 18), RenderBar(c, max, 20), c))
	}
	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}

func (d *Dashboard) renderRecentSection() string {
	title := SectionTitleStyle.Render("🔔 Recent Detections")
	if len(d.data.Recent) == 0 {
		return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + DimStyle.Render("Nothing detected yet"))
	}

	var rows []string
	rows = append(rows, TableHeaderStyle.Render(fmt.Sprintf("%-15s %-18s %-20s %-5s %-12s", "Time", "Address", "Name", "Ch", "List")))
	for i, r := range d.data.Recent {
		row := fmt.Sprintf("%-15s %-18s %-20s %-5s %-12s",
			r.Time, r.Address, truncate(r.Name, 20), r.Channel, truncate(filepath.Base(r.List), 12))
		if i%2 == 1 {
			row = TableRowAltStyle.Render(row)
		}
		rows = append(rows, row)
	}

	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}

func renderPlan(p model.CapturePlan) string {
	if p.Empty() {
		return "idle (no channels selected)"
	}
	return fmt.Sprintf("band %s, channels %s, %ds", p.BandMode, strings.Join(p.Channels, ","), p.CaptureSeconds)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
