package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/daemon"
	"github.com/user/ouiprox/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  "Show the current status of the detection loop and recent detection totals.",
	RunE:  runStatus,
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func printField(label, value string) {
	fmt.Print(labelStyle.Render(label + " "))
	fmt.Println(valueStyle.Render(value))
}

func runStatus(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)

	fmt.Println(titleStyle.Render("OUI-Prox Status"))
	fmt.Println()

	fmt.Print(labelStyle.Render("Daemon: "))
	if running {
		fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", pid)))
	} else {
		fmt.Println(stoppedStyle.Render("Stopped"))
	}

	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		st := sf.Status
		printField("Started:", sf.StartTime)
		printField("Uptime:", sf.Uptime)
		printField("Updated:", sf.UpdatedAt)

		fmt.Println()
		fmt.Println(titleStyle.Render("Detection Loop"))

		state := "active"
		if st.Paused {
			state = "paused"
		}
		printField("  State:", state)
		printField("  Phase:", string(st.Phase))
		printField("  Cycles:", fmt.Sprintf("%d", st.CycleCount))

		fmt.Print(labelStyle.Render("  Interface: "))
		if st.InterfaceHealthy {
			fmt.Println(runningStyle.Render(st.Plan.Interface + " healthy"))
		} else {
			fmt.Println(stoppedStyle.Render(st.Plan.Interface + " unhealthy"))
		}

		if st.Plan.Empty() {
			printField("  Plan:", "idle (no channels selected)")
		} else {
			printField("  Plan:", fmt.Sprintf("band %s, channels %s, %ds",
				st.Plan.BandMode, strings.Join(st.Plan.Channels, ","), st.Plan.CaptureSeconds))
		}

		printField("  Errors:", fmt.Sprintf("%d consecutive", st.ConsecutiveErrorCount))
		if st.LastError != "" {
			printField("  Last error:", st.LastError)
		}
		printField("  Recoveries:", fmt.Sprintf("%d", st.Recoveries))
		printField("  Watchlist:", fmt.Sprintf("%d entries", st.Watchlist))
		printField("  Ignored:", fmt.Sprintf("%d devices", st.Ignored))
	}

	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return nil
	}
	defer db.Close()

	detections := storage.NewDetectionStorage(db)
	since := time.Now().Add(-24 * time.Hour)

	fmt.Println()
	fmt.Println(titleStyle.Render("Last 24h"))

	if count, err := detections.Count(since); err == nil {
		printField("  Detections:", fmt.Sprintf("%d", count))
	}
	if byList, err := detections.CountByList(since); err == nil {
		for list, n := range byList {
			printField("  "+filepath.Base(list)+":", fmt.Sprintf("%d", n))
		}
	}

	return nil
}
