package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/report"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
)

var (
	reportLast   string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a detection report",
	Long: `Generate a markdown detection report with per-list and per-device
tallies and mermaid charts.

Examples:
  ouiprox report --last 24h
  ouiprox report --last 7d
  ouiprox report --last 1h --output ./report.md
  ouiprox report --output -`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportLast, "last", "24h",
		"Time range (e.g., 1h, 24h, 7d)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"Output file path, or - for stdout (default: auto-generated)")
}

func runReport(cmd *cobra.Command, args []string) error {
	duration, err := util.ParseDuration(reportLast)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	until := time.Now()
	since := until.Add(-duration)

	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	gen := report.NewGenerator(db, cfg)
	data, err := gen.Generate(report.Options{Since: since, Until: until})
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	switch reportOutput {
	case "-":
		fmt.Println(report.FormatMarkdown(data))
		return nil
	case "":
		outputPath, err := report.WriteMarkdownFile(data, cfg.ReportOutputDir)
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", outputPath)
	default:
		if err := os.WriteFile(reportOutput, []byte(report.FormatMarkdown(data)), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", reportOutput)
	}

	fmt.Println()
	fmt.Printf("Report for %s to %s\n", since.Format("2006-01-02 15:04"), until.Format("2006-01-02 15:04"))
	fmt.Printf("  Detections: %d\n", data.DetectionCount)
	fmt.Printf("  Devices: %d\n", len(data.Devices))
	for _, l := range data.Lists() {
		fmt.Printf("  %s: %d\n", l.List, l.Count)
	}
	fmt.Printf("  Incidents: %d\n", len(data.Incidents))

	return nil
}
