package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
)

var (
	detectionsLast  string
	detectionsLimit int
)

var detectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "List recorded detections",
	Long: `List detections from the history database, newest first.

Examples:
  ouiprox detections
  ouiprox detections --last 7d
  ouiprox detections --limit 20`,
	RunE: runDetections,
}

func init() {
	detectionsCmd.Flags().StringVar(&detectionsLast, "last", "24h",
		"Time range (e.g., 1h, 24h, 7d)")
	detectionsCmd.Flags().IntVarP(&detectionsLimit, "limit", "n", 0,
		"Show at most this many detections (0 shows all in range)")
}

func runDetections(cmd *cobra.Command, args []string) error {
	window, err := util.ParseDuration(detectionsLast)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	events, err := storage.NewDetectionStorage(db).GetHistory(time.Now().Add(-window))
	if err != nil {
		return err
	}
	if detectionsLimit > 0 && len(events) > detectionsLimit {
		events = events[:detectionsLimit]
	}

	if len(events) == 0 {
		fmt.Printf("No detections in the last %s\n", detectionsLast)
		return nil
	}

	fmt.Printf("%-19s  %-17s  %-24s  %-4s  %s\n", "Time", "Address", "Name", "Ch", "List")
	for _, e := range events {
		fmt.Printf("%-19s  %-17s  %-24s  %-4s  %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Address, e.Name, e.Channel, filepath.Base(e.SourceList))
	}
	fmt.Printf("\n%d detections\n", len(events))

	return nil
}
