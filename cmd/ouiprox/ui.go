package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard for a running daemon.

The dashboard shows:
- Detection loop state, interface health and the current channel plan
- Detections per list over the last 24 hours
- The most recent detections

Press 'p' to pause or resume detection, 'r' to refresh, 'q' to quit.`,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	app := tui.NewApp(db, cfg)
	return app.Run()
}
