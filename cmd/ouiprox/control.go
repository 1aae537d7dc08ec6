package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/ouiprox/internal/web"
)

var ignoreMinutes int

var ignoreCmd = &cobra.Command{
	Use:   "ignore <mac>",
	Short: "Temporarily stop alerting on a device",
	Long: `Mute a device on the running daemon for a number of minutes.

Examples:
  ouiprox ignore AA:BB:CC:DD:EE:FF
  ouiprox ignore AA:BB:CC:DD:EE:FF --minutes 120`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminClient().Ignore(args[0], ignoreMinutes)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Toggle detection pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		paused, err := adminClient().TogglePause()
		if err != nil {
			return err
		}
		if paused {
			fmt.Println("Detection paused")
		} else {
			fmt.Println("Detection resumed")
		}
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume detection",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminClient().Resume()
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var clearLogCmd = &cobra.Command{
	Use:   "clear-log",
	Short: "Clear the detection log",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminClient().ClearLog()
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

func init() {
	ignoreCmd.Flags().IntVar(&ignoreMinutes, "minutes", 60,
		"How long to ignore the device")
}

func adminClient() *web.Client {
	return web.NewClient(cfg.WebListen)
}
