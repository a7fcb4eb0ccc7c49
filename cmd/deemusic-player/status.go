package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deemusic/deemusic-player/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print health and playback settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a := app.New(cfg, app.Options{})
		if err := a.Initialize(cmd.Context()); err != nil {
			return err
		}
		defer a.Shutdown()

		health, err := a.Health(cmd.Context())
		if err != nil {
			return err
		}

		settings := a.Settings()
		out := struct {
			Health   any `json:"health"`
			Settings any `json:"settings"`
		}{
			Health: health,
			Settings: map[string]any{
				"volume":          settings.Volume(),
				"muted":           settings.Muted(),
				"shuffle":         settings.Shuffle(),
				"repeat":          settings.Repeat(),
				"download_folder": settings.DownloadFolder(),
			},
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
