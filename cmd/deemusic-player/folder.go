package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deemusic/deemusic-player/internal/app"
)

var folderCmd = &cobra.Command{
	Use:   "folder [path]",
	Short: "Show or change the download folder",
	Long: `Without an argument prints the folder new downloads are written to.
With a path the folder is created if needed and remembered for later runs.`,
	Args: cobra.MaximumNArgs(1),
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

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			dir := a.Settings().DownloadFolder()
			if dir == "" {
				dir = cfg.Download.OutputDir
			}
			fmt.Fprintln(out, dir)
			return nil
		}

		dir, err := a.SetDownloadFolder(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "download folder set to %s\n", dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(folderCmd)
}
