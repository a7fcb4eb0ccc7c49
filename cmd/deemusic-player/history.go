package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deemusic/deemusic-player/internal/store"
)

var (
	historyStatus    string
	historyLimit     int
	historyCorrupted bool
	historyClearDays int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished transfers",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only show entries in this state (done, error, canceled)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of entries to show")
	historyCmd.Flags().BoolVar(&historyCorrupted, "corrupted", false, "list references that no longer resolve")
	historyCmd.Flags().IntVar(&historyClearDays, "clear-older-than", -1, "delete entries older than this many days (0 deletes all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("transfer history is disabled")
	}

	db, err := store.InitDB(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	history := store.NewHistoryStore(db)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	switch {
	case historyClearDays >= 0:
		var cutoff time.Time
		if historyClearDays > 0 {
			cutoff = time.Now().AddDate(0, 0, -historyClearDays)
		}
		n, err := history.Clear(cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "removed %d entries\n", n)

	case historyCorrupted:
		entries, err := history.ListCorrupted()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "REFERENCE\tSEEN\tLAST SEEN\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Reference, e.SeenCount, e.LastSeen.Format(time.DateTime), e.Reason)
		}

	default:
		entries, err := history.List(historyStatus, 0, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "FINISHED\tSTATUS\tNAME\tOUTPUT")
		for _, e := range entries {
			output := e.OutputPath
			if e.ErrorMessage != "" {
				output = e.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.FinishedAt.Format(time.DateTime), e.Status, e.DisplayName, output)
		}
	}
	return nil
}
