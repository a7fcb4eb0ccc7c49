package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deemusic/deemusic-player/internal/app"
	"github.com/deemusic/deemusic-player/internal/batch"
	"github.com/deemusic/deemusic-player/internal/events"
	"github.com/deemusic/deemusic-player/internal/resolver"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

var downloadCmd = &cobra.Command{
	Use:   "download <track-id|track-url|file-url>...",
	Short: "Download tracks and wait until the queue drains",
	Long: `Resolves catalog track references (IDs, track:<id>, or catalog links) and
downloads them. Any other http(s) URL is downloaded as is. Stale references
are reported and recorded as corrupted without stopping the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, app.Options{ConfigPath: watchedConfigPath()})
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	defer a.Shutdown()

	sub := a.Hub().Subscribe(1024)
	defer a.Hub().Unsubscribe(sub)

	refs, urls := splitArgs(args)
	out := cmd.OutOrStdout()

	var failed, total int
	if len(refs) > 0 {
		report, _ := a.DownloadItems(ctx, refs)
		printReport(out, "tracks", report)
		failed += len(report.Failures)
		total += report.Total
	}
	if len(urls) > 0 {
		report, _ := a.DownloadURLs(ctx, urls)
		printReport(out, "urls", report)
		failed += len(report.Failures)
		total += report.Total
	}

	results, err := follow(ctx, out, a, sub)
	if err != nil {
		a.Queue().CancelAll(context.Background())
		return err
	}

	fmt.Fprintf(out, "done: %d, failed: %d, canceled: %d\n",
		results[transfer.StateDone], results[transfer.StateError], results[transfer.StateCanceled])

	if total > 0 && failed == total {
		return fmt.Errorf("all %d items failed", total)
	}
	return nil
}

// splitArgs separates catalog references from direct URLs
func splitArgs(args []string) (refs, urls []string) {
	for _, arg := range args {
		if _, ok := resolver.ParseReference(arg); ok {
			refs = append(refs, arg)
			continue
		}
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			urls = append(urls, arg)
			continue
		}
		// Let the resolver report it as invalid
		refs = append(refs, arg)
	}
	return refs, urls
}

func printReport[T any](out io.Writer, what string, report *batch.Report[T]) {
	fmt.Fprintf(out, "%s: %s\n", what, report.Message())
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  #%d %s: %v\n", f.Index+1, f.Key, f.Err)
	}
}

// follow prints state changes until no record has a worker left, and
// returns the terminal state counts
func follow(ctx context.Context, out io.Writer, a *app.App, sub *events.Subscriber) (map[transfer.State]int, error) {
	results := make(map[transfer.State]int)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return results, ctx.Err()

		case ev, ok := <-sub.SendChan:
			if !ok {
				return results, nil
			}
			if ev.Type != events.TransferState {
				continue
			}
			snap, ok := ev.Payload.(transfer.Snapshot)
			if !ok {
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", snap.State, snap.DisplayName)
			if snap.State.IsTerminal() && !snap.Placeholder {
				results[snap.State]++
			}

		case <-ticker.C:
			busy, err := activeRecords(ctx, a)
			if err != nil {
				return results, err
			}
			if busy == 0 {
				return results, nil
			}
		}
	}
}

func activeRecords(ctx context.Context, a *app.App) (int, error) {
	snaps, err := a.Queue().Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range snaps {
		if !s.Placeholder && !s.State.IsTerminal() {
			n++
		}
	}
	return n, nil
}
