package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"

	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/batch"
	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/events"
	"github.com/deemusic/deemusic-player/internal/playback"
	"github.com/deemusic/deemusic-player/internal/resolver"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

// BatchSummary is the payload of events.BatchCompleted
type BatchSummary struct {
	Operation string        `json:"operation"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcome   batch.Outcome `json:"outcome"`
	Message   string        `json:"message"`
	Corrupted []string      `json:"corrupted,omitempty"`
}

// DownloadItems resolves refs and queues a transfer for each track. Stale
// references are marked corrupted and do not stop the rest of the batch. The
// error is non-nil only when every reference failed.
func (a *App) DownloadItems(ctx context.Context, refs []string) (*batch.Report[*transfer.Record], error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}

	seq := batch.Then(resolver.ResolveAll(ctx, a.resolver, refs), func(r batch.Result[resolver.Track]) (*transfer.Record, error) {
		return a.enqueueTrack(ctx, r.Value)
	})
	report := batch.Collect(seq)
	finishBatch(a, "download", report)
	return report, report.Err()
}

// enqueueTrack queues track, or adds a skipped placeholder when the file is
// already on disk. A track already in the queue counts as queued.
func (a *App) enqueueTrack(ctx context.Context, track resolver.Track) (*transfer.Record, error) {
	dest := buildTrackPath(a.outputDir(), a.cfg.Download.FilenameTemplate, track)
	item := transfer.Item{
		SourceURI:   track.SourceURI,
		DisplayName: track.Artist + " - " + track.Title,
		Destination: dest,
		Tags:        track.Tags(),
	}

	if fileExists(dest) {
		rec, _, err := a.queue.AddPlaceholder(ctx, item, transfer.StateSkipped)
		return rec, err
	}

	rec, _, err := a.queue.Enqueue(ctx, item)
	if errors.Is(err, transfer.ErrDestinationInUse) {
		// Two catalog entries expand to the same file name
		item.Destination = disambiguate(dest, track.SourceURI)
		if fileExists(item.Destination) {
			rec, _, err = a.queue.AddPlaceholder(ctx, item, transfer.StateSkipped)
			return rec, err
		}
		rec, _, err = a.queue.Enqueue(ctx, item)
	}
	return rec, err
}

// DownloadURLs queues direct downloads that need no resolution
func (a *App) DownloadURLs(ctx context.Context, urls []string) (*batch.Report[*transfer.Record], error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}

	var seq iter.Seq[batch.Result[*transfer.Record]] = func(yield func(batch.Result[*transfer.Record]) bool) {
		for i, raw := range urls {
			rec, err := a.enqueueURL(ctx, raw)
			res := batch.Ok(i, raw, rec)
			if err != nil {
				res = batch.Fail[*transfer.Record](i, raw, err)
			}
			if !yield(res) {
				return
			}
		}
	}

	report := batch.Collect(seq)
	finishBatch(a, "download_urls", report)
	return report, report.Err()
}

func (a *App) enqueueURL(ctx context.Context, raw string) (*transfer.Record, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("not a downloadable URL: %s", raw))
	}

	item := transfer.Item{
		SourceURI:   raw,
		DisplayName: displayNameOf(raw),
		Destination: urlPath(a.outputDir(), raw),
	}
	rec, _, err := a.queue.Enqueue(ctx, item)
	if errors.Is(err, transfer.ErrDestinationInUse) {
		// Another URL with the same file name is downloading
		item.Destination = disambiguate(item.Destination, raw)
		rec, _, err = a.queue.Enqueue(ctx, item)
	}
	return rec, err
}

// Play replaces the playback list with the tracks behind refs and starts the
// first one. Subscribers see media.replacing before resolution begins.
func (a *App) Play(ctx context.Context, refs []string) (*batch.Report[playback.Item], error) {
	controller, err := a.playbackController()
	if err != nil {
		return nil, err
	}

	report, err := controller.ReplaceResolved(ctx, resolver.Items(resolver.ResolveAll(ctx, a.resolver, refs)))
	if report != nil {
		finishBatch(a, "play", report)
	}
	return report, err
}

// AddToNowPlaying appends the tracks behind refs to the playback list
func (a *App) AddToNowPlaying(ctx context.Context, refs []string) (*batch.Report[playback.Item], error) {
	return a.insertResolved(ctx, "add_to_now_playing", refs, func(c *playback.Controller, items []playback.Item) error {
		return c.Append(ctx, items)
	})
}

// PlayNext inserts the tracks behind refs after the current item
func (a *App) PlayNext(ctx context.Context, refs []string) (*batch.Report[playback.Item], error) {
	return a.insertResolved(ctx, "play_next", refs, func(c *playback.Controller, items []playback.Item) error {
		return c.PlayNext(ctx, items)
	})
}

func (a *App) insertResolved(ctx context.Context, op string, refs []string, insert func(*playback.Controller, []playback.Item) error) (*batch.Report[playback.Item], error) {
	controller, err := a.playbackController()
	if err != nil {
		return nil, err
	}

	report := batch.Collect(resolver.Items(resolver.ResolveAll(ctx, a.resolver, refs)))
	finishBatch(a, op, report)

	if len(report.Succeeded) > 0 {
		if err := insert(controller, report.Succeeded); err != nil {
			return report, err
		}
	}
	return report, report.Err()
}

func (a *App) playbackController() (*playback.Controller, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	if a.controller == nil {
		return nil, fmt.Errorf("playback is not available without a media engine")
	}
	return a.controller, nil
}

// finishBatch marks stale references, logs the outcome and publishes it
func finishBatch[T any](a *App, op string, report *batch.Report[T]) {
	summary := BatchSummary{
		Operation: op,
		Total:     report.Total,
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failures),
		Outcome:   report.Outcome(),
		Message:   report.Message(),
	}

	for _, f := range report.InvalidReferences() {
		summary.Corrupted = append(summary.Corrupted, f.Key)
		if a.history == nil {
			continue
		}
		if err := a.history.MarkCorrupted(f.Key, f.Err.Error()); err != nil {
			a.logger.Warn("Failed to mark corrupted entry",
				zap.String("reference", f.Key),
				zap.Error(err))
		}
	}

	if summary.Failed > 0 {
		a.logger.Warn("Batch finished with failures",
			zap.String("operation", op),
			zap.Int("total", summary.Total),
			zap.Int("failed", summary.Failed),
			zap.String("outcome", string(summary.Outcome)))
	} else {
		a.logger.Info("Batch finished",
			zap.String("operation", op),
			zap.Int("total", summary.Total))
	}

	a.hub.Publish(events.BatchCompleted, summary)
}
