// Package resolver turns catalog references into playable descriptors.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deemusic/deemusic-player/internal/batch"
	"github.com/deemusic/deemusic-player/internal/config"
	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/monitoring"
	"github.com/deemusic/deemusic-player/internal/playback"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Track is a resolved reference: the playable item plus the tags written
// when it is downloaded
type Track struct {
	playback.Item
	AlbumArtist string
	TrackNumber int
	Year        int
}

// Tags returns the tags for a downloaded copy of the track
func (t Track) Tags() transfer.Tags {
	return transfer.Tags{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		AlbumArtist: t.AlbumArtist,
		TrackNumber: t.TrackNumber,
		Year:        t.Year,
		CoverURL:    t.CoverURL,
	}
}

// Resolver resolves one reference. Implementations are idempotent per
// reference. Stale references fail with an invalid reference error,
// transport problems with a network error.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Track, error)
}

// HTTPResolver resolves references against the public catalog API
type HTTPResolver struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewHTTPResolver creates a resolver from configuration
func NewHTTPResolver(cfg config.ResolverConfig, client *http.Client, logger *zap.Logger) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	rps := cfg.RequestsPerSecond
	if rps < 1 {
		rps = 10
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = rps
	}

	return &HTTPResolver{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  client,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:      monitoring.Component(logger, "resolver"),
	}
}

// Resolve fetches the track behind ref. No request is retried.
func (r *HTTPResolver) Resolve(ctx context.Context, ref string) (Track, error) {
	id, ok := ParseReference(ref)
	if !ok {
		return Track{}, apperrors.NewInvalidReferenceError(ref, nil)
	}

	start := time.Now()
	track, err := r.fetch(ctx, id)
	status := "success"
	switch {
	case err == nil:
	case apperrors.IsInvalidReference(err):
		status = "invalid"
	case errors.Is(err, context.Canceled):
		status = "canceled"
	default:
		status = "error"
	}
	monitoring.RecordResolverRequest(status, time.Since(start))

	if err != nil {
		if status != "canceled" {
			r.logger.Debug("Resolve failed",
				zap.String("ref", ref),
				zap.Error(err))
		}
		return Track{}, err
	}

	item, err := toTrack(ref, track)
	if err != nil {
		return Track{}, err
	}
	return item, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, id string) (*apiTrack, error) {
	if err := r.rateLimiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewNetworkError("rate limiter error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/track/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewNetworkError("catalog unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewInvalidReferenceError(id, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewNetworkError(fmt.Sprintf("catalog request failed with status: %d", resp.StatusCode), nil)
	}

	var track apiTrack
	if err := json.NewDecoder(resp.Body).Decode(&track); err != nil {
		return nil, apperrors.NewNetworkError("failed to decode catalog response", err)
	}

	if track.Error != nil {
		cause := fmt.Errorf("API error %d: %s", track.Error.Code, track.Error.Message)
		switch track.Error.Code {
		case codeDataNotFound:
			return nil, apperrors.NewInvalidReferenceError(id, cause)
		case codeQuotaExceeded:
			return nil, apperrors.NewNetworkError("catalog quota exceeded", cause)
		default:
			return nil, apperrors.NewNetworkError("catalog error", cause)
		}
	}

	return &track, nil
}

// toTrack maps the API object. A track that is no longer readable or has
// nothing to stream is as stale as a missing one.
func toTrack(ref string, t *apiTrack) (Track, error) {
	if (t.Readable != nil && !*t.Readable) || t.PreviewURL == "" {
		return Track{}, apperrors.NewInvalidReferenceError(ref, errors.New("track is not available"))
	}

	out := Track{
		Item: playback.Item{
			ID:        t.ID.String(),
			SourceURI: t.PreviewURL,
			Title:     t.Title,
			Duration:  time.Duration(t.Duration) * time.Second,
		},
		TrackNumber: t.TrackPosition,
		Year:        year(t.ReleaseDate),
	}
	if t.Artist != nil {
		out.Artist = t.Artist.Name
	}
	if t.Album != nil {
		out.Album = t.Album.Title
		out.CoverURL = t.Album.CoverXL
		if out.CoverURL == "" {
			out.CoverURL = t.Album.CoverBig
		}
		if t.Album.Artist != nil {
			out.AlbumArtist = t.Album.Artist.Name
		}
		if out.Year == 0 {
			out.Year = year(t.Album.ReleaseDate)
		}
	}
	if out.AlbumArtist == "" {
		out.AlbumArtist = out.Artist
	}
	return out, nil
}

// ResolveAll resolves refs lazily, one per iteration, yielding a tagged
// result per reference in order. A canceled ctx ends the sequence with one
// failed result.
func ResolveAll(ctx context.Context, r Resolver, refs []string) iter.Seq[batch.Result[Track]] {
	return func(yield func(batch.Result[Track]) bool) {
		for i, ref := range refs {
			if err := ctx.Err(); err != nil {
				yield(batch.Fail[Track](i, ref, err))
				return
			}
			track, err := r.Resolve(ctx, ref)
			var res batch.Result[Track]
			if err != nil {
				res = batch.Fail[Track](i, ref, err)
			} else {
				res = batch.Ok(i, ref, track)
			}
			if !yield(res) {
				return
			}
		}
	}
}

// Items maps resolved tracks to playback items
func Items(seq iter.Seq[batch.Result[Track]]) iter.Seq[batch.Result[playback.Item]] {
	return batch.Then(seq, func(r batch.Result[Track]) (playback.Item, error) {
		return r.Value.Item, nil
	})
}
