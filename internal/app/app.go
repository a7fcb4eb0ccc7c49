// Package app wires the transfer queue, the playback controller and their
// supporting services into one lifecycle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/config"
	apperrors "github.com/deemusic/deemusic-player/internal/errors"
	"github.com/deemusic/deemusic-player/internal/events"
	"github.com/deemusic/deemusic-player/internal/metadata"
	"github.com/deemusic/deemusic-player/internal/monitoring"
	"github.com/deemusic/deemusic-player/internal/network"
	"github.com/deemusic/deemusic-player/internal/playback"
	"github.com/deemusic/deemusic-player/internal/resolver"
	"github.com/deemusic/deemusic-player/internal/store"
	"github.com/deemusic/deemusic-player/internal/transcode"
	"github.com/deemusic/deemusic-player/internal/transfer"
)

// Version is reported by health checks
const Version = "2.0.0"

// resolverCacheTTL bounds how long a resolved reference is reused
const resolverCacheTTL = 30 * time.Minute

// Options override parts of the wiring. Zero values use the defaults built
// from configuration.
type Options struct {
	// Engine drives playback. Without one the playback operations fail.
	Engine playback.Engine
	// Resolver replaces the catalog resolver
	Resolver resolver.Resolver
	// Logger replaces the logger built from the logging section
	Logger *zap.Logger
	// ConfigPath, when set, is watched and live-reloadable settings are
	// applied on every valid edit
	ConfigPath string
}

// App owns every long-lived service
type App struct {
	cfg  *config.Config
	opts Options

	mu          sync.RWMutex
	initialized bool
	ctx         context.Context
	cancel      context.CancelFunc

	logger     *zap.Logger
	hub        *events.Hub
	db         *sql.DB
	history    *store.HistoryStore
	settings   *config.SettingsStore
	resolver   resolver.Resolver
	downloader *network.Downloader
	queue      *transfer.Queue
	controller *playback.Controller
	health     *monitoring.HealthChecker
}

// New creates an application for cfg. Call Initialize before use.
func New(cfg *config.Config, opts Options) *App {
	return &App{cfg: cfg, opts: opts}
}

// Initialize builds and starts every service. Calling it twice is a no-op.
func (a *App) Initialize(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	logger := a.opts.Logger
	if logger == nil {
		logger, err = monitoring.NewLogger(a.cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
	}
	a.logger = logger

	// Undo partial startup
	defer func() {
		if err != nil {
			a.teardown()
		}
	}()

	a.ctx, a.cancel = context.WithCancel(ctx)

	a.hub = events.NewHub(logger)
	a.hub.Start()

	if a.cfg.History.Enabled {
		a.db, err = store.InitDB(a.cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		a.history = store.NewHistoryStore(a.db)
	}

	clientConfig, err := network.ClientConfigFrom(a.cfg.Network)
	if err != nil {
		return fmt.Errorf("invalid network configuration: %w", err)
	}
	apiClient := network.NewClient(clientConfig)

	a.resolver = a.opts.Resolver
	if a.resolver == nil {
		httpResolver := resolver.NewHTTPResolver(a.cfg.Resolver, apiClient, logger)
		a.resolver = resolver.NewCachingResolver(httpResolver, resolverCacheTTL)
	}

	worker, err := a.buildWorker(clientConfig, apiClient)
	if err != nil {
		return err
	}

	a.queue = transfer.NewQueue(a.hub, worker, a.cfg.Download.ConcurrentDownloads, logger)
	if err := a.queue.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start transfer queue: %w", err)
	}

	a.settings, err = config.OpenSettings(a.cfg.Playback.StatePath, a.cfg.Playback, a.cfg.Download.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	if a.opts.Engine != nil {
		settle := time.Duration(a.cfg.Playback.SettleTimeoutMS) * time.Millisecond
		a.controller = playback.NewController(a.opts.Engine, a.hub, a.settings, settle, logger)
		a.controller.Start()
	}

	a.health = monitoring.NewHealthChecker(Version, a.db, a.cfg.Download.ConcurrentDownloads)

	if a.opts.ConfigPath != "" {
		config.Watch(a.opts.ConfigPath, logger, a.applyConfig)
	}

	a.initialized = true
	logger.Info("Application initialized",
		zap.String("output_dir", a.outputDir()),
		zap.Int("concurrent_downloads", a.cfg.Download.ConcurrentDownloads),
		zap.Bool("history", a.history != nil),
		zap.Bool("playback", a.controller != nil))
	return nil
}

// buildWorker assembles the transfer pipeline from the download section
func (a *App) buildWorker(clientConfig *network.ClientConfig, apiClient *http.Client) (*transfer.Worker, error) {
	a.downloader = network.NewDownloader(network.NewDownloadClient(clientConfig), a.cfg.Network.BandwidthLimit, a.logger)

	opts := []transfer.WorkerOption{transfer.WithFinishedHook(a.recordHistory)}

	if a.cfg.Download.Transcode {
		transcoder, err := transcode.NewFFmpegTranscoder(a.cfg.Download.FFmpegPath, a.cfg.Download.TranscodeFormat, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create transcoder: %w", err)
		}
		opts = append(opts, transfer.WithTranscoder(transcoder))
	}

	if a.cfg.Download.WriteTags {
		var artwork *metadata.ArtworkFetcher
		if a.cfg.Download.EmbedArtwork {
			var err error
			artwork, err = metadata.NewArtworkFetcher(a.cfg.Download.CoverCacheDir, a.cfg.Download.CoverFetchLimit, apiClient, a.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create artwork fetcher: %w", err)
			}
		}
		tagger := metadata.NewManager(&metadata.Config{
			EmbedArtwork: a.cfg.Download.EmbedArtwork,
			ArtworkSize:  a.cfg.Download.ArtworkSize,
		}, artwork, a.logger)
		opts = append(opts, transfer.WithTagger(tagger))
	}

	return transfer.NewWorker(a.downloader, a.logger, opts...), nil
}

// applyConfig takes over the settings of a reloaded configuration that can
// change while running. Everything else keeps its startup value.
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.initialized {
		return
	}

	if cfg.Network.BandwidthLimit != a.downloader.BandwidthLimit() {
		a.downloader.SetBandwidthLimit(cfg.Network.BandwidthLimit)
	}
	if a.controller != nil {
		a.controller.SetSettleTimeout(time.Duration(cfg.Playback.SettleTimeoutMS) * time.Millisecond)
	}
	if cfg.Download.ConcurrentDownloads != a.queue.MaxWorkers() {
		a.logger.Info("Concurrent download change applies after restart",
			zap.Int("current", a.queue.MaxWorkers()),
			zap.Int("configured", cfg.Download.ConcurrentDownloads))
	}
}

// recordHistory stores the terminal snapshot of a transfer
func (a *App) recordHistory(snap transfer.Snapshot) {
	if a.history == nil {
		return
	}
	entry := &store.Entry{
		RecordID:     snap.ID,
		SourceURI:    snap.SourceURI,
		DisplayName:  snap.DisplayName,
		OutputPath:   snap.OutputPath,
		Status:       string(snap.State),
		ErrorMessage: snap.Error,
		Bytes:        snap.BytesDone,
	}
	if err := a.history.Add(entry); err != nil {
		a.logger.Warn("Failed to record transfer history",
			zap.String("id", snap.ID),
			zap.Error(err))
	}
}

// Shutdown cancels every transfer, stops the services, and closes the
// database
func (a *App) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return
	}
	a.logger.Info("Shutting down")
	a.teardown()
	a.initialized = false
	a.logger.Sync()
}

// teardown releases whatever Initialize managed to start
func (a *App) teardown() {
	if a.controller != nil {
		a.controller.Close()
		a.controller = nil
	}
	if a.queue != nil {
		a.queue.Stop()
		a.queue = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.hub != nil {
		a.hub.Stop()
		a.hub = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close history database", zap.Error(err))
		}
		a.db = nil
		a.history = nil
	}
}

// Hub returns the event hub
func (a *App) Hub() *events.Hub { return a.hub }

// Queue returns the transfer queue
func (a *App) Queue() *transfer.Queue { return a.queue }

// History returns the history store, nil when history is disabled
func (a *App) History() *store.HistoryStore { return a.history }

// Settings returns the persistent playback settings
func (a *App) Settings() *config.SettingsStore { return a.settings }

// Controller returns the playback controller, nil without an engine
func (a *App) Controller() *playback.Controller { return a.controller }

// Logger returns the application logger
func (a *App) Logger() *zap.Logger { return a.logger }

// Health runs the health checks against the current queue
func (a *App) Health(ctx context.Context) (*monitoring.HealthCheck, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	size, err := a.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	load := monitoring.QueueLoad{Size: size, Active: a.queue.ActiveCount()}
	if a.history != nil {
		if counts, err := a.history.Count(); err == nil {
			load.Failed = counts[string(transfer.StateError)]
		}
	}
	return a.health.Check(load), nil
}

// SetDownloadFolder makes dir the folder for every download queued from now
// on and remembers it across runs. Transfers already queued keep their
// destination.
func (a *App) SetDownloadFolder(dir string) (string, error) {
	if err := a.checkInitialized(); err != nil {
		return "", err
	}
	if dir == "" {
		return "", apperrors.NewValidationError("download folder cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", apperrors.NewFileSystemError("failed to resolve download folder", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", apperrors.NewFileSystemError("failed to create download folder", err)
	}
	if err := a.settings.SetDownloadFolder(abs); err != nil {
		return "", apperrors.NewFileSystemError("failed to store download folder", err)
	}
	a.logger.Info("Download folder changed", zap.String("path", abs))
	return abs, nil
}

// outputDir prefers the download folder chosen at runtime
func (a *App) outputDir() string {
	if a.settings != nil {
		if dir := a.settings.DownloadFolder(); dir != "" {
			return dir
		}
	}
	return a.cfg.Download.OutputDir
}

func (a *App) checkInitialized() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.initialized {
		return fmt.Errorf("application not initialized")
	}
	return nil
}

// fileExists reports whether a finished file is already on disk
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
