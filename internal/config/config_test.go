package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig(dir string) Config {
	return Config{
		Download: DownloadConfig{
			OutputDir:           dir,
			ConcurrentDownloads: 4,
			TranscodeFormat:     "mp3",
			WriteTags:           true,
			EmbedArtwork:        true,
			ArtworkSize:         1200,
			CoverFetchLimit:     10,
		},
		Playback: PlaybackConfig{
			Volume:          80,
			Repeat:          "none",
			SettleTimeoutMS: 500,
		},
		Network: NetworkConfig{
			Timeout: 30,
		},
		Resolver: ResolverConfig{
			BaseURL:           "https://api.deezer.com",
			RequestsPerSecond: 10,
			Burst:             10,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "history.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid concurrent downloads",
			mutate:  func(c *Config) { c.Download.ConcurrentDownloads = 0 },
			wantErr: true,
		},
		{
			name:    "empty output dir",
			mutate:  func(c *Config) { c.Download.OutputDir = "" },
			wantErr: true,
		},
		{
			name:    "invalid cover fetch limit",
			mutate:  func(c *Config) { c.Download.CoverFetchLimit = 0 },
			wantErr: true,
		},
		{
			name: "invalid transcode format",
			mutate: func(c *Config) {
				c.Download.Transcode = true
				c.Download.TranscodeFormat = "wav"
			},
			wantErr: true,
		},
		{
			name:    "volume out of range",
			mutate:  func(c *Config) { c.Playback.Volume = 101 },
			wantErr: true,
		},
		{
			name:    "invalid repeat mode",
			mutate:  func(c *Config) { c.Playback.Repeat = "forever" },
			wantErr: true,
		},
		{
			name:    "negative bandwidth limit",
			mutate:  func(c *Config) { c.Network.BandwidthLimit = -1 },
			wantErr: true,
		},
		{
			name:    "history enabled without path",
			mutate:  func(c *Config) { c.History.DBPath = "" },
			wantErr: true,
		},
		{
			name: "history disabled without path",
			mutate: func(c *Config) {
				c.History.Enabled = false
				c.History.DBPath = ""
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig("/tmp/downloads")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if cfg.Download.CoverFetchLimit != 10 {
		t.Errorf("Expected cover fetch limit 10, got %d", cfg.Download.CoverFetchLimit)
	}
	if cfg.Playback.Repeat != "none" {
		t.Errorf("Expected repeat none, got %s", cfg.Playback.Repeat)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config file to be written: %v", err)
	}
	if cfg.Download.ConcurrentDownloads != 4 {
		t.Errorf("Expected 4 concurrent downloads, got %d", cfg.Download.ConcurrentDownloads)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	cfg.Download.ConcurrentDownloads = 2
	cfg.Playback.Repeat = "all"
	cfg.Playback.Shuffle = true
	cfg.Network.BandwidthLimit = 512

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Download.ConcurrentDownloads != 2 {
		t.Errorf("Expected 2 concurrent downloads, got %d", loaded.Download.ConcurrentDownloads)
	}
	if loaded.Playback.Repeat != "all" {
		t.Errorf("Expected repeat all, got %s", loaded.Playback.Repeat)
	}
	if !loaded.Playback.Shuffle {
		t.Error("Expected shuffle to be true")
	}
	if loaded.Network.BandwidthLimit != 512 {
		t.Errorf("Expected bandwidth limit 512, got %d", loaded.Network.BandwidthLimit)
	}
}

func TestSettingsStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player_state.json")
	defaults := PlaybackConfig{Volume: 80, Repeat: "none"}

	store, err := OpenSettings(path, defaults, "/music")
	if err != nil {
		t.Fatalf("OpenSettings() error = %v", err)
	}

	if store.Volume() != 80 {
		t.Errorf("Expected default volume 80, got %d", store.Volume())
	}
	if store.DownloadFolder() != "/music" {
		t.Errorf("Expected default folder /music, got %s", store.DownloadFolder())
	}

	if err := store.SetVolume(35); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if err := store.SetMuted(true); err != nil {
		t.Fatalf("SetMuted() error = %v", err)
	}
	if err := store.SetRepeat("single"); err != nil {
		t.Fatalf("SetRepeat() error = %v", err)
	}
	if err := store.SetDownloadFolder("/other"); err != nil {
		t.Fatalf("SetDownloadFolder() error = %v", err)
	}

	reopened, err := OpenSettings(path, defaults, "/music")
	if err != nil {
		t.Fatalf("OpenSettings() reopen error = %v", err)
	}
	if reopened.Volume() != 35 {
		t.Errorf("Expected volume 35, got %d", reopened.Volume())
	}
	if !reopened.Muted() {
		t.Error("Expected muted to persist")
	}
	if reopened.Repeat() != "single" {
		t.Errorf("Expected repeat single, got %s", reopened.Repeat())
	}
	if reopened.DownloadFolder() != "/other" {
		t.Errorf("Expected folder /other, got %s", reopened.DownloadFolder())
	}
}

func TestSettingsStoreRejectsInvalid(t *testing.T) {
	store, err := OpenSettings(filepath.Join(t.TempDir(), "s.json"), PlaybackConfig{Repeat: "none"}, "/music")
	if err != nil {
		t.Fatalf("OpenSettings() error = %v", err)
	}

	if err := store.SetVolume(150); err == nil {
		t.Error("Expected error for volume 150")
	}
	if err := store.SetRepeat("twice"); err == nil {
		t.Error("Expected error for unknown repeat mode")
	}
	if err := store.SetDownloadFolder(""); err == nil {
		t.Error("Expected error for empty folder")
	}
}

func TestWatchReloads(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	changes := make(chan *Config, 4)
	Watch(configPath, nil, func(c *Config) { changes <- c })

	cfg.Download.ConcurrentDownloads = 6
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Download.ConcurrentDownloads == 6 {
				return
			}
		case <-deadline:
			t.Fatal("Timed out waiting for configuration reload")
		}
	}
}
