package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Playback PlaybackConfig `json:"playback" mapstructure:"playback"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Resolver ResolverConfig `json:"resolver" mapstructure:"resolver"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// DownloadConfig contains transfer-related settings
type DownloadConfig struct {
	OutputDir           string `json:"output_dir" mapstructure:"output_dir"`
	ConcurrentDownloads int    `json:"concurrent_downloads" mapstructure:"concurrent_downloads"`
	Transcode           bool   `json:"transcode" mapstructure:"transcode"`
	TranscodeFormat     string `json:"transcode_format" mapstructure:"transcode_format"`
	FFmpegPath          string `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	WriteTags           bool   `json:"write_tags" mapstructure:"write_tags"`
	EmbedArtwork        bool   `json:"embed_artwork" mapstructure:"embed_artwork"`
	ArtworkSize         int    `json:"artwork_size" mapstructure:"artwork_size"`
	CoverFetchLimit     int    `json:"cover_fetch_limit" mapstructure:"cover_fetch_limit"`
	CoverCacheDir       string `json:"cover_cache_dir" mapstructure:"cover_cache_dir"`
	FilenameTemplate    string `json:"filename_template" mapstructure:"filename_template"`
}

// PlaybackConfig contains the initial playback settings and engine timing
type PlaybackConfig struct {
	Volume          int    `json:"volume" mapstructure:"volume"` // 0-100
	Muted           bool   `json:"muted" mapstructure:"muted"`
	Shuffle         bool   `json:"shuffle" mapstructure:"shuffle"`
	Repeat          string `json:"repeat" mapstructure:"repeat"` // none, all, single
	SettleTimeoutMS int    `json:"settle_timeout_ms" mapstructure:"settle_timeout_ms"`
	StatePath       string `json:"state_path" mapstructure:"state_path"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	ProxyURL       string `json:"proxy_url" mapstructure:"proxy_url"`
	Timeout        int    `json:"timeout" mapstructure:"timeout"`                 // seconds
	BandwidthLimit int    `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // KB/s, 0 = unlimited
}

// ResolverConfig contains content resolver settings
type ResolverConfig struct {
	BaseURL           string `json:"base_url" mapstructure:"base_url"`
	RequestsPerSecond int    `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int    `json:"burst" mapstructure:"burst"`
}

// HistoryConfig contains settings for the completed-transfers database
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			// First run: persist the defaults so the user has a file to edit
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("DEEMUSIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Download validation
	if c.Download.ConcurrentDownloads < 1 {
		return fmt.Errorf("concurrent downloads must be at least 1")
	}

	if c.Download.ConcurrentDownloads > 32 {
		return fmt.Errorf("concurrent downloads cannot exceed 32")
	}

	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if c.Download.CoverFetchLimit < 1 {
		return fmt.Errorf("cover fetch limit must be at least 1")
	}

	if c.Download.EmbedArtwork && (c.Download.ArtworkSize < 100 || c.Download.ArtworkSize > 5000) {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	if c.Download.Transcode {
		validFormats := map[string]bool{"mp3": true, "flac": true, "m4a": true, "ogg": true}
		if !validFormats[c.Download.TranscodeFormat] {
			return fmt.Errorf("invalid transcode format: %s (must be mp3, flac, m4a, or ogg)", c.Download.TranscodeFormat)
		}
	}

	// Playback validation
	if c.Playback.Volume < 0 || c.Playback.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100")
	}

	validRepeat := map[string]bool{"none": true, "all": true, "single": true}
	if !validRepeat[c.Playback.Repeat] {
		return fmt.Errorf("invalid repeat mode: %s (must be none, all, or single)", c.Playback.Repeat)
	}

	if c.Playback.SettleTimeoutMS < 1 {
		return fmt.Errorf("settle timeout must be at least 1 ms")
	}

	// Network validation
	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.BandwidthLimit < 0 {
		return fmt.Errorf("bandwidth limit cannot be negative")
	}

	// Resolver validation
	if c.Resolver.RequestsPerSecond < 1 {
		return fmt.Errorf("resolver requests per second must be at least 1")
	}

	if c.Resolver.Burst < 1 {
		return fmt.Errorf("resolver burst must be at least 1")
	}

	// History validation
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history database path cannot be empty when history is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("download", c.Download)
	v.Set("playback", c.Playback)
	v.Set("network", c.Network)
	v.Set("resolver", c.Resolver)
	v.Set("history", c.History)
	v.Set("logging", c.Logging)

	if err := ensureConfigDir(path); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return v.WriteConfig()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	// Download defaults
	v.SetDefault("download.output_dir", filepath.Join(dataDir, "downloads"))
	v.SetDefault("download.concurrent_downloads", 4)
	v.SetDefault("download.transcode", false)
	v.SetDefault("download.transcode_format", "mp3")
	v.SetDefault("download.ffmpeg_path", "ffmpeg")
	v.SetDefault("download.write_tags", true)
	v.SetDefault("download.embed_artwork", true)
	v.SetDefault("download.artwork_size", 1200)
	v.SetDefault("download.cover_fetch_limit", 10)
	v.SetDefault("download.cover_cache_dir", filepath.Join(dataDir, "cache", "covers"))
	v.SetDefault("download.filename_template", "{artist} - {title}")

	// Playback defaults
	v.SetDefault("playback.volume", 80)
	v.SetDefault("playback.muted", false)
	v.SetDefault("playback.shuffle", false)
	v.SetDefault("playback.repeat", "none")
	v.SetDefault("playback.settle_timeout_ms", 500)
	v.SetDefault("playback.state_path", filepath.Join(dataDir, "player_state.json"))

	// Network defaults
	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.bandwidth_limit", 0)

	// Resolver defaults
	v.SetDefault("resolver.base_url", "https://api.deezer.com")
	v.SetDefault("resolver.requests_per_second", 10)
	v.SetDefault("resolver.burst", 10)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", filepath.Join(dataDir, "data", "history.db"))

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "player.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// Default returns the configuration built from defaults alone
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults are constants; failing here is a programming error
		panic(err)
	}
	return cfg
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if IsPortableMode() {
		exePath, err := os.Executable()
		if err != nil {
			return "."
		}
		return filepath.Dir(exePath)
	}

	appData := os.Getenv("APPDATA")
	if appData == "" {
		appData = os.Getenv("HOME")
	}
	return filepath.Join(appData, "DeeMusicPlayer")
}

// IsPortableMode checks if the application is running in portable mode
func IsPortableMode() bool {
	exePath, err := os.Executable()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(filepath.Dir(exePath), ".portable"))
	return err == nil
}

// GetConfigPath returns the configuration file path based on mode
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}
