package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// Settings keys persisted by the player
const (
	KeyVolume         = "volume"
	KeyMuted          = "muted"
	KeyShuffle        = "shuffle"
	KeyRepeat         = "repeat"
	KeyDownloadFolder = "download_folder"
)

// SettingsStore is a small key-value file holding user preferences that
// change at runtime. It is read once when opened and written on every change.
type SettingsStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// OpenSettings loads the store at path, seeding missing keys from defaults.
func OpenSettings(path string, defaults PlaybackConfig, downloadDir string) (*SettingsStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault(KeyVolume, defaults.Volume)
	v.SetDefault(KeyMuted, defaults.Muted)
	v.SetDefault(KeyShuffle, defaults.Shuffle)
	v.SetDefault(KeyRepeat, defaults.Repeat)
	v.SetDefault(KeyDownloadFolder, downloadDir)

	if err := ensureConfigDir(path); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	return &SettingsStore{v: v, path: path}, nil
}

// Volume returns the stored volume (0-100)
func (s *SettingsStore) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetInt(KeyVolume)
}

// Muted returns the stored mute flag
func (s *SettingsStore) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(KeyMuted)
}

// Shuffle returns the stored shuffle flag
func (s *SettingsStore) Shuffle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool(KeyShuffle)
}

// Repeat returns the stored repeat mode
func (s *SettingsStore) Repeat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(KeyRepeat)
}

// DownloadFolder returns the stored download folder
func (s *SettingsStore) DownloadFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(KeyDownloadFolder)
}

// SetVolume stores the volume
func (s *SettingsStore) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100")
	}
	return s.set(KeyVolume, volume)
}

// SetMuted stores the mute flag
func (s *SettingsStore) SetMuted(muted bool) error {
	return s.set(KeyMuted, muted)
}

// SetShuffle stores the shuffle flag
func (s *SettingsStore) SetShuffle(shuffle bool) error {
	return s.set(KeyShuffle, shuffle)
}

// SetRepeat stores the repeat mode
func (s *SettingsStore) SetRepeat(mode string) error {
	switch mode {
	case "none", "all", "single":
	default:
		return fmt.Errorf("invalid repeat mode: %s", mode)
	}
	return s.set(KeyRepeat, mode)
}

// SetDownloadFolder stores the download folder
func (s *SettingsStore) SetDownloadFolder(path string) error {
	if path == "" {
		return fmt.Errorf("download folder cannot be empty")
	}
	return s.set(KeyDownloadFolder, path)
}

func (s *SettingsStore) set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(key, value)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
