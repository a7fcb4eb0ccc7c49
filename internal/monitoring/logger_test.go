package monitoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/deemusic/deemusic-player/internal/config"
)

func TestNewLogger(t *testing.T) {
	// Allow lumberjack to release its file handle before TempDir cleanup
	t.Cleanup(func() {
		time.Sleep(100 * time.Millisecond)
	})

	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   logPath,
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 7,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("test message", zap.String("key", "value"))
	logger.Sync()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("Log file was not created: %s", logPath)
	}
}

func TestNewLoggerConsole(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{
		Level:  "debug",
		Format: "console",
		Output: "console",
	})
	if err != nil {
		t.Fatalf("Failed to create console logger: %v", err)
	}
	defer logger.Sync()

	logger.Debug("debug message")
	logger.Info("info message")
}

func TestNewLoggerErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{
			name: "invalid level",
			cfg:  config.LoggingConfig{Level: "invalid", Format: "json", Output: "console"},
		},
		{
			name: "file output without path",
			cfg:  config.LoggingConfig{Level: "info", Format: "json", Output: "file"},
		},
		{
			name: "unknown output",
			cfg:  config.LoggingConfig{Level: "info", Format: "json", Output: "syslog"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLogger(tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestComponent(t *testing.T) {
	if Component(nil, "queue") == nil {
		t.Fatal("Expected a no-op logger for nil input")
	}

	base, err := NewDevelopmentLogger()
	if err != nil {
		t.Fatalf("Failed to create development logger: %v", err)
	}
	Component(base, "playback").Info("message with component")
}
