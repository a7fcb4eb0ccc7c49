package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch re-reads the configuration file whenever it changes on disk and
// passes every valid result to onChange. Invalid edits are logged and skipped,
// leaving the previous configuration in effect.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("DEEMUSIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Config watch started without a readable file",
			zap.String("path", configPath),
			zap.Error(err))
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				zap.String("path", e.Name),
				zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("path", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}
