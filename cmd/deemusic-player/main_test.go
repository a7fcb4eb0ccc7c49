package main

import (
	"slices"
	"testing"

	"github.com/deemusic/deemusic-player/internal/config"
)

func TestSplitArgs(t *testing.T) {
	refs, urls := splitArgs([]string{
		"3135556",
		"track:42",
		"https://www.deezer.com/track/7",
		"https://cdn.example.com/file.mp3",
		"garbage",
	})

	wantRefs := []string{"3135556", "track:42", "https://www.deezer.com/track/7", "garbage"}
	if !slices.Equal(refs, wantRefs) {
		t.Errorf("refs = %v, want %v", refs, wantRefs)
	}
	if !slices.Equal(urls, []string{"https://cdn.example.com/file.mp3"}) {
		t.Errorf("urls = %v", urls)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"download", "history", "status", "folder"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Command %q not registered: %v", name, err)
		}
	}
}

func TestWatchedConfigPath(t *testing.T) {
	saved := configPath
	t.Cleanup(func() { configPath = saved })

	configPath = "/tmp/custom.json"
	if got := watchedConfigPath(); got != "/tmp/custom.json" {
		t.Errorf("watchedConfigPath() = %q, want the --config value", got)
	}
	configPath = ""
	if got := watchedConfigPath(); got != config.GetConfigPath() {
		t.Errorf("watchedConfigPath() = %q, want the default path", got)
	}
}
