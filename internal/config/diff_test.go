package config_test

import (
	"slices"
	"testing"

	"github.com/hikaru-dev/koemi/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.CompanionChanged || len(d.RestartRequired) != 0 {
		t.Errorf("identical configs: got %+v", d)
	}
	if d.HotReloadable() {
		t.Error("identical configs should not be hot-reloadable")
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got %+v", d)
	}
	if !d.HotReloadable() {
		t.Error("log level change should be hot-reloadable")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required = %v", d.RestartRequired)
	}
}

func TestDiff_Companion(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Companion.AvatarsDir = "avatars"
	new.Companion.DefaultAvatar = "rin.yaml"

	d := config.Diff(old, new)
	if !d.CompanionChanged {
		t.Fatal("companion change not detected")
	}
	if !d.Companion.AvatarsChanged || !d.Companion.DefaultAvatarChanged {
		t.Errorf("companion diff = %+v", d.Companion)
	}
	if d.Companion.PersonaChanged || d.Companion.BackgroundsChanged {
		t.Errorf("companion diff flags set spuriously: %+v", d.Companion)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Streaming.QueueCap = 128
	new.Providers.Agent.Name = "ollama"
	new.Memory.PostgresDSN = "postgres://localhost/koemi"

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "streaming", "memory", "providers.agent"}
	for _, path := range want {
		if !slices.Contains(d.RestartRequired, path) {
			t.Errorf("restart required should contain %q; got %v", path, d.RestartRequired)
		}
	}
	if d.HotReloadable() {
		t.Error("restart-only changes should not report hot-reloadable")
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	old := config.Default()
	old.Providers.TTS = config.ProviderEntry{Name: "elevenlabs", Options: map[string]any{"voice": "aya"}}
	new := config.Default()
	new.Providers.TTS = config.ProviderEntry{Name: "elevenlabs", Options: map[string]any{"voice": "rin"}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers.tts") {
		t.Errorf("option-level provider change missed: %v", d.RestartRequired)
	}
}
