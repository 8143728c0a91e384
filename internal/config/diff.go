package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes are broken out into typed fields; everything else lands in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CompanionChanged bool
	Companion        CompanionDiff

	// RestartRequired lists dotted config paths that changed but can only
	// be applied by restarting the process.
	RestartRequired []string
}

// CompanionDiff describes which companion asset settings changed.
type CompanionDiff struct {
	PersonaChanged       bool
	BackgroundsChanged   bool
	AvatarsChanged       bool
	DefaultAvatarChanged bool
}

// HotReloadable reports whether the diff carries any change that can be
// applied without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.CompanionChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Companion = diffCompanion(old.Companion, new.Companion)
	if d.Companion != (CompanionDiff{}) {
		d.CompanionChanged = true
	}

	d.RestartRequired = restartRequired(old, new)
	return d
}

// diffCompanion compares the companion asset settings field by field.
func diffCompanion(old, new CompanionConfig) CompanionDiff {
	return CompanionDiff{
		PersonaChanged:       old.PersonaPath != new.PersonaPath,
		BackgroundsChanged:   old.BackgroundsDir != new.BackgroundsDir,
		AvatarsChanged:       old.AvatarsDir != new.AvatarsDir,
		DefaultAvatarChanged: old.DefaultAvatar != new.DefaultAvatar,
	}
}

// restartRequired collects the dotted paths of changed settings that are
// baked into running components at startup.
func restartRequired(old, new *Config) []string {
	var paths []string

	if old.Server.ListenAddr != new.Server.ListenAddr {
		paths = append(paths, "server.listen_addr")
	}
	if old.Server.AuthToken != new.Server.AuthToken {
		paths = append(paths, "server.auth_token")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		paths = append(paths, "server.allowed_origins")
	}
	if (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		paths = append(paths, "server.tls")
	}
	if old.Server.FeedbackPath != new.Server.FeedbackPath {
		paths = append(paths, "server.feedback_path")
	}
	if old.Streaming != new.Streaming {
		paths = append(paths, "streaming")
	}
	if old.Memory != new.Memory {
		paths = append(paths, "memory")
	}

	for _, p := range []struct {
		name     string
		old, new ProviderEntry
	}{
		{"agent", old.Providers.Agent, new.Providers.Agent},
		{"tts", old.Providers.TTS, new.Providers.TTS},
		{"vlm", old.Providers.VLM, new.Providers.VLM},
		{"embeddings", old.Providers.Embeddings, new.Providers.Embeddings},
	} {
		if !equalEntries(p.old, p.new) {
			paths = append(paths, fmt.Sprintf("providers.%s", p.name))
		}
	}

	return paths
}

// equalEntries compares provider entries, including the free-form options
// map at the top level.
func equalEntries(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !equalEntries(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
