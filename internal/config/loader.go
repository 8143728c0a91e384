package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"agent":      {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"openai", "elevenlabs"},
	"vlm":        {"openai"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}
	if cfg.Server.AuthToken == "" {
		slog.Warn("server.auth_token is empty; any client token will be accepted")
	}

	// Streaming bounds. Zero means "use the component default"; negatives
	// are always mistakes.
	s := cfg.Streaming
	if s.MinChunkLen < 0 {
		errs = append(errs, fmt.Errorf("streaming.min_chunk_len %d must not be negative", s.MinChunkLen))
	}
	if s.QueueCap < 0 {
		errs = append(errs, fmt.Errorf("streaming.queue_cap %d must not be negative", s.QueueCap))
	}
	if s.ErrorBudget < 0 {
		errs = append(errs, fmt.Errorf("streaming.error_budget %d must not be negative", s.ErrorBudget))
	}
	for name, d := range map[string]int64{
		"barrier_wait":       int64(s.BarrierWait),
		"interrupt_wait":     int64(s.InterruptWait),
		"cleanup_ttl":        int64(s.CleanupTTL),
		"ping_interval":      int64(s.PingInterval),
		"pong_wait":          int64(s.PongWait),
		"auth_timeout":       int64(s.AuthTimeout),
		"inactivity_timeout": int64(s.InactivityTimeout),
		"error_backoff":      int64(s.ErrorBackoff),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("streaming.%s must not be negative", name))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("agent", cfg.Providers.Agent.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vlm", cfg.Providers.VLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Fallbacks — supported for agent and tts only, one level deep.
	for kind, entry := range map[string]ProviderEntry{
		"agent": cfg.Providers.Agent,
		"tts":   cfg.Providers.TTS,
	} {
		for _, fb := range entry.Fallbacks {
			validateProviderName(kind, fb.Name)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks entries must have a name", kind))
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks may not nest further fallbacks", kind))
			}
		}
	}
	if len(cfg.Providers.VLM.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.vlm does not support fallbacks"))
	}
	if len(cfg.Providers.Embeddings.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.embeddings does not support fallbacks"))
	}

	if cfg.Providers.Agent.Name == "" {
		slog.Warn("providers.agent is not configured; chat turns cannot be processed")
	}

	// Embeddings ↔ memory coherence
	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must not be negative", cfg.Memory.EmbeddingDimensions))
	}
	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("memory.postgres_dsn is set but providers.embeddings is not; long-term memory search will not be available")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; chat history and long-term memory will not be persisted")
	}

	// Companion assets
	if cfg.Companion.DefaultAvatar != "" && cfg.Companion.AvatarsDir == "" {
		errs = append(errs, errors.New("companion.default_avatar is set but companion.avatars_dir is not"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
