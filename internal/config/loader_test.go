package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hikaru-dev/koemi/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	doc := `
server:
  listen_addr: ":9000"
  log_level: debug
  auth_token: secret
  allowed_origins:
    - "app.example.com"
streaming:
  min_chunk_len: 15
  queue_cap: 64
  barrier_wait: 2s
  interrupt_wait: 500ms
  cleanup_ttl: 30m
  ping_interval: 20s
  pong_wait: 5s
  auth_timeout: 10s
  inactivity_timeout: 3m
  error_budget: 3
  error_backoff: 250ms
  text_rules: rules.yaml
providers:
  agent:
    name: openai
    api_key: sk-test
    model: gpt-4o
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      voice: aya
  embeddings:
    name: openai
    model: text-embedding-3-small
memory:
  postgres_dsn: postgres://localhost/koemi
  embedding_dimensions: 1536
companion:
  persona_path: persona.txt
  backgrounds_dir: backgrounds
  avatars_dir: avatars
  default_avatar: miko.yaml
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("auth_token = %q", cfg.Server.AuthToken)
	}
	if cfg.Streaming.BarrierWait != 2*time.Second {
		t.Errorf("barrier_wait = %v", cfg.Streaming.BarrierWait)
	}
	if cfg.Streaming.ErrorBackoff != 250*time.Millisecond {
		t.Errorf("error_backoff = %v", cfg.Streaming.ErrorBackoff)
	}
	if cfg.Streaming.CleanupTTL != 30*time.Minute {
		t.Errorf("cleanup_ttl = %v", cfg.Streaming.CleanupTTL)
	}
	if cfg.Providers.Agent.Name != "openai" || cfg.Providers.Agent.Model != "gpt-4o" {
		t.Errorf("agent = %+v", cfg.Providers.Agent)
	}
	if got := cfg.Providers.TTS.Options["voice"]; got != "aya" {
		t.Errorf("tts voice option = %v", got)
	}
	if cfg.Memory.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions = %d", cfg.Memory.EmbeddingDimensions)
	}
	if cfg.Companion.DefaultAvatar != "miko.yaml" {
		t.Errorf("default_avatar = %q", cfg.Companion.DefaultAvatar)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestLoadFromReader_DefaultsEmbeddingDimensions(t *testing.T) {
	doc := `
providers:
  embeddings:
    name: openai
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Memory.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions = %d, want 1536", cfg.Memory.EmbeddingDimensions)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	doc := `
server:
  listen_adr: ":9000"
`
	if _, err := config.LoadFromReader(strings.NewReader(doc)); err == nil {
		t.Error("want error for unknown field")
	}
}

func TestLoadFromReader_RejectsInvalidValues(t *testing.T) {
	doc := `
server:
  log_level: shouting
`
	if _, err := config.LoadFromReader(strings.NewReader(doc)); err == nil {
		t.Error("want validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/koemi.yaml"); err == nil {
		t.Error("want error for missing file")
	}
}

func TestLoadFromReader_ProviderFallbacks(t *testing.T) {
	doc := `
providers:
  agent:
    name: openai
    api_key: sk-primary
    model: gpt-4o
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3.1
  tts:
    name: elevenlabs
    api_key: el-key
    fallbacks:
      - name: openai
        api_key: sk-tts
        model: tts-1
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(cfg.Providers.Agent.Fallbacks) != 1 || cfg.Providers.Agent.Fallbacks[0].Name != "ollama" {
		t.Errorf("agent fallbacks = %+v", cfg.Providers.Agent.Fallbacks)
	}
	if len(cfg.Providers.TTS.Fallbacks) != 1 || cfg.Providers.TTS.Fallbacks[0].Model != "tts-1" {
		t.Errorf("tts fallbacks = %+v", cfg.Providers.TTS.Fallbacks)
	}
}

func TestLoadFromReader_RejectsBadFallbacks(t *testing.T) {
	for name, doc := range map[string]string{
		"unnamed": `
providers:
  agent:
    name: openai
    fallbacks:
      - model: llama3.1
`,
		"nested": `
providers:
  agent:
    name: openai
    fallbacks:
      - name: ollama
        fallbacks:
          - name: gemini
`,
		"vlm": `
providers:
  vlm:
    name: openai
    fallbacks:
      - name: openai
`,
		"embeddings": `
providers:
  embeddings:
    name: openai
    fallbacks:
      - name: ollama
`,
	} {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: want validation error", name)
		}
	}
}
