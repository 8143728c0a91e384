// Command koemi is the main entry point for the koemi companion backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hikaru-dev/koemi/internal/app"
	"github.com/hikaru-dev/koemi/internal/config"
	"github.com/hikaru-dev/koemi/internal/resilience"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
	agentanyllm "github.com/hikaru-dev/koemi/pkg/provider/agent/anyllm"
	agentopenai "github.com/hikaru-dev/koemi/pkg/provider/agent/openai"
	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
	ollamaembed "github.com/hikaru-dev/koemi/pkg/provider/embeddings/ollama"
	oaembed "github.com/hikaru-dev/koemi/pkg/provider/embeddings/openai"
	"github.com/hikaru-dev/koemi/pkg/provider/tts"
	"github.com/hikaru-dev/koemi/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/hikaru-dev/koemi/pkg/provider/tts/openai"
	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
	vlmopenai "github.com/hikaru-dev/koemi/pkg/provider/vlm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "koemi: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "koemi: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("koemi starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, logger, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		for _, path := range d.RestartRequired {
			slog.Warn("config change requires restart", "path", path)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Agent ─────────────────────────────────────────────────────────────────
	// openai talks to the chat completions API directly; the remaining names
	// go through the any-llm backend and share one pattern: optional APIKey +
	// optional BaseURL.
	reg.RegisterAgent("openai", func(entry config.ProviderEntry) (agent.Provider, error) {
		var opts []agentopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, agentopenai.WithBaseURL(entry.BaseURL))
		}
		return agentopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterAgent(providerName, func(entry config.ProviderEntry) (agent.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return agentanyllm.New(providerName, entry.Model, opts)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterAgent("ollama", func(entry config.ProviderEntry) (agent.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return agentanyllm.New("ollama", entry.Model, opts)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithDefaultVoice(voice))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── VLM ───────────────────────────────────────────────────────────────────

	reg.RegisterVLM("openai", func(entry config.ProviderEntry) (vlm.Provider, error) {
		var opts []vlmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, vlmopenai.WithBaseURL(entry.BaseURL))
		}
		return vlmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Agent.Name; name != "" {
		p, err := reg.CreateAgent(cfg.Providers.Agent)
		if err != nil {
			return nil, fmt.Errorf("create agent provider %q: %w", name, err)
		}
		if fbs := cfg.Providers.Agent.Fallbacks; len(fbs) > 0 {
			group := resilience.NewAgentFallback(p, name, resilience.FallbackConfig{})
			for _, fb := range fbs {
				alt, err := reg.CreateAgent(fb)
				if err != nil {
					slog.Warn("skipping agent fallback", "name", fb.Name, "err", err)
					continue
				}
				group.AddFallback(fb.Name, alt)
				slog.Info("agent fallback registered", "name", fb.Name)
			}
			p = group
		}
		if err := p.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize agent provider %q: %w", name, err)
		}
		ps.Agent = p
		slog.Info("provider created", "kind", "agent", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
			group := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
			for _, fb := range fbs {
				alt, err := reg.CreateTTS(fb)
				if err != nil {
					slog.Warn("skipping tts fallback", "name", fb.Name, "err", err)
					continue
				}
				group.AddFallback(fb.Name, alt)
				slog.Info("tts fallback registered", "name", fb.Name)
			}
			p = group
		}
		if err := p.Initialize(ctx); err != nil {
			slog.Warn("tts provider unavailable at startup", "name", name, "err", err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.VLM.Name; name != "" {
		p, err := reg.CreateVLM(cfg.Providers.VLM)
		if err != nil {
			return nil, fmt.Errorf("create vlm provider %q: %w", name, err)
		}
		if err := p.Initialize(ctx); err != nil {
			slog.Warn("vlm provider unavailable at startup", "name", name, "err", err)
		}
		ps.VLM = p
		slog.Info("provider created", "kind", "vlm", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          koemi — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Agent", cfg.Providers.Agent.Name, cfg.Providers.Agent.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VLM", cfg.Providers.VLM.Name, cfg.Providers.VLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Memory          : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Memory          : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Level()}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
