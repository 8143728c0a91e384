// Package app wires all koemi subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and WebSocket traffic until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithCompanion, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hikaru-dev/koemi/internal/chunk"
	"github.com/hikaru-dev/koemi/internal/companion"
	"github.com/hikaru-dev/koemi/internal/config"
	"github.com/hikaru-dev/koemi/internal/feedback"
	"github.com/hikaru-dev/koemi/internal/gateway"
	"github.com/hikaru-dev/koemi/internal/health"
	"github.com/hikaru-dev/koemi/internal/httpapi"
	"github.com/hikaru-dev/koemi/internal/observe"
	"github.com/hikaru-dev/koemi/internal/pipeline"
	"github.com/hikaru-dev/koemi/internal/processor"
	"github.com/hikaru-dev/koemi/internal/textnorm"
	"github.com/hikaru-dev/koemi/pkg/memory"
	"github.com/hikaru-dev/koemi/pkg/memory/postgres"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
	"github.com/hikaru-dev/koemi/pkg/provider/tts"
	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
)

// shutdownGrace bounds the HTTP server drain once Run's context is cancelled.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Agent      agent.Provider
	TTS        tts.Provider
	VLM        vlm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the koemi streaming backend.
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store     *postgres.Store
	sessions  memory.SessionStore
	semantic  memory.SemanticStore
	companion gateway.CompanionService
	gateway   *gateway.Gateway
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a chat history store instead of creating one from
// config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// WithSemanticStore injects a long-term memory store instead of creating one
// from config.
func WithSemanticStore(s memory.SemanticStore) Option {
	return func(a *App) { a.semantic = s }
}

// WithCompanion injects a companion service instead of creating one from
// config.
func WithCompanion(c gateway.CompanionService) Option {
	return func(a *App) { a.companion = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "koemi",
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	// ── 2. Memory stores ─────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 3. Companion assets ──────────────────────────────────────────────
	if err := a.initCompanion(); err != nil {
		return nil, fmt.Errorf("app: init companion: %w", err)
	}

	// ── 4. Streaming pipeline + gateway ──────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the PostgreSQL store or uses injected doubles. Without
// a DSN the stores stay nil and the dependent surfaces degrade to 503.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessions != nil && a.semantic != nil {
		return nil // both injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.log.Warn("memory.postgres_dsn is empty; chat history and long-term memory disabled")
		return nil
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // matches OpenAI text-embedding-3-small
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = store

	if a.sessions == nil {
		a.sessions = store
	}
	if a.semantic == nil {
		a.semantic = store
	}

	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	return nil
}

// initCompanion builds the asset service serving persona, backgrounds, and
// avatar configurations.
func (a *App) initCompanion() error {
	if a.companion != nil {
		return nil
	}
	svc, err := companion.New(a.log, companion.Config{
		PersonaPath:    a.cfg.Companion.PersonaPath,
		BackgroundsDir: a.cfg.Companion.BackgroundsDir,
		AvatarsDir:     a.cfg.Companion.AvatarsDir,
		DefaultAvatar:  a.cfg.Companion.DefaultAvatar,
	})
	if err != nil {
		return err
	}
	a.companion = svc
	return nil
}

// initGateway assembles the text normalizer, the chunking pipeline, and the
// WebSocket gateway with a per-connection turn processor factory.
func (a *App) initGateway() error {
	var norm *textnorm.Normalizer
	if path := a.cfg.Streaming.TextRules; path != "" {
		rules, err := textnorm.LoadRules(path)
		if err != nil {
			return fmt.Errorf("load text rules %q: %w", path, err)
		}
		n, err := textnorm.New(rules)
		if err != nil {
			return fmt.Errorf("compile text rules %q: %w", path, err)
		}
		norm = n
	}

	var pipeOpts []pipeline.Option
	if n := a.cfg.Streaming.MinChunkLen; n > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithSplitterOptions(chunk.WithMinChunkLen(n)))
	}
	if d := a.cfg.Streaming.BarrierWait; d > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithBarrierWait(d))
	}
	pipe := pipeline.New(a.log, norm, pipeOpts...)

	provider := a.providers.Agent
	if provider != nil {
		provider = a.wrapRecall(provider)
	}

	var procOpts []processor.Option
	if n := a.cfg.Streaming.QueueCap; n > 0 {
		procOpts = append(procOpts, processor.WithQueueCap(n))
	}
	if d := a.cfg.Streaming.CleanupTTL; d > 0 {
		procOpts = append(procOpts, processor.WithCleanupTTL(d))
	}
	if d := a.cfg.Streaming.InterruptWait; d > 0 {
		procOpts = append(procOpts, processor.WithInterruptWait(d))
	}
	newProc := func() gateway.TurnProcessor {
		return processor.New(a.log, nil, provider, pipe, procOpts...)
	}

	var gwOpts []gateway.Option
	if d := a.cfg.Streaming.AuthTimeout; d > 0 {
		gwOpts = append(gwOpts, gateway.WithAuthTimeout(d))
	}
	if a.cfg.Streaming.PingInterval > 0 || a.cfg.Streaming.PongWait > 0 {
		interval := a.cfg.Streaming.PingInterval
		if interval <= 0 {
			interval = gateway.DefaultPingInterval
		}
		wait := a.cfg.Streaming.PongWait
		if wait <= 0 {
			wait = gateway.DefaultPongWait
		}
		gwOpts = append(gwOpts, gateway.WithHeartbeat(interval, wait))
	}
	if d := a.cfg.Streaming.InactivityTimeout; d > 0 {
		gwOpts = append(gwOpts, gateway.WithInactivityTimeout(d))
	}
	if a.cfg.Streaming.ErrorBudget > 0 || a.cfg.Streaming.ErrorBackoff > 0 {
		budget := a.cfg.Streaming.ErrorBudget
		if budget <= 0 {
			budget = gateway.DefaultErrorBudget
		}
		backoff := a.cfg.Streaming.ErrorBackoff
		if backoff <= 0 {
			backoff = gateway.DefaultErrorBackoff
		}
		gwOpts = append(gwOpts, gateway.WithErrorBudget(budget, backoff))
	}
	if origins := a.cfg.Server.AllowedOrigins; len(origins) > 0 {
		gwOpts = append(gwOpts, gateway.WithOriginPatterns(origins))
	}

	token := a.cfg.Server.AuthToken
	validate := func(got string) bool {
		return token == "" || got == token
	}

	a.gateway = gateway.New(a.log, nil, validate, newProc, a.companion, gwOpts...)
	return nil
}

// initServer mounts the WebSocket gateway and the REST surface on one mux.
func (a *App) initServer() {
	checkers := a.healthCheckers()

	apiOpts := []httpapi.Option{
		httpapi.WithTTS(a.providers.TTS),
		httpapi.WithVLM(a.providers.VLM),
		httpapi.WithEmbedder(a.providers.Embeddings),
		httpapi.WithSessionStore(a.sessions),
		httpapi.WithSemanticStore(a.semantic),
		httpapi.WithHealth(health.New(checkers...)),
	}
	if path := a.cfg.Server.FeedbackPath; path != "" {
		apiOpts = append(apiOpts, httpapi.WithFeedback(feedback.NewFileStore(path)))
	}
	api := httpapi.New(a.log, nil, apiOpts...)

	root := http.NewServeMux()
	root.Handle("/v1/chat/stream", a.gateway)
	root.Handle("/", api.Routes())

	a.server = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: root,
	}
}

// healthCheckers builds the readiness probes from whatever is configured.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.CheckProvider("postgres", a.store.Healthy))
	}
	if p := a.providers.Agent; p != nil {
		checkers = append(checkers, health.CheckProvider("agent", p.Healthy))
	}
	if p := a.providers.TTS; p != nil {
		checkers = append(checkers, health.CheckProvider("tts", p.Healthy))
	}
	if p := a.providers.VLM; p != nil {
		checkers = append(checkers, health.CheckProvider("vlm", p.Healthy))
	}
	if p := a.providers.Embeddings; p != nil {
		checkers = append(checkers, health.CheckProvider("embeddings", p.Healthy))
	}
	return checkers
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and WebSocket traffic until ctx is cancelled, then drains
// the server. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("listening", "addr", a.server.Addr, "tls", true)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Close client connections first so in-flight turns terminate.
		if a.gateway != nil {
			if err := a.gateway.Shutdown(ctx); err != nil {
				a.log.Warn("gateway shutdown error", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
