// Package httpapi provides the REST surface of the backend: one-shot TTS
// synthesis, vision analysis, chat history (STM) and long-term memory (LTM)
// CRUD, health probes, and the Prometheus scrape endpoint.
//
// The streaming chat path is not served here; it lives on the WebSocket
// gateway. Every route is wrapped in [observe.Middleware].
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hikaru-dev/koemi/internal/feedback"
	"github.com/hikaru-dev/koemi/internal/health"
	"github.com/hikaru-dev/koemi/internal/observe"
	"github.com/hikaru-dev/koemi/pkg/memory"
	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
	"github.com/hikaru-dev/koemi/pkg/provider/tts"
	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
)

// API serves the REST routes. Construct with [New]; all dependency fields
// are optional and the corresponding routes return 503 when absent.
type API struct {
	log     *slog.Logger
	metrics *observe.Metrics

	tts      tts.Provider
	vlm      vlm.Provider
	embedder embeddings.Provider
	sessions memory.SessionStore
	semantic memory.SemanticStore
	feedback FeedbackStore
	health   *health.Handler
}

// FeedbackStore receives beta-tester feedback submitted via /v1/feedback.
// Implemented by [feedback.FileStore].
type FeedbackStore interface {
	Save(rec feedback.Record) error
}

// Option is a functional option for API.
type Option func(*API)

// WithTTS wires the TTS provider serving /v1/tts/synthesize.
func WithTTS(p tts.Provider) Option {
	return func(a *API) { a.tts = p }
}

// WithVLM wires the vision provider serving /v1/vlm/analyze.
func WithVLM(p vlm.Provider) Option {
	return func(a *API) { a.vlm = p }
}

// WithEmbedder wires the embeddings provider used to index and query
// long-term memories.
func WithEmbedder(p embeddings.Provider) Option {
	return func(a *API) { a.embedder = p }
}

// WithSessionStore wires the chat history store serving the /v1/stm routes.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *API) { a.sessions = s }
}

// WithSemanticStore wires the long-term memory store serving the /v1/ltm
// routes.
func WithSemanticStore(s memory.SemanticStore) Option {
	return func(a *API) { a.semantic = s }
}

// WithFeedback wires the feedback store serving /v1/feedback.
func WithFeedback(s FeedbackStore) Option {
	return func(a *API) { a.feedback = s }
}

// WithHealth wires the health handler serving /health, /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(a *API) { a.health = h }
}

// New creates an API. metrics may be nil, in which case the process-wide
// default metrics are used.
func New(log *slog.Logger, metrics *observe.Metrics, opts ...Option) *API {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	a := &API{log: log, metrics: metrics}
	for _, o := range opts {
		o(a)
	}
	if a.health == nil {
		a.health = health.New()
	}
	return a
}

// Routes builds the route table and wraps it in the observability
// middleware.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/tts/synthesize", a.handleSynthesize)
	mux.HandleFunc("GET /v1/tts/voices", a.handleVoices)
	mux.HandleFunc("POST /v1/vlm/analyze", a.handleAnalyze)

	mux.HandleFunc("POST /v1/stm/messages", a.handleAppendMessage)
	mux.HandleFunc("GET /v1/stm/sessions/{id}/messages", a.handleListMessages)
	mux.HandleFunc("PATCH /v1/stm/messages/{id}", a.handlePatchMessage)
	mux.HandleFunc("DELETE /v1/stm/sessions/{id}", a.handleDeleteSession)

	mux.HandleFunc("POST /v1/feedback", a.handleFeedback)

	mux.HandleFunc("POST /v1/ltm/memories", a.handleAddMemory)
	mux.HandleFunc("POST /v1/ltm/memories/search", a.handleSearchMemories)
	mux.HandleFunc("DELETE /v1/ltm/memories/{id}", a.handleDeleteMemory)

	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON with the given status code.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("httpapi: encode response", "error", err)
	}
}

// writeError writes a JSON error response. Not-found storage errors map to
// 404 regardless of the suggested status.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, memory.ErrNotFound) {
		status = http.StatusNotFound
	}
	a.writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeBody decodes the request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
