// Package ollama implements the embeddings provider against a local Ollama
// server's native /api/embed endpoint.
//
// This is the zero-cloud option for long-term memory: a desktop install of
// Ollama with a small embedding model (nomic-embed-text, mxbai-embed-large,
// all-minilm) keeps everything the companion remembers on the user's machine.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	vec, err := p.Embed(ctx, "likes rainy-day playlists")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// modelDims maps well-known embedding model families to their output width.
// Models not listed here are probed against the live server on the first
// [Provider.Dimensions] call.
var modelDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// Provider talks to one Ollama server with one embedding model. Safe for
// concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	dims      int
	probeOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithTimeout bounds each HTTP request. Zero or negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithDimensions pins the embedding width up front, skipping both the
// known-model table and the probe request for unrecognised models.
func WithDimensions(dims int) Option {
	return func(p *Provider) { p.dims = dims }
}

// New constructs a Provider for the given server and model. An empty baseURL
// means [DefaultBaseURL]; model is required.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims == 0 {
		p.dims = lookupDims(model)
	}
	return p, nil
}

// lookupDims resolves the output width for recognised model names. The table
// keys are matched as substrings so tagged names ("nomic-embed-text:v1.5")
// resolve too.
func lookupDims(model string) int {
	lower := strings.ToLower(model)
	for family, d := range modelDims {
		if strings.Contains(lower, family) {
			return d
		}
	}
	return 0
}

// Embed computes the vector for a single text. The text goes to the server
// verbatim; prefixes some models want ("query: ", "passage: ") are the
// caller's business.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. result[i] corresponds to
// texts[i]; on error no partial results are returned. An empty input returns
// (nil, nil) without touching the network.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions returns the vector width. Unknown models are probed once with a
// throwaway embed; a failed probe leaves the width at 0 and the next call
// retries nothing (the once has fired).
func (p *Provider) Dimensions() int {
	if p.dims == 0 {
		p.probeOnce.Do(func() {
			vecs, err := p.embed(context.Background(), []string{"probe"})
			if err == nil && len(vecs) > 0 {
				p.dims = len(vecs[0])
			}
		})
	}
	return p.dims
}

// ModelID returns the Ollama model name supplied at construction.
func (p *Provider) ModelID() string {
	return p.model
}

// Healthy reports reachability via the server's version endpoint.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return false, fmt.Sprintf("ollama embeddings: %v", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("ollama embeddings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("ollama embeddings: unexpected status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("ollama embeddings: %s reachable", p.baseURL)
}

// embed posts to /api/embed and returns the raw vectors. Guaranteed to return
// at least one vector on success.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return out.Embeddings, nil
}
