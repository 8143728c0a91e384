// Package anyllm provides an agent provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets the companion run against local inference (Ollama,
// llama.cpp) with the same configuration surface as the hosted providers.
//
// Usage:
//
//	p, err := anyllm.NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
//	p, err := anyllm.NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

// Ensure Provider implements the agent.Provider interface.
var _ agent.Provider = (*Provider)(nil)

// Provider implements agent.Provider by wrapping any-llm-go.
type Provider struct {
	backend       anyllmlib.Provider
	backendName   string
	model         string
	defaultPrompt string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithDefaultPrompt sets the system prompt used when a request carries no
// persona of its own.
func WithDefaultPrompt(prompt string) Option {
	return func(p *Provider) { p.defaultPrompt = prompt }
}

// New creates a Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model to use. backendOpts are any-llm-go configuration options
// (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); with no API key option
// the backend falls back to its environment variable.
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm agent: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm agent: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm agent: create %q backend: %w", providerName, err)
	}

	p := &Provider{backend: backend, backendName: providerName, model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, backendOpts)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, backendOpts)
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, backendOpts)
}

// NewOllama creates a Provider backed by Ollama (local inference).
func NewOllama(model string, backendOpts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, backendOpts)
}

// createBackend creates the underlying any-llm-go provider for the name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Stream implements agent.Provider.
func (p *Provider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	params := p.buildParams(req)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan agent.Event, 32)
	go func() {
		defer close(ch)

		emit := func(ev agent.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(agent.Event{Type: agent.EventStreamStart, SessionID: req.SessionID}) {
			return
		}

		var content strings.Builder
		// Tool call fragments accumulated by index until the finish chunk.
		type accum struct{ name, args string }
		toolCalls := map[int]*accum{}

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				content.WriteString(delta.Content)
				if !emit(agent.Event{Type: agent.EventStreamToken, Chunk: delta.Content}) {
					return
				}
			}

			for i, tc := range delta.ToolCalls {
				acc, ok := toolCalls[i]
				if !ok {
					acc = &accum{}
					toolCalls[i] = acc
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				for i := 0; i < len(toolCalls); i++ {
					acc, ok := toolCalls[i]
					if !ok {
						continue
					}
					if !emit(agent.Event{Type: agent.EventToolCall, ToolName: acc.name, Args: acc.args}) {
						return
					}
				}
				clear(toolCalls)
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			emit(agent.Event{Err: fmt.Errorf("anyllm agent: stream: %w", err)})
			return
		}

		emit(agent.Event{
			Type:      agent.EventStreamEnd,
			SessionID: req.SessionID,
			Content:   content.String(),
		})
	}()

	return ch, nil
}

// Initialize implements agent.Provider. any-llm-go backends validate their
// configuration at construction, so there is nothing left to warm up.
func (p *Provider) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Healthy implements agent.Provider. The unified interface exposes no
// dedicated health endpoint, so a constructed backend is reported ready.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	return true, fmt.Sprintf("anyllm agent: %s/%s configured", p.backendName, p.model)
}

// buildParams converts an agent request into anyllm completion params.
func (p *Provider) buildParams(req agent.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	prompt := req.Persona
	if prompt == "" {
		prompt = p.defaultPrompt
	}
	if prompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: prompt,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    "user",
		Content: req.Input,
	})

	return anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
}
