// Package openai provides an agent provider backed by an OpenAI-compatible
// chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

// Ensure Provider implements the agent.Provider interface.
var _ agent.Provider = (*Provider)(nil)

// Provider implements agent.Provider by streaming chat completions.
type Provider struct {
	client        oai.Client
	model         string
	defaultPrompt string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL       string
	organization  string
	timeout       time.Duration
	defaultPrompt string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point
// the provider at any OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDefaultPrompt sets the system prompt used when a request carries no
// persona of its own.
func WithDefaultPrompt(prompt string) Option {
	return func(c *config) {
		c.defaultPrompt = prompt
	}
}

// New constructs a new OpenAI agent Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai agent: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai agent: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, defaultPrompt: cfg.defaultPrompt}, nil
}

// Stream implements agent.Provider.
func (p *Provider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	params := p.buildParams(req)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai agent: start stream: %w", err)
	}

	ch := make(chan agent.Event, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

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
		toolCalls := map[int]*toolCallAccum{}

		for stream.Next() {
			chunk := stream.Current()
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

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				acc, ok := toolCalls[idx]
				if !ok {
					acc = &toolCallAccum{}
					toolCalls[idx] = acc
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

		if err := stream.Err(); err != nil {
			emit(agent.Event{Err: fmt.Errorf("openai agent: stream: %w", err)})
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

// toolCallAccum gathers tool call argument fragments across delta chunks.
type toolCallAccum struct {
	name string
	args string
}

// Initialize implements agent.Provider by verifying the configured model is
// reachable.
func (p *Provider) Initialize(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return fmt.Errorf("openai agent: model %q unavailable: %w", p.model, err)
	}
	return nil
}

// Healthy implements agent.Provider.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return false, fmt.Sprintf("openai agent: %v", err)
	}
	return true, fmt.Sprintf("openai agent: model %s reachable", p.model)
}

// buildParams converts an agent request into chat completion params.
func (p *Provider) buildParams(req agent.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	prompt := req.Persona
	if prompt == "" {
		prompt = p.defaultPrompt
	}
	if prompt != "" {
		messages = append(messages, oai.SystemMessage(prompt))
	}

	messages = append(messages, userMessage(req.Input, req.Images))

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
}

// userMessage builds the user message, attaching images as data-URL parts
// for multimodal models.
func userMessage(input string, images []string) oai.ChatCompletionMessageParamUnion {
	if len(images) == 0 {
		return oai.UserMessage(input)
	}

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(input),
	}
	for _, img := range images {
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: imageURL(img),
		}))
	}
	return oai.UserMessage(parts)
}

// imageURL passes URLs through and wraps raw base64 payloads as data URLs.
func imageURL(img string) string {
	if strings.HasPrefix(img, "data:") || strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	return "data:image/jpeg;base64," + img
}
