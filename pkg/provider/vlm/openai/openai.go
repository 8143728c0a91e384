// Package openai provides a VLM provider backed by an OpenAI-compatible
// multimodal chat completions API.
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

	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
)

// Ensure Provider implements the vlm.Provider interface.
var _ vlm.Provider = (*Provider)(nil)

// Provider implements vlm.Provider over multimodal chat completions.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI VLM Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai vlm: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai vlm: model must not be empty")
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
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Analyze implements vlm.Provider.
func (p *Provider) Analyze(ctx context.Context, prompt string, images []string) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("openai vlm: at least one image is required")
	}

	params := p.buildParams(prompt, images)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai vlm: analyze: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai vlm: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildParams assembles a single multimodal user message.
func (p *Provider) buildParams(prompt string, images []string) oai.ChatCompletionNewParams {
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(prompt),
	}
	for _, img := range images {
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: imageURL(img),
		}))
	}

	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(parts),
		},
	}
}

// imageURL passes URLs through and wraps raw base64 payloads as data URLs.
func imageURL(img string) string {
	if strings.HasPrefix(img, "data:") || strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	return "data:image/jpeg;base64," + img
}

// Initialize implements vlm.Provider by verifying the configured model is
// reachable.
func (p *Provider) Initialize(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return fmt.Errorf("openai vlm: model %q unavailable: %w", p.model, err)
	}
	return nil
}

// Healthy implements vlm.Provider.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return false, fmt.Sprintf("openai vlm: %v", err)
	}
	return true, fmt.Sprintf("openai vlm: model %s reachable", p.model)
}
