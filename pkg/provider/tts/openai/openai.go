// Package openai provides a TTS provider backed by an OpenAI-compatible
// /v1/audio/speech endpoint. Point it at api.openai.com or at any local
// server that speaks the same API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hikaru-dev/koemi/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultVoice  = "alloy"
	defaultFormat = "mp3"
)

// knownVoices is the fixed voice catalogue of the OpenAI speech API.
var knownVoices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// Provider implements tts.Provider over the OpenAI audio speech API.
type Provider struct {
	client       oai.Client
	model        string
	defaultVoice string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	timeout      time.Duration
	defaultVoice string
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

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voice string) Option {
	return func(c *config) {
		c.defaultVoice = voice
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai tts: model must not be empty")
	}

	cfg := &config{defaultVoice: defaultVoice}
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
	return &Provider{client: client, model: model, defaultVoice: cfg.defaultVoice}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai tts: text must not be empty")
	}

	params := p.buildParams(req)
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return &tts.Audio{Data: data, Format: string(params.ResponseFormat)}, nil
}

// buildParams converts a synthesis request into audio speech params.
func (p *Provider) buildParams(req tts.Request) oai.AudioSpeechNewParams {
	voice := req.Voice
	if voice == "" {
		voice = p.defaultVoice
	}
	format := req.Format
	if format == "" {
		format = defaultFormat
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}
	if req.Speed > 0 {
		params.Speed = oai.Float(req.Speed)
	}
	return params
}

// ListVoices implements tts.Provider. The OpenAI speech API has a fixed
// catalogue, so the list is static.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(knownVoices))
	for _, id := range knownVoices {
		voices = append(voices, tts.Voice{ID: id, Name: id, Provider: "openai"})
	}
	return voices, nil
}

// Initialize implements tts.Provider by verifying the configured model is
// reachable.
func (p *Provider) Initialize(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return fmt.Errorf("openai tts: model %q unavailable: %w", p.model, err)
	}
	return nil
}

// Healthy implements tts.Provider.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	if _, err := p.client.Models.Get(ctx, p.model); err != nil {
		return false, fmt.Sprintf("openai tts: %v", err)
	}
	return true, fmt.Sprintf("openai tts: model %s reachable", p.model)
}
