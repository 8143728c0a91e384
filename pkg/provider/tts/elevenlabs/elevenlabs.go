// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs REST synthesis API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hikaru-dev/koemi/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// Neutral voice settings; per-request tuning only covers speed.
	defaultStability  = 0.5
	defaultSimilarity = 0.75
)

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	defaultVoice string
	httpClient   *http.Client
}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128",
// "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) { p.defaultVoice = voiceID }
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = base }
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// call issues an authenticated request against the ElevenLabs API and
// returns the raw response body. Non-200 answers become errors carrying up to
// 512 bytes of the API's message.
func (p *Provider) call(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", p.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}

// synthesizeBody is the JSON payload for POST /v1/text-to-speech/{voice_id}.
type synthesizeBody struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Provider by calling the synchronous
// text-to-speech endpoint and returning the full encoded clip.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.defaultVoice
	}
	if voice == "" {
		return nil, errors.New("elevenlabs: no voice requested and no default configured")
	}
	format := req.Format
	if format == "" {
		format = p.outputFormat
	}

	payload, err := json.Marshal(synthesizeBody{
		Text:    req.Text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       defaultStability,
			SimilarityBoost: defaultSimilarity,
			Speed:           req.Speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	path := fmt.Sprintf("/v1/text-to-speech/%s?output_format=%s",
		url.PathEscape(voice), url.QueryEscape(format))
	data, err := p.call(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	return &tts.Audio{Data: data, Format: format}, nil
}

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured
// API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	data, err := p.call(ctx, http.MethodGet, "/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	voices, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voices, nil
}

// Initialize implements tts.Provider by fetching the voice catalogue once.
func (p *Provider) Initialize(ctx context.Context) error {
	if _, err := p.ListVoices(ctx); err != nil {
		return fmt.Errorf("elevenlabs: initialize: %w", err)
	}
	return nil
}

// Healthy implements tts.Provider.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	if _, err := p.ListVoices(ctx); err != nil {
		return false, fmt.Sprintf("elevenlabs: %v", err)
	}
	return true, "elevenlabs: reachable"
}

// parseVoicesResponse converts the raw /v1/voices JSON into tts.Voice values,
// folding labels and category into the metadata map.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices, nil
}
