// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify the text
// and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeAudio:  &tts.Audio{Data: []byte("clip"), Format: "mp3"},
//	    ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Alice"}},
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "Hello."})
package mock

import (
	"context"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeAudio is returned by Synthesize. When nil (and SynthesizeErr
	// is nil too), Synthesize fabricates a clip whose Data echoes the
	// request text.
	SynthesizeAudio *tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// InitializeErr, if non-nil, is returned by Initialize.
	InitializeErr error

	// HealthyResult is returned by Healthy. Defaults to unhealthy; set to
	// true for happy-path tests.
	HealthyResult bool

	// HealthyDetail is the detail string returned by Healthy.
	HealthyDetail string

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns SynthesizeAudio, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.SynthesizeAudio != nil {
		return p.SynthesizeAudio, nil
	}
	return &tts.Audio{Data: []byte("audio:" + req.Text), Format: "mp3"}, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Initialize returns InitializeErr.
func (p *Provider) Initialize(ctx context.Context) error {
	return p.InitializeErr
}

// Healthy returns HealthyResult, HealthyDetail.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	return p.HealthyResult, p.HealthyDetail
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(calls, p.SynthesizeCalls)
	return calls
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}
