package resilience

import (
	"context"

	"github.com/hikaru-dev/koemi/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders the text with the first healthy backend. Voice and format
// defaults are per-backend, so a clip served by a fallback may sound different
// from the primary.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns available voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// Initialize prepares every backend in the group. A failing backend is
// tolerated as long as at least one initialises; the last error is returned
// only when all of them fail.
func (f *TTSFallback) Initialize(ctx context.Context) error {
	var lastErr error
	ready := 0
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Initialize(ctx); err != nil {
			lastErr = err
			continue
		}
		ready++
	}
	if ready == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Healthy reports healthy if any backend in the group is healthy. Probes talk
// to the backends directly so that health checks never trip a breaker.
func (f *TTSFallback) Healthy(ctx context.Context) (bool, string) {
	for i := range f.group.entries {
		if ok, msg := f.group.entries[i].value.Healthy(ctx); ok {
			return true, msg
		}
	}
	return false, "no healthy tts backend"
}
