// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The streaming pipeline already cuts agent output into sentence-sized
// chunks, so providers expose simple request/response synthesis: one chunk of
// text in, one encoded audio clip out. The REST surface and the frontend's
// tts_ready_chunk playback both go through this interface.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize renders one chunk of text as an encoded audio clip. The
	// request's Voice and Format fall back to provider defaults when empty.
	//
	// Returns an error if the text is empty, the voice is unknown, or the
	// backend cannot be reached.
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// ListVoices returns all voices available from this provider. The list
	// reflects the provider's current catalogue and may change between calls.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Initialize verifies the provider is ready for use. Called once at
	// startup before the first synthesis request.
	Initialize(ctx context.Context) error

	// Healthy reports whether the backend is reachable, with a short
	// human-readable detail string.
	Healthy(ctx context.Context) (bool, string)
}
