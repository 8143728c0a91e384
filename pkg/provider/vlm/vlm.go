// Package vlm defines the Provider interface for Vision-Language Model
// backends. The companion uses it to describe screenshots and camera frames
// the client attaches to a chat message, and the REST surface exposes it
// directly for one-shot image analysis.
//
// Implementations must be safe for concurrent use.
package vlm

import "context"

// Provider is the abstraction over any vision-language backend.
type Provider interface {
	// Analyze answers the prompt about the supplied images. Each image is a
	// URL, a data URL, or a raw base64 payload. Returns the model's full
	// text answer.
	//
	// Returns an error if no images are supplied or the backend cannot be
	// reached.
	Analyze(ctx context.Context, prompt string, images []string) (string, error)

	// Initialize verifies the provider is ready for use. Called once at
	// startup before the first analysis request.
	Initialize(ctx context.Context) error

	// Healthy reports whether the backend is reachable, with a short
	// human-readable detail string.
	Healthy(ctx context.Context) (bool, string)
}
