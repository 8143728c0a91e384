// Package agent defines the Provider interface for conversational agent
// engines.
//
// An agent engine turns one user message into a finite, ordered stream of
// [Event] values: exactly one EventStreamStart, any number of
// EventStreamToken / EventToolCall / EventToolResult events, and at most one
// terminal EventStreamEnd. The stream is lazy, non-restartable, and
// cancellable: cancelling the context must stop further upstream work.
//
// Implementations must be safe for concurrent use. Multiple turns may stream
// in parallel (e.g., several connections at once).
package agent

import "context"

// Provider is the abstraction over any agent backend.
type Provider interface {
	// Stream starts a conversational turn for the given request and returns a
	// channel of events. The channel is closed by the implementation when the
	// turn has ended or when ctx is cancelled; the caller must drain it to
	// avoid blocking the provider's internal goroutines.
	//
	// Errors that occur after streaming has begun are reported as an Event
	// with a non-nil Err field, followed by channel close. A non-nil error
	// return means the stream could not be started at all.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// Initialize prepares the provider for use (connection checks, model
	// warm-up). It must be called once before Stream.
	Initialize(ctx context.Context) error

	// Healthy reports whether the backing service is reachable. The string
	// carries a human-readable status message for the readiness endpoint.
	Healthy(ctx context.Context) (bool, string)
}
