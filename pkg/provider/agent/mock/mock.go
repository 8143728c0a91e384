// Package mock provides a test double for the agent.Provider interface.
//
// Use Provider in unit tests to feed scripted event streams into the turn
// pipeline without a live agent backend. All fields are safe to set before
// calling any method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamEvents: []agent.Event{
//	        {Type: agent.EventStreamStart, TurnID: "t1", SessionID: "s1"},
//	        {Type: agent.EventStreamToken, Chunk: "Hello there."},
//	        {Type: agent.EventStreamEnd, TurnID: "t1", Content: "Hello there."},
//	    },
//	}
//	events, err := p.Stream(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the Request passed to Stream.
	Req agent.Request
}

// Provider is a mock implementation of agent.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
// Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamEvents is the sequence of Event values emitted on the channel
	// returned by Stream. All events are sent before the channel is closed.
	StreamEvents []agent.Event

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// starting a channel.
	StreamErr error

	// Gate, if non-nil, is received from before each event is sent. Tests use
	// it to step the stream one event at a time (e.g., to interrupt mid-turn
	// or to observe backpressure).
	Gate <-chan struct{}

	// InitializeErr, if non-nil, is returned from Initialize.
	InitializeErr error

	// HealthyResult and HealthyMessage are returned from Healthy.
	HealthyResult  bool
	HealthyMessage string

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	// Delivered counts events actually sent on the stream channel. Tests use
	// it to verify how far the upstream iterator was drained.
	Delivered int

	// InitializeCallCount is the number of times Initialize was called.
	InitializeCallCount int
}

// Stream records the call and returns a channel that emits StreamEvents.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
		p.mu.Unlock()
		return nil, err
	}
	events := make([]agent.Event, len(p.StreamEvents))
	copy(events, p.StreamEvents)
	gate := p.Gate
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	p.mu.Unlock()

	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if gate != nil {
				select {
				case <-ctx.Done():
					return
				case <-gate:
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
				p.mu.Lock()
				p.Delivered++
				p.mu.Unlock()
			}
		}
	}()
	return ch, nil
}

// Initialize records the call and returns InitializeErr.
func (p *Provider) Initialize(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitializeCallCount++
	return p.InitializeErr
}

// Healthy returns HealthyResult, HealthyMessage.
func (p *Provider) Healthy(context.Context) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HealthyResult, p.HealthyMessage
}

// DeliveredCount returns the number of events sent so far. Thread-safe.
func (p *Provider) DeliveredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Delivered
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.Delivered = 0
	p.InitializeCallCount = 0
}

// Ensure Provider implements agent.Provider at compile time.
var _ agent.Provider = (*Provider)(nil)
