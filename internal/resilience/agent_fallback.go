package resilience

import (
	"context"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

// AgentFallback implements [agent.Provider] with automatic failover across
// multiple agent backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
//
// Only stream setup participates in failover. Once a stream is established,
// mid-stream errors surface as events on the channel and are the caller's
// responsibility, because replaying a half-delivered turn against another
// backend would duplicate output the client has already rendered.
type AgentFallback struct {
	group *FallbackGroup[agent.Provider]
}

// Compile-time interface assertion.
var _ agent.Provider = (*AgentFallback)(nil)

// NewAgentFallback creates an [AgentFallback] with primary as the preferred backend.
func NewAgentFallback(primary agent.Provider, primaryName string, cfg FallbackConfig) *AgentFallback {
	return &AgentFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional agent provider as a fallback.
func (f *AgentFallback) AddFallback(name string, provider agent.Provider) {
	f.group.AddFallback(name, provider)
}

// Stream starts the turn on the first healthy backend and returns its event
// channel.
func (f *AgentFallback) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	return ExecuteWithResult(f.group, func(p agent.Provider) (<-chan agent.Event, error) {
		return p.Stream(ctx, req)
	})
}

// Initialize prepares every backend in the group. A failing backend is
// tolerated as long as at least one initialises; the last error is returned
// only when all of them fail.
func (f *AgentFallback) Initialize(ctx context.Context) error {
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
func (f *AgentFallback) Healthy(ctx context.Context) (bool, string) {
	for i := range f.group.entries {
		if ok, msg := f.group.entries[i].value.Healthy(ctx); ok {
			return true, msg
		}
	}
	return false, "no healthy agent backend"
}
