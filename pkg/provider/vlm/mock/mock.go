// Package mock provides a test double for the vlm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
)

// Ensure Provider implements vlm.Provider at compile time.
var _ vlm.Provider = (*Provider)(nil)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Prompt is the prompt passed to Analyze.
	Prompt string
	// Images is a copy of the images passed to Analyze.
	Images []string
}

// Provider is a mock implementation of vlm.Provider.
type Provider struct {
	mu sync.Mutex

	// AnalyzeResult is returned by Analyze.
	AnalyzeResult string

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// InitializeErr, if non-nil, is returned by Initialize.
	InitializeErr error

	// HealthyResult is returned by Healthy.
	HealthyResult bool

	// HealthyDetail is the detail string returned by Healthy.
	HealthyDetail string

	// AnalyzeCalls records every call to Analyze in order.
	AnalyzeCalls []AnalyzeCall
}

// Analyze records the call and returns AnalyzeResult, AnalyzeErr.
func (p *Provider) Analyze(ctx context.Context, prompt string, images []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	imgs := make([]string, len(images))
	copy(imgs, images)
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Ctx: ctx, Prompt: prompt, Images: imgs})
	if p.AnalyzeErr != nil {
		return "", p.AnalyzeErr
	}
	return p.AnalyzeResult, nil
}

// Initialize returns InitializeErr.
func (p *Provider) Initialize(ctx context.Context) error {
	return p.InitializeErr
}

// Healthy returns HealthyResult, HealthyDetail.
func (p *Provider) Healthy(ctx context.Context) (bool, string) {
	return p.HealthyResult, p.HealthyDetail
}

// Calls returns a copy of the recorded Analyze calls. Thread-safe.
func (p *Provider) Calls() []AnalyzeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]AnalyzeCall, len(p.AnalyzeCalls))
	copy(calls, p.AnalyzeCalls)
	return calls
}
