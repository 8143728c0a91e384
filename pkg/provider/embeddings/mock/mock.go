// Package mock is a configurable in-memory double for embeddings.Provider.
//
// Set the *Result/*Err fields to script responses, then inspect the recorded
// calls to verify which texts were embedded:
//
//	p := &mock.Provider{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	}
//	vec, _ := p.Embed(ctx, "she mentioned her cat is named mochi")
package mock

import (
	"context"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy of the
// caller's slice.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider implements embeddings.Provider with scripted responses. Safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult and EmbedErr script the Embed response.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult scripts EmbedBatch. When nil (and EmbedBatchErr is
	// nil), EmbedBatch returns one nil vector per input text.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	// DimensionsValue and ModelIDValue script the metadata accessors.
	DimensionsValue int
	ModelIDValue    string

	// HealthyResult and HealthyDetail script Healthy.
	HealthyResult bool
	HealthyDetail string

	// Call records, appended in invocation order.
	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})

	switch {
	case p.EmbedBatchErr != nil:
		return nil, p.EmbedBatchErr
	case p.EmbedBatchResult != nil:
		return p.EmbedBatchResult, nil
	default:
		return make([][]float32, len(texts)), nil
	}
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

func (p *Provider) Healthy(context.Context) (bool, string) {
	return p.HealthyResult, p.HealthyDetail
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}
