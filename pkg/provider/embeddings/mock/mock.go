// Package mock is an in-memory [embeddings.Provider] for tests. It returns a
// fixed query vector, or runs Func, and remembers which transcripts it was
// asked to embed.
//
//	p := &mock.Provider{Vector: []float32{0.9, 0.1}, Dims: 2}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a scripted embedder. Set the exported fields before use.
type Provider struct {
	// Vector is what Embed returns when Func is nil.
	Vector []float32

	// Func computes the vector for one text instead of Vector. It runs
	// without the lock held, so it may block on ctx.
	Func func(ctx context.Context, text string) ([]float32, error)

	// Batch is returned by EmbedBatch as is. When nil, EmbedBatch embeds
	// each text like Embed would.
	Batch [][]float32

	// Err fails both Embed and EmbedBatch.
	Err error

	Dims  int
	Model string

	mu      sync.Mutex
	texts   []string
	batches [][]string
}

// Embed records text and returns Func's result, or Vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()
	return p.one(ctx, text)
}

// EmbedBatch records texts and returns Batch, or one vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batches = append(p.batches, slices.Clone(texts))
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Batch != nil {
		return p.Batch, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.one(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Provider) one(ctx context.Context, text string) ([]float32, error) {
	if p.Func != nil {
		return p.Func(ctx, text)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Vector, nil
}

// Texts returns every text passed to Embed, in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}

// EmbedCount returns how many times Embed ran.
func (p *Provider) EmbedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

// Batches returns the inputs of every EmbedBatch call, in order.
func (p *Provider) Batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.batches)
}

// Dimensions returns Dims.
func (p *Provider) Dimensions() int { return p.Dims }

// ModelID returns Model.
func (p *Provider) ModelID() string { return p.Model }
