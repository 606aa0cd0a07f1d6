// Package mock is an in-memory [llm.Provider] for tests. It replays a canned
// reply, or runs Func, and keeps every request it was handed.
//
//	p := &mock.Provider{Reply: &llm.Reply{Text: `{"pontuacao_total": 75}`}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.Request
}

// Provider is a scripted grading model. Set the exported fields before use.
type Provider struct {
	// Reply and Err are returned by Complete when Func is nil.
	Reply *llm.Reply
	Err   error

	// Func answers instead of Reply and Err. It runs without the lock held,
	// so it may block on ctx.
	Func func(ctx context.Context, req llm.Request) (*llm.Reply, error)

	// Model is returned by ModelID; "mock" when empty.
	Model string

	// ModelLimits is returned by Limits.
	ModelLimits llm.Limits

	mu    sync.Mutex
	calls []Call
}

// Complete records req and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	req.Messages = slices.Clone(req.Messages)
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn, reply, err := p.Func, p.Reply, p.Err
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return reply, err
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CallCount returns how many times Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// LastRequest returns the most recent request, or the zero Request.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return llm.Request{}
	}
	return p.calls[len(p.calls)-1].Req
}

// Limits returns ModelLimits.
func (p *Provider) Limits() llm.Limits { return p.ModelLimits }

// ModelID returns Model, or "mock".
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock"
	}
	return p.Model
}
