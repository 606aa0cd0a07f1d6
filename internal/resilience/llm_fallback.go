package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a primary grader model and
// ordered fallbacks.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend. Whatever backend answers,
// the reply's Model names it.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.Reply, error) {
		reply, err := p.Complete(ctx, req)
		if err == nil && reply != nil && reply.Model == "" {
			reply.Model = p.ModelID()
		}
		return reply, err
	})
}

// Limits intersects the limits of every backend, so a prompt sized for the
// chain fits whichever model ends up grading it.
func (f *LLMFallback) Limits() llm.Limits {
	l := f.group.Primary().Limits()
	for _, e := range f.group.entries[1:] {
		o := e.value.Limits()
		l.ContextWindow = minPositive(l.ContextWindow, o.ContextWindow)
		l.MaxOutput = minPositive(l.MaxOutput, o.MaxOutput)
		l.JSON = l.JSON && o.JSON
	}
	return l
}

// ModelID lists the backends in failover order, e.g. "gpt-4.1-mini|anthropic/claude".
func (f *LLMFallback) ModelID() string {
	ids := make([]string, len(f.group.entries))
	for i, e := range f.group.entries {
		ids[i] = e.value.ModelID()
	}
	return strings.Join(ids, "|")
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

// OpenCircuits lists the backends whose breaker currently rejects calls.
func (f *LLMFallback) OpenCircuits() []string { return f.group.OpenCircuits() }
