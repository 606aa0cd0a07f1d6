package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no backend of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own [Breaker]. Add every backend before sharing the group.
type FallbackGroup[T any] struct {
	cfg     BreakerConfig
	entries []member[T]
}

// NewFallbackGroup starts a group with primary as its first backend. Every
// backend gets a breaker built from cfg.
func NewFallbackGroup[T any](primary T, name string, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(name, primary)
	return g
}

// AddFallback appends a backend, tried after the ones already added.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	g.entries = append(g.entries, member[T]{name: name, value: v, breaker: NewBreaker(name, g.cfg)})
}

// Len returns the number of backends, primary included.
func (g *FallbackGroup[T]) Len() int { return len(g.entries) }

// Primary returns the first backend.
func (g *FallbackGroup[T]) Primary() T { return g.entries[0].value }

// Circuits returns each backend's breaker state by name.
func (g *FallbackGroup[T]) Circuits() map[string]State {
	out := make(map[string]State, len(g.entries))
	for _, m := range g.entries {
		out[m.name] = m.breaker.State()
	}
	return out
}

// OpenCircuits lists, in failover order, the backends currently rejecting
// calls.
func (g *FallbackGroup[T]) OpenCircuits() []string {
	var open []string
	for _, m := range g.entries {
		if m.breaker.State() == StateOpen {
			open = append(open, m.name)
		}
	}
	return open
}

// Execute is [ExecuteWithResult] without a result.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult returns the result of the first backend for which fn
// succeeds. Backends with an open breaker are skipped, and nothing more is
// tried once ctx is done.
//
// A total failure wraps [ErrAllFailed] and the last backend's error, so a
// timeout still matches context.DeadlineExceeded.
func ExecuteWithResult[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	for i, m := range g.entries {
		if err := ctx.Err(); err != nil {
			if last == nil {
				last = err
			}
			break
		}

		var out R
		err := m.breaker.Do(func() (err error) {
			out, err = fn(m.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: circuit open, skipping", "backend", m.name)
		case i+1 < len(g.entries):
			slog.Warn("resilience: backend failed, trying next", "backend", m.name, "err", err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
