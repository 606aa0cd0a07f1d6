// Package resilience keeps grading and transcription going when a model
// service misbehaves. Each backend sits behind a [Breaker]; a [FallbackGroup]
// tries the backends in order, skipping those whose breaker is open, and
// gives up as soon as the caller's context is done so one per-call timeout
// bounds the whole failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a few trial calls through to test the backend.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Threshold is the run of consecutive failures that trips the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long a tripped breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Trials is how many calls are let through after the cooldown; that many
	// successes close the breaker again and one failure re-trips it.
	// Default: 3.
	Trials int

	// Counts reports whether err says something about the backend. Default:
	// everything but context.Canceled, which only means the caller left.
	Counts func(error) bool

	// OnChange runs after every state change, outside the breaker's lock.
	OnChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker around one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trying   int
	passed   int
}

// NewBreaker returns a closed breaker labelled name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 3
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open and records how it went. fn's error
// is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(trial, err)
	return err
}

// State returns the current state. A tripped breaker whose cooldown is over
// reports [StateHalfOpen] before the next call actually moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooled() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if !b.cooled() {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state, b.trying, b.passed = StateHalfOpen, 0, 0
	}
	if b.state == StateHalfOpen {
		if b.trying >= b.cfg.Trials {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.trying++
		trial = true
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
	return trial, nil
}

func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err != nil && b.cfg.Counts(err):
		b.failures++
		if trial || b.failures >= b.cfg.Threshold {
			b.state, b.openedAt = StateOpen, b.now()
		}
	case err != nil:
		// the caller gave up; a trial slot it held is free again
		if trial {
			b.trying--
		}
	case trial:
		b.passed++
		if b.passed >= b.cfg.Trials {
			b.state, b.failures = StateClosed, 0
		}
	default:
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	b.changed(from, to)
}

func (b *Breaker) changed(from, to State) {
	if from == to {
		return
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit "+to.String(), "backend", b.name, "from", from.String())
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.name, from, to)
	}
}
