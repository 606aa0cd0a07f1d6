// Package llm is the contract between the grader and the model that scores a
// call. A grading round is a single request: a system prompt carrying the
// rubric, one user message carrying the transcript and calibration examples,
// and a reply that should be one JSON object.
//
// Backends live in subpackages (openai, anyllm) and must be safe for
// concurrent use. They return promptly once the context is cancelled.
package llm

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrContextOverflow is returned by [Request.Fits] when the prompt cannot fit
// the model's context window together with the reply budget.
var ErrContextOverflow = errors.New("llm: prompt exceeds context window")

// Message is one turn of the prompt.
type Message struct {
	Role    string
	Content string
}

// Request is a single grading completion.
type Request struct {
	// System goes ahead of Messages as a system turn.
	System   string
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens bounds the reply. Zero leaves the backend default.
	MaxTokens int

	// JSON asks for a reply constrained to one JSON object. Backends that
	// cannot enforce it ignore the flag; the reply must be validated anyway.
	JSON bool
}

// Usage is the token accounting reported by the backend. Zero when the
// backend reports nothing.
type Usage struct {
	Input  int
	Output int
}

// Total returns Input + Output.
func (u Usage) Total() int { return u.Input + u.Output }

// Reply is the model's answer to a [Request].
type Reply struct {
	Text string

	// Model names the model that answered. Backends fill in the configured
	// model when the API does not echo one.
	Model string

	// Truncated is set when generation stopped at the token limit, which
	// for a grading reply usually means the JSON is cut short.
	Truncated bool

	Usage Usage
}

// Limits describes the size constraints of a model. Zero fields mean
// unknown.
type Limits struct {
	ContextWindow int
	MaxOutput     int
	JSON          bool
}

// Provider is a grading model backend.
type Provider interface {
	// Complete runs req and waits for the whole reply.
	Complete(ctx context.Context, req Request) (*Reply, error)

	// Limits reports the model's size constraints.
	Limits() Limits

	// ModelID returns the configured model name.
	ModelID() string
}

// EstimateTokens approximates the prompt size of req without a tokenizer:
// one token per four bytes of text plus a small per-turn overhead. It errs
// on the high side for Portuguese text.
func EstimateTokens(req Request) int {
	n := 0
	add := func(s string) {
		if s == "" {
			return
		}
		n += (len(s)+3)/4 + 4
		// accented letters take two bytes but usually share a token
		n += (len(s) - utf8.RuneCountInString(s)) / 8
	}
	add(req.System)
	for _, m := range req.Messages {
		add(m.Content)
	}
	return n
}

// Fits checks that req plus its reply budget fits the context window in l.
// An unknown window always fits.
func (req Request) Fits(l Limits) error {
	if l.ContextWindow <= 0 {
		return nil
	}
	reply := req.MaxTokens
	if reply <= 0 {
		reply = l.MaxOutput
	}
	if need := EstimateTokens(req) + reply; need > l.ContextWindow {
		return fmt.Errorf("%w: ~%d tokens, window %d", ErrContextOverflow, need, l.ContextWindow)
	}
	return nil
}
