// Package anyllm grades calls through github.com/mozilla-ai/any-llm-go, one
// client over OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq and
// local llama.cpp servers. It is what grader fallbacks usually run on, so a
// second vendor can score a call while the primary one is down:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// backends maps vendor names to their any-llm constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the accepted vendor names, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// knownLimits maps substrings of model names to limits, checked in order.
// JSON is never set: the flag is not forwarded through any-llm.
var knownLimits = []struct {
	match  string
	limits llm.Limits
}{
	{"gpt-4o", llm.Limits{ContextWindow: 128_000, MaxOutput: 16_384}},
	{"gpt-4-turbo", llm.Limits{ContextWindow: 128_000, MaxOutput: 4_096}},
	{"gpt-4", llm.Limits{ContextWindow: 8_192, MaxOutput: 4_096}},
	{"gpt-3.5-turbo", llm.Limits{ContextWindow: 16_385, MaxOutput: 4_096}},
	{"claude-3-opus", llm.Limits{ContextWindow: 200_000, MaxOutput: 4_096}},
	{"claude", llm.Limits{ContextWindow: 200_000, MaxOutput: 8_192}},
	{"gemini-1.5-pro", llm.Limits{ContextWindow: 2_097_152, MaxOutput: 8_192}},
	{"gemini-1.5-flash", llm.Limits{ContextWindow: 1_048_576, MaxOutput: 8_192}},
	{"gemini-2.0-flash", llm.Limits{ContextWindow: 1_048_576, MaxOutput: 8_192}},
	{"gemini", llm.Limits{ContextWindow: 128_000, MaxOutput: 8_192}},
}

var defaultLimits = llm.Limits{ContextWindow: 128_000, MaxOutput: 4_096}

func limitsFor(model string) llm.Limits {
	lower := strings.ToLower(model)
	for _, k := range knownLimits {
		if strings.Contains(lower, k.match) {
			return k.limits
		}
	}
	return defaultLimits
}

// Provider is an [llm.Provider] for one model on one any-llm backend.
type Provider struct {
	client  anyllmlib.Provider
	backend string
	model   string
}

// New connects to backend (see [Backends]) for model. opts are any-llm
// options such as anyllmlib.WithAPIKey and anyllmlib.WithBaseURL; without an
// API key the backend reads its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backend == "" {
		return nil, errors.New("anyllm: backend is required")
	}
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	name := strings.ToLower(backend)
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	client, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{client: client, backend: name, model: model}, nil
}

// Complete runs req on the backend. The reply's Model is "backend/model" so
// evaluations record which vendor actually graded them.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s/%s: %w", p.backend, p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s/%s: reply has no choices", p.backend, p.model)
	}

	c := resp.Choices[0]
	reply := &llm.Reply{
		Text:      c.Message.ContentString(),
		Model:     p.backend + "/" + p.model,
		Truncated: c.FinishReason == "length" || c.FinishReason == "max_tokens",
	}
	if u := resp.Usage; u != nil {
		reply.Usage = llm.Usage{Input: u.PromptTokens, Output: u.CompletionTokens}
	}
	return reply, nil
}

// Limits returns the limits of the configured model.
func (p *Provider) Limits() llm.Limits { return limitsFor(p.model) }

// ModelID returns the configured model name.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) params(req llm.Request) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
