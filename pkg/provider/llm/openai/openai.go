// Package openai grades calls with the OpenAI Chat Completions API. JSON mode
// is requested natively whenever the model supports it, which removes most
// malformed grading replies. Any OpenAI-compatible server (Azure, vLLM, LM
// Studio) works through [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// knownLimits maps model name prefixes to their limits. The first matching
// prefix wins, so longer prefixes come first.
var knownLimits = []struct {
	prefix string
	limits llm.Limits
}{
	{"gpt-4.1", llm.Limits{ContextWindow: 1_047_576, MaxOutput: 32_768, JSON: true}},
	{"gpt-4o", llm.Limits{ContextWindow: 128_000, MaxOutput: 16_384, JSON: true}},
	{"gpt-4-turbo", llm.Limits{ContextWindow: 128_000, MaxOutput: 4_096, JSON: true}},
	{"gpt-4", llm.Limits{ContextWindow: 8_192, MaxOutput: 4_096}},
	{"gpt-3.5-turbo", llm.Limits{ContextWindow: 16_385, MaxOutput: 4_096, JSON: true}},
	{"o1-mini", llm.Limits{ContextWindow: 128_000, MaxOutput: 65_536}},
	{"o1", llm.Limits{ContextWindow: 200_000, MaxOutput: 100_000, JSON: true}},
	{"o3", llm.Limits{ContextWindow: 200_000, MaxOutput: 100_000, JSON: true}},
	{"o4", llm.Limits{ContextWindow: 200_000, MaxOutput: 100_000, JSON: true}},
}

// defaultLimits applies to models missing from knownLimits.
var defaultLimits = llm.Limits{ContextWindow: 128_000, MaxOutput: 4_096, JSON: true}

// limitsFor looks model up in knownLimits.
func limitsFor(model string) llm.Limits {
	lower := strings.ToLower(model)
	for _, k := range knownLimits {
		if strings.HasPrefix(lower, k.prefix) {
			return k.limits
		}
	}
	return defaultLimits
}

// Provider is an [llm.Provider] for one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	limits llm.Limits
	seed   *int64
}

type settings struct {
	baseURL    string
	org        string
	timeout    time.Duration
	maxRetries int
	seed       *int64
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithTimeout bounds each HTTP request, retries excluded.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries sets the SDK's own retry count. Zero turns SDK retries off
// and leaves failover to the resilience layer.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithSeed asks the API for best-effort deterministic sampling, so
// re-grading the same call tends to give the same checklist.
func WithSeed(seed int64) Option {
	return func(s *settings) { s.seed = &seed }
}

// New returns a Provider for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai llm: api key is required")
	case model == "":
		return nil, errors.New("openai llm: model is required")
	}

	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   s.timeout,
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.org))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		limits: limitsFor(model),
		seed:   s.seed,
	}, nil
}

// Complete sends req as one chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai llm: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai llm: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai llm: %s: reply has no choices", p.model)
	}

	c := resp.Choices[0]
	reply := &llm.Reply{
		Text:      c.Message.Content,
		Model:     resp.Model,
		Truncated: c.FinishReason == "length",
		Usage: llm.Usage{
			Input:  int(resp.Usage.PromptTokens),
			Output: int(resp.Usage.CompletionTokens),
		},
	}
	if reply.Model == "" {
		reply.Model = p.model
	}
	return reply, nil
}

// Limits returns the limits of the configured model.
func (p *Provider) Limits() llm.Limits { return p.limits }

// ModelID returns the configured model name.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) params(req llm.Request) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oai.SystemMessage(req.System))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if p.seed != nil {
		params.Seed = param.NewOpt(*p.seed)
	}
	if req.JSON && p.limits.JSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}
