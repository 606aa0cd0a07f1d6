package grader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/rubric"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
)

// DefaultTemperature keeps grading close to deterministic while leaving the
// model some room on free-text justifications.
const DefaultTemperature = 0.3

var _ Grader = (*LLMGrader)(nil)

// LLMGrader grades transcripts with an [llm.Provider] in JSON mode.
type LLMGrader struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// Option configures an [LLMGrader].
type Option func(*LLMGrader)

// WithTemperature sets the sampling temperature. Default: [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(g *LLMGrader) { g.temperature = t }
}

// WithMaxTokens caps the completion length. Zero uses the provider default.
func WithMaxTokens(n int) Option {
	return func(g *LLMGrader) { g.maxTokens = n }
}

// WithLogger sets the fallback logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *LLMGrader) { g.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *LLMGrader) { g.metrics = m }
}

// NewLLM returns a grader backed by provider.
func NewLLM(provider llm.Provider, opts ...Option) *LLMGrader {
	g := &LLMGrader{
		provider:    provider,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Grade implements [Grader]. The caller bounds the call with ctx; a deadline
// surfaces as an error wrapping [context.DeadlineExceeded].
func (g *LLMGrader) Grade(ctx context.Context, req Request) (*Evaluation, error) {
	ctx, span := observe.StartSpan(ctx, "grader.grade")
	defer span.End()

	if req.Transcript == "" {
		return nil, errors.New("grader: empty transcript")
	}

	model := g.provider.ModelID()
	llmReq := llm.Request{
		System: rubric.SystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: rubric.BuildPrompt(req.Transcript, req.Calibration)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		JSON:        true,
	}
	if err := llmReq.Fits(g.provider.Limits()); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("grader: %s: %w", model, err)
	}

	start := time.Now()
	reply, err := g.provider.Complete(ctx, llmReq)
	g.metrics.GradingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, model, "llm", "error")
		g.metrics.RecordProviderError(ctx, model, "llm")
		span.RecordError(err)
		return nil, fmt.Errorf("grader: complete: %w", err)
	}
	g.metrics.RecordProviderRequest(ctx, model, "llm", "ok")
	if reply == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	ev, err := Parse(reply.Text)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ev.Model = reply.Model
	if ev.Model == "" {
		ev.Model = model
	}

	log := observe.Logger(ctx)
	if observe.CorrelationID(ctx) == "" && observe.EvaluationID(ctx) == "" {
		log = g.logger
	}
	if reply.Truncated {
		log.Warn("grader: reply truncated by token limit", "model", ev.Model, "max_tokens", g.maxTokens)
	}
	if n := unmapped(ev); n > 0 {
		log.Warn("grader: checklist lines not mapped to rubric", "count", n)
	}
	if ev.ScoreMismatch() {
		log.Warn("grader: model total differs from recomputed score",
			"reported", *ev.ReportedScore, "recomputed", ev.TotalScore)
	}

	span.SetAttributes(
		attribute.Int("grader.input_tokens", reply.Usage.Input),
		attribute.Int("grader.output_tokens", reply.Usage.Output),
		attribute.Int("grader.total_score", ev.TotalScore),
		attribute.Bool("grader.eliminated", ev.Eliminated()),
	)
	return ev, nil
}

func unmapped(ev *Evaluation) int {
	n := 0
	for _, it := range ev.Checklist {
		if it.Key == "" {
			n++
		}
	}
	return n
}
