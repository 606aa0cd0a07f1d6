// Package observe holds the OpenTelemetry instruments, tracing helpers and
// HTTP middleware shared by every MonitorAI component.
//
// Instruments live on a [Metrics] value. Production code uses the one built
// by [InitProvider], which is exported to Prometheus; tests build their own
// with [NewMetrics] over a manual reader so runs never share counters.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/monitorai"

// Calibration outcomes recorded by [Metrics.RecordCalibration].
const (
	CalibrationApplied           = "applied"
	CalibrationNoMatches         = "no_matches"
	CalibrationAbsent            = "absent"
	CalibrationDisabled          = "disabled"
	CalibrationEmbedError        = "embed_error"
	CalibrationTimeout           = "timeout"
	CalibrationDimensionMismatch = "dimension_mismatch"
)

// Metrics is the set of instruments recorded by the evaluation pipeline.
type Metrics struct {
	// Stage latencies, in seconds.
	TranscriptionDuration metric.Float64Histogram
	EmbeddingDuration     metric.Float64Histogram
	GradingDuration       metric.Float64Histogram

	// EvaluationDuration is labelled with status "ok" or "error".
	EvaluationDuration metric.Float64Histogram
	EvaluationFailures metric.Int64Counter
	ActiveEvaluations  metric.Int64UpDownCounter

	// ProviderRequests and ProviderErrors are labelled with provider and
	// kind (llm, stt, embeddings, hook).
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// CircuitTransitions counts breaker state changes by backend and the
	// state entered.
	CircuitTransitions metric.Int64Counter

	CalibrationOutcomes   metric.Int64Counter
	CalibrationSimilarity metric.Float64Histogram
	ReferenceCases        metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

// Calls take seconds to minutes; a ten-minute recording can spend two
// minutes in transcription alone.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160}

var similarityBuckets = []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.98, 1}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{meter: mp.Meter(meterName)}
	m := &Metrics{
		TranscriptionDuration: b.seconds("monitorai.transcription.duration", "Speech-to-text latency per recording."),
		EmbeddingDuration:     b.seconds("monitorai.embedding.duration", "Transcript embedding latency."),
		GradingDuration:       b.seconds("monitorai.grading.duration", "LLM grading latency, fallbacks included."),
		EvaluationDuration:    b.seconds("monitorai.evaluation.duration", "End-to-end evaluation latency by status."),
		EvaluationFailures:    b.counter("monitorai.evaluation.failures", "Failed evaluations by failing stage."),
		ActiveEvaluations:     b.gauge("monitorai.active_evaluations", "Evaluations in progress."),
		ProviderRequests:      b.counter("monitorai.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:        b.counter("monitorai.provider.errors", "Provider failures by provider and kind."),
		CircuitTransitions:    b.counter("monitorai.provider.circuit_transitions", "Circuit breaker state changes by backend and new state."),
		CalibrationOutcomes:   b.counter("monitorai.calibration.outcomes", "Calibration attempts by outcome."),
		CalibrationSimilarity: b.histogram("monitorai.calibration.similarity", "Cosine similarity of the best reference match.", "", similarityBuckets),
		ReferenceCases:        b.gauge("monitorai.reference.cases", "Reference cases loaded."),
		HTTPRequestDuration:   b.histogram("monitorai.http.request.duration", "HTTP request latency by method, route and status.", "s", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// builder creates instruments and collects every creation error instead of
// failing on each call.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) histogram(name, desc, unit string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *builder) seconds(name, desc string) metric.Float64Histogram {
	return b.histogram(name, desc, "s", latencyBuckets)
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider, for
// components constructed without explicit metrics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordCircuitChange counts one breaker transition into state.
func (m *Metrics) RecordCircuitChange(ctx context.Context, backend, state string) {
	m.CircuitTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("state", state),
	))
}

// RecordCalibration counts one calibration attempt; outcome is one of the
// Calibration* constants.
func (m *Metrics) RecordCalibration(ctx context.Context, outcome string) {
	m.CalibrationOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEvaluation records a finished evaluation. stage names the failing
// stage and is ignored when status is "ok".
func (m *Metrics) RecordEvaluation(ctx context.Context, seconds float64, status, stage string) {
	m.EvaluationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	if status != "ok" {
		m.EvaluationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}
