package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 20 * time.Second

// Result is the outcome of one calibration attempt.
type Result struct {
	// Block is the text to append to the grading prompt. Empty means the
	// prompt gets no calibration section.
	Block string

	// Matches are the ranked reference cases behind Block.
	Matches []Match

	// Degraded holds the reason calibration was skipped after a failure.
	// It is informational only and never fails the evaluation.
	Degraded error
}

// Calibrator embeds a transcript, ranks it against the reference store and
// formats the best matches. It is safe for concurrent use; top-k and the
// enabled flag may be changed at runtime.
type Calibrator struct {
	embedder embeddings.Provider
	refs     reference.Source
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observe.Metrics

	topK    atomic.Int64
	enabled atomic.Bool
}

// Option configures a [Calibrator].
type Option func(*Calibrator)

// WithTopK sets how many reference cases are included. Default: [DefaultTopK].
func WithTopK(k int) Option {
	return func(c *Calibrator) { c.topK.Store(int64(k)) }
}

// WithTimeout bounds each embedding call. Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Calibrator) { c.timeout = d }
}

// WithLogger sets the fallback logger used when the request context carries
// no trace. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Calibrator) { c.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Calibrator) { c.metrics = m }
}

// WithEnabled turns calibration on or off. Default: on.
func WithEnabled(on bool) Option {
	return func(c *Calibrator) { c.enabled.Store(on) }
}

// New returns a Calibrator. A nil embedder leaves every block empty. refs is
// usually a [*reference.Loader] so the store is read from its source at most
// once.
func New(embedder embeddings.Provider, refs reference.Source, opts ...Option) *Calibrator {
	c := &Calibrator{
		embedder: embedder,
		refs:     refs,
		timeout:  DefaultTimeout,
	}
	c.topK.Store(DefaultTopK)
	c.enabled.Store(true)
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetTopK changes the number of cases used by later calls.
func (c *Calibrator) SetTopK(k int) { c.topK.Store(int64(k)) }

// TopK returns the current number of cases used per call.
func (c *Calibrator) TopK() int { return int(c.topK.Load()) }

// SetEnabled switches calibration on or off for later calls.
func (c *Calibrator) SetEnabled(on bool) { c.enabled.Store(on) }

// Enabled reports whether calibration is on.
func (c *Calibrator) Enabled() bool { return c.enabled.Load() }

// Guidance returns the calibration block for transcript using the current
// top-k. It never returns an error: every failure degrades to an empty block,
// logged as a warning and reported in [Result.Degraded].
func (c *Calibrator) Guidance(ctx context.Context, transcript string) Result {
	return c.Similar(ctx, transcript, c.TopK())
}

// Similar is [Calibrator.Guidance] with an explicit k.
func (c *Calibrator) Similar(ctx context.Context, transcript string, k int) Result {
	ctx, span := observe.StartSpan(ctx, "calibration.guidance")
	defer span.End()
	log := c.log(ctx)

	if !c.Enabled() {
		c.metrics.RecordCalibration(ctx, observe.CalibrationDisabled)
		return Result{}
	}

	if c.embedder == nil {
		c.metrics.RecordCalibration(ctx, observe.CalibrationAbsent)
		return Result{}
	}

	store, err := c.refs.Load(ctx)
	if err != nil || store.Len() == 0 {
		// Load failures were logged once by the loader; do not repeat per call.
		c.metrics.RecordCalibration(ctx, observe.CalibrationAbsent)
		return Result{Degraded: err}
	}

	query, err := c.embed(ctx, transcript)
	if err != nil {
		outcome := observe.CalibrationEmbedError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = observe.CalibrationTimeout
		}
		log.Warn("calibration: embedding failed, continuing without calibration", "err", err)
		c.metrics.RecordCalibration(ctx, outcome)
		span.RecordError(err)
		return Result{Degraded: err}
	}

	matches, err := Rank(query, store, k)
	if err != nil {
		log.Warn("calibration: ranking failed, continuing without calibration", "err", err)
		c.metrics.RecordCalibration(ctx, observe.CalibrationDimensionMismatch)
		span.RecordError(err)
		return Result{Degraded: err}
	}
	if len(matches) == 0 {
		c.metrics.RecordCalibration(ctx, observe.CalibrationNoMatches)
		return Result{}
	}

	c.metrics.RecordCalibration(ctx, observe.CalibrationApplied)
	c.metrics.CalibrationSimilarity.Record(ctx, matches[0].Score)
	span.SetAttributes(
		attribute.Int("calibration.matches", len(matches)),
		attribute.String("calibration.best_case", matches[0].Case.ID),
	)
	log.Debug("calibration: applied", "matches", len(matches), "best_case", matches[0].Case.ID, "best_score", matches[0].Score)
	return Result{Block: Format(matches), Matches: matches}
}

func (c *Calibrator) embed(ctx context.Context, transcript string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	vec, err := c.embedder.Embed(ctx, transcript)
	c.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		// Providers already wrap ErrService; a timeout raised before the
		// provider saw it might not be.
		if !errors.Is(err, embeddings.ErrService) {
			err = embeddings.ServiceError("calibration: embed", err)
		}
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("calibration: embed: %w: empty vector", embeddings.ErrService)
	}
	return vec, nil
}

func (c *Calibrator) log(ctx context.Context) *slog.Logger {
	if observe.CorrelationID(ctx) != "" || observe.EvaluationID(ctx) != "" {
		return observe.Logger(ctx)
	}
	return c.logger
}
