// Package evaluate runs one call recording through the grading pipeline:
// transcribe, correct, calibrate, grade.
//
// Each stage that talks to an external service runs under its own timeout.
// Calibration problems only ever reduce the prompt to its uncalibrated form;
// transcription and grading failures abort the evaluation and are returned
// to the caller wrapped in [ErrTranscription] or [ErrGrading].
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/monitorai/internal/calibration"
	"github.com/MrWong99/monitorai/internal/grader"
	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/transcript"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// Default stage timeouts.
const (
	DefaultTranscribeTimeout = 120 * time.Second
	DefaultGradeTimeout      = 90 * time.Second
)

var (
	// ErrGrading wraps every grader failure, including timeouts.
	ErrGrading = errors.New("evaluate: grading failed")

	// ErrTranscription wraps every transcription failure, including timeouts.
	ErrTranscription = errors.New("evaluate: transcription failed")

	// ErrNoInput is returned when an [Input] carries neither audio nor text.
	ErrNoInput = errors.New("evaluate: input has neither audio nor transcript")
)

// Calibrator supplies the optional calibration block for a transcript. It
// must not fail; see [calibration.Calibrator].
type Calibrator interface {
	Guidance(ctx context.Context, transcript string) calibration.Result
}

// Hook runs after a successful evaluation. Hook errors are logged and never
// change the evaluation's outcome.
type Hook interface {
	Name() string
	AfterEvaluation(ctx context.Context, r *Result) error
}

// Input is one call to evaluate. Exactly one of Audio or Transcript is used;
// a non-empty Transcript skips transcription.
type Input struct {
	// ID is the evaluation ID. Empty means a new UUID is generated.
	ID string

	// FileName is the original upload name, used for reports and to infer
	// the audio format.
	FileName string

	Audio       io.Reader
	ContentType string

	Transcript string
}

// Result is a finished evaluation.
type Result struct {
	ID          string
	FileName    string
	Transcript  string
	Corrections []transcript.Correction
	Calibration calibration.Result
	Evaluation  *grader.Evaluation
	StartedAt   time.Time
	Duration    time.Duration
}

// Pipeline wires the stages together. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	transcriber       stt.Provider
	calibrator        Calibrator
	corrector         *transcript.Corrector
	grader            grader.Grader
	hooks             []Hook
	transcribeTimeout time.Duration
	gradeTimeout      time.Duration
	language          string
	keywords          []stt.KeywordBoost
	logger            *slog.Logger
	metrics           *observe.Metrics
	now               func() time.Time
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTranscriber sets the speech-to-text backend. Without one only
// transcript inputs can be evaluated.
func WithTranscriber(p stt.Provider) Option {
	return func(pl *Pipeline) { pl.transcriber = p }
}

// WithCalibrator sets the calibration source. Without one prompts are never
// calibrated.
func WithCalibrator(c Calibrator) Option {
	return func(pl *Pipeline) { pl.calibrator = c }
}

// WithCorrector sets the vocabulary corrector applied to transcription
// output. Transcript inputs are graded as given.
func WithCorrector(c *transcript.Corrector) Option {
	return func(pl *Pipeline) { pl.corrector = c }
}

// WithHooks appends post-evaluation hooks. They run in order.
func WithHooks(h ...Hook) Option {
	return func(pl *Pipeline) { pl.hooks = append(pl.hooks, h...) }
}

// WithTranscribeTimeout bounds the transcription call. Default: [DefaultTranscribeTimeout].
func WithTranscribeTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.transcribeTimeout = d }
}

// WithGradeTimeout bounds the grading call, fallbacks included. Default: [DefaultGradeTimeout].
func WithGradeTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.gradeTimeout = d }
}

// WithLanguage sets the recognition language passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(pl *Pipeline) { pl.language = lang }
}

// WithKeywords sets vocabulary hints passed to the transcriber.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(pl *Pipeline) { pl.keywords = kw }
}

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// New creates a Pipeline around g.
func New(g grader.Grader, opts ...Option) *Pipeline {
	pl := &Pipeline{
		grader:            g,
		transcribeTimeout: DefaultTranscribeTimeout,
		gradeTimeout:      DefaultGradeTimeout,
		language:          "pt",
		now:               time.Now,
	}
	for _, o := range opts {
		o(pl)
	}
	if pl.logger == nil {
		pl.logger = slog.Default()
	}
	if pl.metrics == nil {
		pl.metrics = observe.DefaultMetrics()
	}
	return pl
}

// RunTranscript grades an existing transcript, skipping transcription.
func (pl *Pipeline) RunTranscript(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	return pl.Run(ctx, Input{Transcript: text}, progress)
}

// Run evaluates one call. progress may be nil. Failures are reported through
// progress as a [StageFailed] event as well as returned.
func (pl *Pipeline) Run(ctx context.Context, in Input, progress ProgressFunc) (*Result, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = observe.WithEvaluationID(ctx, id)
	ctx, span := observe.StartSpan(ctx, "evaluate.run")
	defer span.End()
	span.SetAttributes(attribute.String("evaluation.id", id))

	pl.metrics.ActiveEvaluations.Add(ctx, 1)
	defer pl.metrics.ActiveEvaluations.Add(ctx, -1)

	emit := newEmitter(id, progress, pl.now)
	res := &Result{ID: id, FileName: in.FileName, StartedAt: pl.now()}
	log := observe.Logger(ctx).With("file", in.FileName)

	fail := func(stage string, err error) (*Result, error) {
		res.Duration = pl.now().Sub(res.StartedAt)
		pl.metrics.RecordEvaluation(ctx, res.Duration.Seconds(), "error", stage)
		span.RecordError(err)
		log.Error("evaluate: evaluation failed", "stage", stage, "err", err)
		emit(StageFailed, err.Error())
		return nil, err
	}

	// ── Transcribe ───────────────────────────────────────────────────────────
	text := in.Transcript
	res.Corrections = []transcript.Correction{}
	if text == "" {
		if in.Audio == nil {
			return fail("input", ErrNoInput)
		}
		emit(StageTranscribing, "")
		var err error
		if text, err = pl.transcribe(ctx, in); err != nil {
			return fail("transcribe", err)
		}
		if pl.corrector != nil {
			fixed := pl.corrector.Correct(text)
			text, res.Corrections = fixed.Text, fixed.Corrections
			if len(fixed.Corrections) > 0 {
				log.Debug("evaluate: transcript corrected", "corrections", len(fixed.Corrections))
			}
		}
	}
	res.Transcript = text

	// ── Calibrate ────────────────────────────────────────────────────────────
	if pl.calibrator != nil {
		emit(StageCalibrating, "")
		res.Calibration = pl.calibrator.Guidance(ctx, text)
	}

	// ── Grade ────────────────────────────────────────────────────────────────
	emit(StageGrading, "")
	ev, err := pl.grade(ctx, text, res.Calibration.Block)
	if err != nil {
		return fail("grade", err)
	}
	res.Evaluation = ev
	res.Duration = pl.now().Sub(res.StartedAt)

	pl.metrics.RecordEvaluation(ctx, res.Duration.Seconds(), "ok", "")
	span.SetAttributes(attribute.Int("evaluation.total_score", ev.TotalScore))
	log.Info("evaluate: evaluation complete",
		"total_score", ev.TotalScore,
		"calibrated", res.Calibration.Block != "",
		"duration", res.Duration)

	pl.runHooks(ctx, res)
	emit(StageDone, "")
	return res, nil
}

func (pl *Pipeline) transcribe(ctx context.Context, in Input) (string, error) {
	if pl.transcriber == nil {
		return "", fmt.Errorf("%w: no transcriber configured", ErrTranscription)
	}
	if pl.transcribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.transcribeTimeout)
		defer cancel()
	}
	start := pl.now()
	tr, err := pl.transcriber.Transcribe(ctx, stt.Request{
		Audio:       in.Audio,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		Language:    pl.language,
		Keywords:    pl.keywords,
	})
	pl.metrics.TranscriptionDuration.Record(ctx, pl.now().Sub(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	return tr.Text, nil
}

func (pl *Pipeline) grade(ctx context.Context, text, block string) (*grader.Evaluation, error) {
	if pl.gradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.gradeTimeout)
		defer cancel()
	}
	ev, err := pl.grader.Grade(ctx, grader.Request{Transcript: text, Calibration: block})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrading, err)
	}
	return ev, nil
}

func (pl *Pipeline) runHooks(ctx context.Context, res *Result) {
	for _, h := range pl.hooks {
		if err := h.AfterEvaluation(ctx, res); err != nil {
			observe.Logger(ctx).Warn("evaluate: post-evaluation hook failed", "hook", h.Name(), "err", err)
			pl.metrics.RecordProviderError(ctx, h.Name(), "hook")
		}
	}
}
