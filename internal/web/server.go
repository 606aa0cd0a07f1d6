// Package web serves the MonitorAI HTTP interface: the upload page, the
// asynchronous evaluation API with live progress over WebSocket, reports,
// calibration previews and reviewer feedback.
package web

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/feedback"
	"github.com/MrWong99/monitorai/internal/health"
	"github.com/MrWong99/monitorai/internal/observe"
)

//go:embed templates/*.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const (
	defaultMaxUpload     = 100 << 20
	defaultMaxConcurrent = 2
	maxJSONBody          = 1 << 20
)

// Runner evaluates one call. [*evaluate.Pipeline] implements it.
type Runner interface {
	Run(ctx context.Context, in evaluate.Input, progress evaluate.ProgressFunc) (*evaluate.Result, error)
}

var _ Runner = (*evaluate.Pipeline)(nil)

// Config holds the dependencies of a [Server]. Only Pipeline is required.
type Config struct {
	Pipeline Runner

	// Calibrator backs /api/calibration/preview. Nil disables the route.
	Calibrator evaluate.Calibrator

	// Feedback stores reviewer verdicts. Nil disables the route.
	Feedback feedback.Store

	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// MCP serves /mcp when set.
	MCP http.Handler

	// MaxUploadBytes bounds an audio upload. Default: 100 MiB.
	MaxUploadBytes int64

	// MaxConcurrent bounds evaluations running at once; further jobs wait.
	// Default: 2.
	MaxConcurrent int

	// MaxJobs bounds how many jobs are remembered. Uploads are refused with
	// 429 while that many are queued or running. Default: 200.
	MaxJobs int

	// OriginPatterns are extra host patterns allowed to open the progress
	// WebSocket. Same-origin requests are always allowed.
	OriginPatterns []string

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Server is the HTTP front end. Create with [New].
type Server struct {
	cfg    Config
	jobs   *registry
	sem    chan struct{}
	log    *slog.Logger
	now    func() time.Time
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		jobs:   newRegistry(cfg.MaxJobs),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		log:    log,
		now:    time.Now,
		base:   base,
		cancel: cancel,
	}
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/evaluations", s.handleCreate)
	mux.HandleFunc("GET /api/evaluations/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/evaluations/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/evaluations/{id}/pdf", s.handlePDF)
	mux.HandleFunc("GET /api/evaluations/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/evaluations/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/calibration/preview", s.handlePreview)
	s.cfg.Health.Register(mux)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
	if s.cfg.MCP != nil {
		mux.Handle("/mcp", s.cfg.MCP)
	}
	return observe.Middleware(s.cfg.Metrics)(mux)
}

// Close cancels running evaluations and waits for them to finish or for ctx
// to expire.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start runs in as a background job. The job outlives the request but keeps
// its trace. It returns false when MaxJobs evaluations are already queued or
// running.
func (s *Server) start(r *http.Request, in evaluate.Input) (*job, bool) {
	j := newJob(in.ID, in.FileName, s.now())
	if !s.jobs.add(j) {
		return nil, false
	}

	ctx := trace.ContextWithSpanContext(s.base, trace.SpanContextFromContext(r.Context()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			j.finish(nil, ctx.Err())
			return
		}
		res, err := s.cfg.Pipeline.Run(ctx, in, j.publish)
		j.finish(res, err)
	}()
	return j, true
}
