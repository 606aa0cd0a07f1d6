// Package app wires all MonitorAI subsystems into a running application.
//
// New loads the reference cases and builds the evaluation pipeline, Run
// serves the web UI until its context ends, and Shutdown releases resources
// in reverse dependency order. Tests replace parts with the With* options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/monitorai/internal/archive"
	"github.com/MrWong99/monitorai/internal/calibration"
	"github.com/MrWong99/monitorai/internal/config"
	"github.com/MrWong99/monitorai/internal/discord"
	"github.com/MrWong99/monitorai/internal/evaluate"
	"github.com/MrWong99/monitorai/internal/feedback"
	"github.com/MrWong99/monitorai/internal/grader"
	"github.com/MrWong99/monitorai/internal/health"
	"github.com/MrWong99/monitorai/internal/mcpserver"
	"github.com/MrWong99/monitorai/internal/observe"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/reference/postgres"
	"github.com/MrWong99/monitorai/internal/transcript"
	"github.com/MrWong99/monitorai/internal/web"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings/rediscache"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// Providers are the backends built from the providers section. A nil field
// disables what depends on it.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the MonitorAI pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	logger    *slog.Logger
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry  *observe.Telemetry
	refSource  reference.Source
	loader     *reference.Loader
	embedder   embeddings.Provider
	calibrator *calibration.Calibrator
	grader     grader.Grader
	hooks      []evaluate.Hook
	pipeline   *evaluate.Pipeline
	feedback   feedback.Store
	checkers   []health.Checker
	web        *web.Server
	httpServer *http.Server

	closers  []func(ctx context.Context) error
	stopOnce sync.Once
}

// Option overrides a part New would otherwise build from config.
type Option func(*App)

// WithReferenceSource injects the reference snapshot source instead of
// building one from reference.path or reference.postgres_dsn.
func WithReferenceSource(src reference.Source) Option {
	return func(a *App) { a.refSource = src }
}

// WithHooks injects post-evaluation hooks instead of building the archive
// and Discord hooks from config.
func WithHooks(h ...evaluate.Hook) Option {
	return func(a *App) { a.hooks = h }
}

// WithFeedbackStore injects a feedback store instead of the JSON-lines file.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.feedback = s }
}

// WithGrader injects a grader instead of wrapping the LLM provider.
func WithGrader(g grader.Grader) Option {
	return func(a *App) { a.grader = g }
}

// WithTelemetry injects an already initialised telemetry provider.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithVersion sets the version reported in telemetry and by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the App for cfg. The reference snapshot is loaded before New
// returns, so a missing or corrupt file is reported at startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}
	a.logLevel.Set(cfg.Server.LogLevel.Level())

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Reference store ───────────────────────────────────────────────
	a.initReferences(ctx)

	// ── 3. Embeddings (optionally cached) + calibrator ───────────────────
	a.initEmbeddings()
	a.initCalibrator()

	// ── 4. Grader + hooks + pipeline ─────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Feedback store ────────────────────────────────────────────────
	if a.feedback == nil {
		a.feedback = feedback.NewFileStore(cfg.Feedback.Path)
	}

	// ── 6. HTTP front end ────────────────────────────────────────────────
	a.initWeb()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry != nil {
		return nil
	}
	t, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "monitorai",
		ServiceVersion: a.version,
		SampleRatio:    a.cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	a.telemetry = t
	a.closers = append(a.closers, t.Shutdown)
	return nil
}

// initReferences picks the snapshot source and loads it once. A missing or
// unusable snapshot, including an unreachable database, disables
// calibration instead of failing startup.
func (a *App) initReferences(ctx context.Context) {
	if a.refSource == nil {
		switch {
		case a.cfg.Reference.PostgresDSN != "":
			pool, err := postgres.Open(ctx, a.cfg.Reference.PostgresDSN)
			if err != nil {
				a.logger.Error("reference: postgres unusable, calibration disabled", "err", err)
				a.refSource = reference.StaticSource{}
				break
			}
			a.closers = append(a.closers, func(context.Context) error {
				pool.Close()
				return nil
			})
			a.checkers = append(a.checkers, health.Postgres(pool))
			a.refSource = postgres.NewSource(pool, postgres.WithTable(a.cfg.Reference.Table))
		case a.cfg.Reference.Path != "":
			a.refSource = reference.FileSource{Path: a.cfg.Reference.Path}
		default:
			a.logger.Warn("no reference snapshot configured, calibration disabled")
			a.refSource = reference.StaticSource{}
		}
	}

	a.loader = reference.NewLoader(a.refSource, a.logger)
	store, _ := a.loader.Load(ctx)
	a.telemetry.Metrics.ReferenceCases.Add(ctx, int64(store.Len()))
	a.checkers = append(a.checkers, health.References(a.loader))
}

func (a *App) initEmbeddings() {
	a.embedder = a.providers.Embeddings
	if a.embedder == nil {
		a.logger.Warn("no embeddings provider configured, calibration disabled")
		return
	}
	cc := a.cfg.Cache
	if cc.RedisAddr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cc.RedisAddr,
		Password: cc.Password,
		DB:       cc.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	a.checkers = append(a.checkers, health.Redis(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	a.embedder = rediscache.New(a.embedder, rdb,
		rediscache.WithTTL(cc.TTL),
		rediscache.WithLogger(a.logger),
	)
	a.logger.Info("embedding cache enabled", "redis_addr", cc.RedisAddr, "ttl", cc.TTL)
}

func (a *App) initCalibrator() {
	a.calibrator = calibration.New(a.embedder, a.loader,
		calibration.WithTopK(a.cfg.Calibration.TopK),
		calibration.WithEnabled(a.cfg.Calibration.IsEnabled()),
		calibration.WithTimeout(a.cfg.Timeouts.Embed),
		calibration.WithLogger(a.logger),
		calibration.WithMetrics(a.telemetry.Metrics),
	)
}

func (a *App) initPipeline() error {
	if a.grader == nil {
		if a.providers.LLM == nil {
			return errors.New("providers.llm is required")
		}
		opts := []grader.Option{
			grader.WithLogger(a.logger),
			grader.WithMetrics(a.telemetry.Metrics),
			grader.WithMaxTokens(a.cfg.Grader.MaxTokens),
		}
		if t := a.cfg.Grader.Temperature; t != nil {
			opts = append(opts, grader.WithTemperature(*t))
		}
		a.grader = grader.NewLLM(a.providers.LLM, opts...)
	}

	if a.hooks == nil {
		hooks, err := a.buildHooks()
		if err != nil {
			return err
		}
		a.hooks = hooks
	}

	keywords := make([]stt.KeywordBoost, 0, len(a.cfg.Transcription.Keywords))
	for _, kw := range a.cfg.Transcription.Keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: kw.Word, Boost: kw.Boost})
	}

	opts := []evaluate.Option{
		evaluate.WithCalibrator(a.calibrator),
		evaluate.WithHooks(a.hooks...),
		evaluate.WithTranscribeTimeout(a.cfg.Timeouts.Transcribe),
		evaluate.WithGradeTimeout(a.cfg.Timeouts.Grade),
		evaluate.WithLanguage(a.cfg.Transcription.Language),
		evaluate.WithKeywords(keywords),
		evaluate.WithLogger(a.logger),
		evaluate.WithMetrics(a.telemetry.Metrics),
	}
	if a.providers.STT != nil {
		opts = append(opts, evaluate.WithTranscriber(a.providers.STT))
	}
	if r, ok := a.providers.LLM.(health.CircuitReporter); ok {
		a.checkers = append(a.checkers, health.Circuits("grader", r))
	}
	if r, ok := a.providers.STT.(health.CircuitReporter); ok {
		a.checkers = append(a.checkers, health.Circuits("transcription", r))
	}
	if tc := a.cfg.Transcription; tc.CorrectionEnabled() && len(tc.Keywords) > 0 {
		opts = append(opts, evaluate.WithCorrector(transcript.NewCorrector(tc.Vocabulary())))
	}
	a.pipeline = evaluate.New(a.grader, opts...)
	return nil
}

// buildHooks creates the archive and Discord hooks that are configured.
func (a *App) buildHooks() ([]evaluate.Hook, error) {
	var hooks []evaluate.Hook

	if ac := a.cfg.Archive; ac.Bucket != "" {
		client, err := archive.NewClient(archive.Config{
			Bucket:          ac.Bucket,
			Endpoint:        ac.Endpoint,
			Region:          ac.Region,
			AccessKeyID:     ac.AccessKeyID,
			SecretAccessKey: ac.SecretAccessKey,
			Prefix:          ac.Prefix,
		})
		if err != nil {
			return nil, err
		}
		arch, err := archive.New(client, ac.Bucket, ac.Prefix)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, arch)
		a.logger.Info("report archive enabled", "bucket", ac.Bucket, "endpoint", ac.Endpoint)
	}

	if nc := a.cfg.Notify; nc.DiscordChannelID != "" {
		n, err := discord.New(discord.Config{
			Token:     nc.DiscordToken,
			ChannelID: nc.DiscordChannelID,
			BaseURL:   a.cfg.Server.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, n)
		a.logger.Info("discord notifications enabled", "channel_id", nc.DiscordChannelID)
	}

	return hooks, nil
}

func (a *App) initWeb() {
	var mcpHandler http.Handler
	if a.cfg.MCP.Enabled {
		mcpHandler = mcpserver.Handler(mcpserver.New(a.calibrator, a.version))
	}

	a.web = web.New(web.Config{
		Pipeline:       a.pipeline,
		Calibrator:     a.calibrator,
		Feedback:       a.feedback,
		Health:         health.New(a.checkers...),
		MetricsHandler: a.telemetry.Handler(),
		MCP:            mcpHandler,
		MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
		MaxConcurrent:  a.cfg.Batch.Concurrency,
		MaxJobs:        a.cfg.Server.MaxJobs,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
		Logger:         a.logger,
		Metrics:        a.telemetry.Metrics,
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the evaluation pipeline, for batch use from the CLI.
func (a *App) Pipeline() *evaluate.Pipeline { return a.pipeline }

// Calibrator returns the live calibrator.
func (a *App) Calibrator() *calibration.Calibrator { return a.calibrator }

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.web.Handler() }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable differences between old and new:
// log level, calibration top_k and calibration enabled. Other changes are
// logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.Level())
		a.logger.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if d.TopKChanged {
		a.calibrator.SetTopK(d.NewTopK)
		a.logger.Info("calibration top_k changed", "top_k", d.NewTopK)
	}
	if d.CalibrationToggled {
		a.calibrator.SetEnabled(d.CalibrationEnabled)
		a.logger.Info("calibration toggled", "enabled", d.CalibrationEnabled)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr until ctx is cancelled. It returns
// nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	a.logger.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, cancels running evaluations, then runs
// the closers in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logger.Warn("http shutdown error", "err", err)
			}
		}
		if a.web != nil {
			if err := a.web.Close(ctx); err != nil {
				a.logger.Warn("evaluations still running at shutdown", "err", err)
			}
		}
		shutdownErr = a.closeAll(ctx)
		if shutdownErr == nil {
			a.logger.Info("shutdown complete")
		}
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(ctx); err != nil {
			a.logger.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
