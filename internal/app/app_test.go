package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/monitorai/internal/app"
	"github.com/MrWong99/monitorai/internal/config"
	"github.com/MrWong99/monitorai/internal/reference"
	"github.com/MrWong99/monitorai/internal/rubric"
	embedmock "github.com/MrWong99/monitorai/pkg/provider/embeddings/mock"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
	llmmock "github.com/MrWong99/monitorai/pkg/provider/llm/mock"
)

const reply = `{"checklist":[{"item":1,"resposta":"Sim"}],"pontuacao_total":5,"resumo_geral":"ok"}`

// testConfig returns a minimal valid config with defaults applied.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}},
		Feedback:  config.FeedbackConfig{Path: filepath.Join(t.TempDir(), "feedback.jsonl")},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testStore(t *testing.T) *reference.Store {
	t.Helper()
	var cl rubric.Checklist
	cl.Set(string(rubric.KeyGreeting), true)
	s, err := reference.NewStore([]reference.Case{
		{ID: "7", Embedding: []float32{1, 0}, Metadata: reference.Metadata{ExpectedScore: 60, Checklist: cl}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// testProviders returns providers with a mock grader LLM and embedder.
func testProviders() (*app.Providers, *llmmock.Provider) {
	l := &llmmock.Provider{Reply: &llm.Reply{Text: reply, Model: "gpt-test"}}
	return &app.Providers{
		LLM:        l,
		Embeddings: &embedmock.Provider{Vector: []float32{1, 0}, Dims: 2},
	}, l
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		app.WithHooks(),
	}
	a, err := app.New(context.Background(), cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(t), providers, app.WithReferenceSource(reference.StaticSource{Store: testStore(t)}))

	h := a.Handler()
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("/readyz = %d %s", rec.Code, rec.Body)
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
	if rec := get(t, h, "/mcp"); rec.Code != http.StatusNotFound {
		t.Errorf("/mcp with mcp disabled = %d, want 404", rec.Code)
	}
}

func TestNew_MissingLLM(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{},
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		app.WithReferenceSource(reference.StaticSource{}),
	)
	if err == nil || !strings.Contains(err.Error(), "providers.llm") {
		t.Errorf("err = %v, want missing llm", err)
	}
}

func TestNew_AbsentReferencesIsDegraded(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(t), providers, app.WithReferenceSource(reference.StaticSource{}))

	rec := get(t, a.Handler(), "/readyz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("/readyz = %d %s", rec.Code, rec.Body)
	}
}

func TestNew_UnreachableReferenceDatabase(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Reference.PostgresDSN = "postgres://monitorai@127.0.0.1:1/refs?connect_timeout=1&sslmode=disable"
	providers, l := testProviders()
	a := newApp(t, cfg, providers)

	res, err := a.Pipeline().RunTranscript(context.Background(), "Atendente: Bom dia.", nil)
	if err != nil {
		t.Fatalf("RunTranscript: %v", err)
	}
	if res.Calibration.Block != "" || len(res.Calibration.Matches) != 0 {
		t.Errorf("calibration = %+v, want empty", res.Calibration)
	}
	if l.CallCount() != 1 {
		t.Errorf("grader calls = %d, want 1", l.CallCount())
	}

	rec := get(t, a.Handler(), "/readyz")
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "degraded") || !strings.Contains(body, "postgres") {
		t.Errorf("/readyz = %d %s", rec.Code, body)
	}
}

func TestNew_InvalidReferenceDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Reference.PostgresDSN = "postgres://%zz"
	providers, _ := testProviders()
	a := newApp(t, cfg, providers)

	if got := a.Calibrator().Guidance(context.Background(), "Atendente: Bom dia."); got.Block != "" {
		t.Errorf("Block = %q, want empty", got.Block)
	}
}

func TestPipeline_CalibratesFromLoadedStore(t *testing.T) {
	t.Parallel()

	providers, l := testProviders()
	a := newApp(t, testConfig(t), providers, app.WithReferenceSource(reference.StaticSource{Store: testStore(t)}))

	res, err := a.Pipeline().RunTranscript(context.Background(), "Atendente: Bom dia.", nil)
	if err != nil {
		t.Fatalf("RunTranscript: %v", err)
	}
	if len(res.Calibration.Matches) != 1 || res.Calibration.Matches[0].Case.ID != "7" {
		t.Errorf("matches = %+v", res.Calibration.Matches)
	}
	if got := l.Calls()[0].Req.Messages[0].Content; !strings.Contains(got, "ID 7") {
		t.Error("calibration block missing from grading prompt")
	}
}

func TestPipeline_NoEmbedderSkipsCalibration(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	providers.Embeddings = nil
	a := newApp(t, testConfig(t), providers, app.WithReferenceSource(reference.StaticSource{Store: testStore(t)}))

	res, err := a.Pipeline().RunTranscript(context.Background(), "Atendente: Bom dia.", nil)
	if err != nil {
		t.Fatalf("RunTranscript: %v", err)
	}
	if res.Calibration.Block != "" {
		t.Errorf("Block = %q, want empty", res.Calibration.Block)
	}
}

func TestNew_MCPEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.MCP.Enabled = true
	providers, _ := testProviders()
	a := newApp(t, cfg, providers, app.WithReferenceSource(reference.StaticSource{}))

	if rec := get(t, a.Handler(), "/mcp"); rec.Code == http.StatusNotFound {
		t.Error("/mcp not routed with mcp enabled")
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	old := testConfig(t)
	providers, _ := testProviders()
	lv := new(slog.LevelVar)
	a := newApp(t, old, providers, app.WithReferenceSource(reference.StaticSource{}), app.WithLevelVar(lv))

	cur := *old
	cur.Server.LogLevel = config.LogDebug
	cur.Calibration.TopK = 5
	off := false
	cur.Calibration.Enabled = &off

	d := a.ApplyConfig(old, &cur)
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if got := a.Calibrator().TopK(); got != 5 {
		t.Errorf("TopK = %d, want 5", got)
	}
	if a.Calibrator().Enabled() {
		t.Error("calibration still enabled")
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(t), providers, app.WithReferenceSource(reference.StaticSource{}))

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	providers, _ := testProviders()
	a := newApp(t, cfg, providers, app.WithReferenceSource(reference.StaticSource{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
}
