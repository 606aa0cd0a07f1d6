package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/monitorai/internal/config"
	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
	embedmock "github.com/MrWong99/monitorai/pkg/provider/embeddings/mock"
	"github.com/MrWong99/monitorai/pkg/provider/llm"
	llmmock "github.com/MrWong99/monitorai/pkg/provider/llm/mock"
	"github.com/MrWong99/monitorai/pkg/provider/stt"
	sttmock "github.com/MrWong99/monitorai/pkg/provider/stt/mock"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  max_upload_mb: 50
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  llm_fallbacks:
    - name: anthropic
      model: claude-sonnet-4-5
  stt:
    name: deepgram
    model: nova-3
  embeddings:
    name: openai
    model: text-embedding-3-small
transcription:
  correct: false
  keywords:
    - word: Carglass
      boost: 2
reference:
  path: data/references.json
calibration:
  top_k: 4
grader:
  temperature: 0
timeouts:
  grade: 45s
cache:
  redis_addr: localhost:6379
archive:
  bucket: calls
  access_key_id: id
  secret_access_key: secret
notify:
  discord_token: tok
  discord_channel_id: "123"
mcp:
  enabled: true
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.MaxUploadMB != 50 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Model != "gpt-4o" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Calibration.TopK != 4 || !cfg.Calibration.IsEnabled() {
		t.Errorf("calibration = %+v", cfg.Calibration)
	}
	if cfg.Grader.Temperature == nil || *cfg.Grader.Temperature != 0 {
		t.Error("explicit temperature 0 was overwritten")
	}
	if cfg.Timeouts.Grade != 45*time.Second || cfg.Timeouts.Embed != config.DefaultEmbedTimeout {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if kw := cfg.Transcription.Keywords; len(kw) != 1 || kw[0].Word != "Carglass" || kw[0].Boost != 2 {
		t.Errorf("keywords = %+v", kw)
	}
	if v := cfg.Transcription.Vocabulary(); len(v) != 1 || v[0] != "Carglass" {
		t.Errorf("vocabulary = %v", v)
	}
	if cfg.Transcription.CorrectionEnabled() {
		t.Error("transcription.correct: false was ignored")
	}
	if !cfg.MCP.Enabled || cfg.Archive.Bucket != "calls" || cfg.Notify.DiscordChannelID != "123" {
		t.Errorf("optional sections not decoded: %+v %+v %+v", cfg.MCP, cfg.Archive, cfg.Notify)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: openai\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"max_upload_mb", cfg.Server.MaxUploadMB, config.DefaultMaxUploadMB},
		{"language", cfg.Transcription.Language, config.DefaultLanguage},
		{"table", cfg.Reference.Table, config.DefaultReferenceTable},
		{"top_k", cfg.Calibration.TopK, 3},
		{"enabled", cfg.Calibration.IsEnabled(), true},
		{"correct", cfg.Transcription.CorrectionEnabled(), true},
		{"temperature", *cfg.Grader.Temperature, 0.3},
		{"transcribe", cfg.Timeouts.Transcribe, 120 * time.Second},
		{"embed", cfg.Timeouts.Embed, 20 * time.Second},
		{"grade", cfg.Timeouts.Grade, 90 * time.Second},
		{"concurrency", cfg.Batch.Concurrency, 2},
		{"ttl", cfg.Cache.TTL, 720 * time.Hour},
		{"feedback", cfg.Feedback.Path, config.DefaultFeedbackPath},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("MONITORAI_TEST_KEY", "sk-from-env")

	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: openai\n    api_key: ${MONITORAI_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: openai\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/monitorai.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing llm", "server:\n  log_level: info\n", "providers.llm.name is required"},
		{"bad log level", "server:\n  log_level: loud\nproviders:\n  llm:\n    name: openai\n", "server.log_level"},
		{"top_k too large", "providers:\n  llm:\n    name: openai\ncalibration:\n  top_k: 50\n", "calibration.top_k 50"},
		{"temperature", "providers:\n  llm:\n    name: openai\ngrader:\n  temperature: 3\n", "grader.temperature"},
		{"negative timeout", "providers:\n  llm:\n    name: openai\ntimeouts:\n  grade: -1s\n", "timeouts.grade"},
		{"fallback name", "providers:\n  llm:\n    name: openai\n  llm_fallbacks:\n    - model: x\n", "providers.llm_fallbacks[0].name"},
		{"archive credentials", "providers:\n  llm:\n    name: openai\narchive:\n  bucket: b\n", "archive.access_key_id"},
		{"discord token", "providers:\n  llm:\n    name: openai\nnotify:\n  discord_channel_id: \"1\"\n", "notify.discord_token"},
		{"keyword word", "providers:\n  llm:\n    name: openai\ntranscription:\n  keywords:\n    - boost: 1\n", "transcription.keywords[0].word"},
		{"sample ratio", "providers:\n  llm:\n    name: openai\nserver:\n  trace_sample_ratio: 1.5\n", "server.trace_sample_ratio"},
		{"tls pair", "providers:\n  llm:\n    name: openai\nserver:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\ncalibration:\n  top_k: 99\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "providers.llm.name", "calibration.top_k"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	if config.LogDebug.Level().String() != "DEBUG" || config.LogLevel("").Level().String() != "INFO" {
		t.Error("unexpected slog level mapping")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"llm", "stt", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known providers for %s", kind)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}
	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("llm err = %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt err = %v", err)
	}
	if _, err := reg.CreateEmbeddings(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("embeddings err = %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantEmb := &embedmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterEmbeddings("stub", func(config.ProviderEntry) (embeddings.Provider, error) { return wantEmb, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m"}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("CreateLLM = %v, %v", got, err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v", got, err)
	}
	if got, err := reg.CreateEmbeddings(entry); err != nil || got != wantEmb {
		t.Errorf("CreateEmbeddings = %v, %v", got, err)
	}
	if names := reg.Names(); len(names["llm"]) != 1 || names["llm"][0] != "stub" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.LLM.Name != "openai" || !cfg.Transcription.CorrectionEnabled() {
		t.Errorf("unexpected example config: %+v", cfg.Providers.LLM)
	}
}
