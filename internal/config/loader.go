package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider names the monitorai binary registers,
// per kind.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "whisper", "deepgram"},
	"embeddings": {"openai", "ollama"},
}

// maxTopK bounds calibration.top_k; larger blocks dilute the prompt.
const maxTopK = 20

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

// parse expands ${VAR} references, then decodes rejecting unknown keys.
func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every incoherent value in cfg as one joined error.
// Settings that only disable a feature are logged as warnings instead.
func Validate(cfg *Config) error {
	var v validator
	v.server(cfg.Server)
	v.providers(cfg.Providers)
	v.pipeline(cfg)
	v.outputs(cfg)
	return errors.Join(v.errs...)
}

// validator collects problems section by section.
type validator struct {
	errs []error
}

func (v *validator) fail(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) server(s ServerConfig) {
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		v.fail("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel)
	}
	if s.MaxUploadMB < 0 {
		v.fail("server.max_upload_mb %d must not be negative", s.MaxUploadMB)
	}
	if r := s.TraceSampleRatio; r < 0 || r > 1 {
		v.fail("server.trace_sample_ratio %.2f is out of range [0, 1]", r)
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		v.fail("server.tls requires both cert_file and key_file")
	}
}

func (v *validator) providers(p ProvidersConfig) {
	if p.LLM.Name == "" {
		v.fail("providers.llm.name is required")
	}
	if p.STT.Name == "" {
		slog.Warn("providers.stt is not configured; only text transcripts can be evaluated")
	}
	warnUnknown("llm", p.LLM.Name)
	warnUnknown("stt", p.STT.Name)
	warnUnknown("embeddings", p.Embeddings.Name)
	v.chain("llm", p.LLMFallbacks)
	v.chain("stt", p.STTFallbacks)
}

// chain checks a fallback list such as providers.llm_fallbacks.
func (v *validator) chain(kind string, entries []ProviderEntry) {
	for i, e := range entries {
		if e.Name == "" {
			v.fail("providers.%s_fallbacks[%d].name is required", kind, i)
		}
		warnUnknown(kind, e.Name)
	}
}

func (v *validator) pipeline(cfg *Config) {
	for i, kw := range cfg.Transcription.Keywords {
		if kw.Word == "" {
			v.fail("transcription.keywords[%d].word is required", i)
		}
	}

	if k := cfg.Calibration.TopK; k < 1 || k > maxTopK {
		v.fail("calibration.top_k %d is out of range [1, %d]", k, maxTopK)
	}
	if cfg.Calibration.IsEnabled() {
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("calibration is enabled but providers.embeddings is not configured; calibration will be skipped")
		}
		if cfg.Reference.Path == "" && cfg.Reference.PostgresDSN == "" {
			slog.Warn("calibration is enabled but no reference snapshot is configured; calibration will be skipped")
		}
	}

	if t := cfg.Grader.Temperature; t != nil && (*t < 0 || *t > 2) {
		v.fail("grader.temperature %.2f is out of range [0, 2]", *t)
	}
	if cfg.Grader.MaxTokens < 0 {
		v.fail("grader.max_tokens %d must not be negative", cfg.Grader.MaxTokens)
	}

	timeouts := map[string]time.Duration{
		"timeouts.transcribe": cfg.Timeouts.Transcribe,
		"timeouts.embed":      cfg.Timeouts.Embed,
		"timeouts.grade":      cfg.Timeouts.Grade,
	}
	for _, name := range slices.Sorted(maps.Keys(timeouts)) {
		if timeouts[name] < 0 {
			v.fail("%s must not be negative", name)
		}
	}
	if cfg.Batch.Concurrency < 0 {
		v.fail("batch.concurrency %d must not be negative", cfg.Batch.Concurrency)
	}
}

func (v *validator) outputs(cfg *Config) {
	if a := cfg.Archive; a.Bucket != "" && (a.AccessKeyID == "" || a.SecretAccessKey == "") {
		v.fail("archive.access_key_id and archive.secret_access_key are required when archive.bucket is set")
	}
	if n := cfg.Notify; n.DiscordChannelID != "" && n.DiscordToken == "" {
		v.fail("notify.discord_token is required when notify.discord_channel_id is set")
	}
	if cfg.MCP.Enabled && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("mcp is enabled without providers.embeddings; similarity tools will return no matches")
	}
}

// warnUnknown logs names missing from [ValidProviderNames]. They may belong
// to a provider registered by an embedding program, so they are not errors.
func warnUnknown(kind, name string) {
	known := ValidProviderNames[kind]
	if name == "" || known == nil || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name", "kind", kind, "name", name, "known", known)
}
