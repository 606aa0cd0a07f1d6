// Package config provides the configuration schema, loader, and provider
// registry for the MonitorAI service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which also apply defaults.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Reference     ReferenceConfig     `yaml:"reference"`
	Calibration   CalibrationConfig   `yaml:"calibration"`
	Grader        GraderConfig        `yaml:"grader"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Batch         BatchConfig         `yaml:"batch"`
	Cache         CacheConfig         `yaml:"cache"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Notify        NotifyConfig        `yaml:"notify"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadMB bounds the size of an uploaded recording.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// MaxJobs bounds how many evaluations the web UI remembers and how many
	// may be queued or running before uploads get 429.
	MaxJobs int `yaml:"max_jobs"`

	// BaseURL is the public URL of the web UI, used for links in
	// notifications.
	BaseURL string `yaml:"base_url"`

	// AllowedOrigins lists extra hosts allowed to open progress WebSockets.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TraceSampleRatio is the fraction of root traces kept. Zero or omitted
	// keeps every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the provider implementation for each stage. Each
// entry names a provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// TranscriptionConfig tunes speech-to-text requests.
type TranscriptionConfig struct {
	// Language is the BCP-47 tag of the recordings. Default: "pt-BR".
	Language string `yaml:"language"`

	// Keywords are domain terms the recogniser should favour.
	Keywords []KeywordConfig `yaml:"keywords"`

	// Correct restores misheard keywords to their configured spelling after
	// transcription. Defaults to true when omitted.
	Correct *bool `yaml:"correct"`
}

// CorrectionEnabled reports whether transcripts are corrected against the
// keyword list.
func (c TranscriptionConfig) CorrectionEnabled() bool {
	return c.Correct == nil || *c.Correct
}

// Vocabulary returns the keyword words in configuration order.
func (c TranscriptionConfig) Vocabulary() []string {
	words := make([]string, 0, len(c.Keywords))
	for _, kw := range c.Keywords {
		words = append(words, kw.Word)
	}
	return words
}

// KeywordConfig is one boosted keyword.
type KeywordConfig struct {
	Word  string  `yaml:"word"`
	Boost float64 `yaml:"boost"`
}

// ReferenceConfig locates the reference snapshot. PostgresDSN takes
// precedence over Path when both are set.
type ReferenceConfig struct {
	// Path is a JSON or YAML snapshot file.
	Path string `yaml:"path"`

	// PostgresDSN selects the pgvector-backed snapshot.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Table is the Postgres table name. Default: "reference_cases".
	Table string `yaml:"table"`
}

// CalibrationConfig controls the calibration block. Both fields can be
// changed at runtime by editing the file.
type CalibrationConfig struct {
	TopK int `yaml:"top_k"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether calibration is on.
func (c CalibrationConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GraderConfig tunes the grading model call.
type GraderConfig struct {
	// Temperature defaults to 0.3 when omitted; 0 is a valid explicit value.
	Temperature *float64 `yaml:"temperature"`

	MaxTokens int `yaml:"max_tokens"`
}

// TimeoutsConfig bounds each external call.
type TimeoutsConfig struct {
	Transcribe time.Duration `yaml:"transcribe"`
	Embed      time.Duration `yaml:"embed"`
	Grade      time.Duration `yaml:"grade"`
}

// BatchConfig controls CLI batch evaluation.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// CacheConfig configures the Redis embedding cache. Empty RedisAddr
// disables it.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

// ArchiveConfig configures report uploads to S3-compatible storage. Empty
// Bucket disables archiving.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
}

// NotifyConfig configures Discord notifications. Empty DiscordChannelID
// disables them.
type NotifyConfig struct {
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// FeedbackConfig locates the reviewer feedback log.
type FeedbackConfig struct {
	Path string `yaml:"path"`
}

// MCPConfig controls the MCP tool server at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults.
const (
	DefaultListenAddr        = ":8080"
	DefaultMaxUploadMB       = 200
	DefaultLanguage          = "pt-BR"
	DefaultReferenceTable    = "reference_cases"
	DefaultTopK              = 3
	DefaultTemperature       = 0.3
	DefaultTranscribeTimeout = 120 * time.Second
	DefaultEmbedTimeout      = 20 * time.Second
	DefaultGradeTimeout      = 90 * time.Second
	DefaultBatchConcurrency  = 2
	DefaultCacheTTL          = 720 * time.Hour
	DefaultFeedbackPath      = "data/feedback.jsonl"
)

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.MaxUploadMB, DefaultMaxUploadMB)
	setDefault(&cfg.Transcription.Language, DefaultLanguage)
	setDefault(&cfg.Reference.Table, DefaultReferenceTable)
	setDefault(&cfg.Calibration.TopK, DefaultTopK)
	if cfg.Grader.Temperature == nil {
		t := DefaultTemperature
		cfg.Grader.Temperature = &t
	}
	setDefault(&cfg.Timeouts.Transcribe, DefaultTranscribeTimeout)
	setDefault(&cfg.Timeouts.Embed, DefaultEmbedTimeout)
	setDefault(&cfg.Timeouts.Grade, DefaultGradeTimeout)
	setDefault(&cfg.Batch.Concurrency, DefaultBatchConcurrency)
	setDefault(&cfg.Cache.TTL, DefaultCacheTTL)
	setDefault(&cfg.Feedback.Path, DefaultFeedbackPath)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
