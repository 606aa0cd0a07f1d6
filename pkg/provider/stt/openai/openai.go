// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// DefaultModel is used when New is called with an empty model.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the default ISO-639-1 language hint. Default: "pt".
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout. Long recordings need minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries overrides the SDK's automatic retry count.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI STT Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{language: "pt", maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if req.Audio == nil {
		return nil, errors.New("openai stt: request has no audio")
	}
	params := p.buildParams(req)
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("openai stt: %w", stt.ErrEmptyTranscript)
	}
	return &stt.Transcript{Text: text, Language: params.Language.Value}, nil
}

func (p *Provider) buildParams(req stt.Request) oai.AudioTranscriptionNewParams {
	name := req.FileName
	if name == "" {
		name = "audio.wav"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = stt.ContentTypeFor(name)
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(req.Audio, name, contentType),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := isoLanguage(req.Language, p.language); lang != "" {
		params.Language = param.NewOpt(lang)
	}
	if prompt := keywordPrompt(req.Keywords); prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}
	return params
}

// isoLanguage reduces a BCP-47 tag to the two-letter code the API accepts.
func isoLanguage(lang, fallback string) string {
	if lang == "" {
		lang = fallback
	}
	base, _, _ := strings.Cut(lang, "-")
	return strings.ToLower(base)
}

// keywordPrompt turns vocabulary hints into a prompt, which is how the
// transcription API is biased towards domain terms.
func keywordPrompt(kws []stt.KeywordBoost) string {
	if len(kws) == 0 {
		return ""
	}
	words := make([]string, len(kws))
	for i, kw := range kws {
		words[i] = kw.Keyword
	}
	return strings.Join(words, ", ")
}
