// Package whisper transcribes recordings on a self-hosted whisper.cpp
// whisper-server through its POST /inference endpoint. Start the server with
// --convert so it accepts mp3 and m4a uploads as well as wav.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("pt"))
//	t, err := p.Transcribe(ctx, stt.Request{Audio: f, FileName: "call.mp3"})
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider uploads each recording to one whisper-server.
type Provider struct {
	inference string
	model     string
	language  string
	client    *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model to ask for. Empty, the default, uses the one
// the server was started with.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when a request has none. Default "pt".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server url is required")
	}
	p := &Provider{
		inference: strings.TrimRight(baseURL, "/") + "/inference",
		language:  "pt",
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.Audio to the server as multipart form data.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() { pw.CloseWithError(p.writeForm(form, req)) }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.inference, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("whisper: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper: inference: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out verboseJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: decode result: %w", err)
	}
	return out.toTranscript()
}

// writeForm writes the file part and then the text fields.
func (p *Provider) writeForm(form *multipart.Writer, req stt.Request) error {
	name := req.FileName
	if name == "" {
		name = "audio.wav"
	}
	ct := req.ContentType
	if ct == "" {
		ct = stt.ContentTypeFor(name)
	}
	part, err := form.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, name)},
		"Content-Type":        {ct},
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return fmt.Errorf("whisper: read audio: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	for _, f := range [][2]string{{"language", lang}, {"model", p.model}, {"response_format", "verbose_json"}} {
		if f[1] == "" {
			continue
		}
		if err := form.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return form.Close()
}

type verboseJSON struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (v *verboseJSON) toTranscript() (*stt.Transcript, error) {
	text := strings.TrimSpace(v.Text)
	if text == "" {
		return nil, fmt.Errorf("whisper: %w", stt.ErrEmptyTranscript)
	}
	t := &stt.Transcript{Text: text, Language: v.Language, Duration: secs(v.Duration)}
	for _, s := range v.Segments {
		t.Segments = append(t.Segments, stt.Segment{Text: strings.TrimSpace(s.Text), Start: secs(s.Start), End: secs(s.End)})
	}
	return t, nil
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
