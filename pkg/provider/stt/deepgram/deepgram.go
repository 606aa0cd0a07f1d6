// Package deepgram transcribes call recordings with Deepgram's pre-recorded
// /v1/listen API. Diarization is on by default so the grader can tell the
// agent from the customer.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/monitorai/pkg/provider/stt"
)

// DefaultEndpoint is Deepgram's hosted pre-recorded endpoint.
const DefaultEndpoint = "https://api.deepgram.com/v1/listen"

var _ stt.Provider = (*Provider)(nil)

type settings struct {
	model    string
	language string
	endpoint string
	diarize  bool
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*settings)

// WithModel selects the Deepgram model. Default "nova-3".
func WithModel(model string) Option { return func(s *settings) { s.model = model } }

// WithLanguage sets the recognition language used when a request has none.
// Default "pt-BR".
func WithLanguage(lang string) Option { return func(s *settings) { s.language = lang } }

// WithEndpoint targets a self-hosted or test endpoint instead of
// [DefaultEndpoint].
func WithEndpoint(endpoint string) Option { return func(s *settings) { s.endpoint = endpoint } }

// WithDiarize toggles speaker labels.
func WithDiarize(on bool) Option { return func(s *settings) { s.diarize = on } }

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(c *http.Client) Option { return func(s *settings) { s.client = c } }

// Provider sends each recording in one POST and waits for the transcript.
type Provider struct {
	key      string
	endpoint *url.URL
	model    string
	language string
	diarize  bool
	client   *http.Client
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	s := settings{model: "nova-3", language: "pt-BR", endpoint: DefaultEndpoint, diarize: true}
	for _, o := range opts {
		o(&s)
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("deepgram: endpoint: %w", err)
	}
	if s.client == nil {
		s.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Provider{key: apiKey, endpoint: u, model: s.model, language: s.language, diarize: s.diarize, client: s.client}, nil
}

// Transcribe uploads req.Audio as the request body. Recordings in which
// Deepgram hears nothing return [stt.ErrEmptyTranscript].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	u := *p.endpoint
	u.RawQuery = p.query(req).Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), req.Audio)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	ct := req.ContentType
	if ct == "" {
		ct = stt.ContentTypeFor(req.FileName)
	}
	httpReq.Header.Set("Authorization", "Token "+p.key)
	httpReq.Header.Set("Content-Type", ct)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: listen: HTTP %d: %s", resp.StatusCode, bytesTrim(detail))
	}

	var res listenResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("deepgram: decode result: %w", err)
	}
	t := res.toTranscript()
	if t == nil {
		return nil, fmt.Errorf("deepgram: %w", stt.ErrEmptyTranscript)
	}
	return t, nil
}

// query holds the listen parameters. Keywords use Deepgram's "word:boost"
// form.
func (p *Provider) query(req stt.Request) url.Values {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	q := url.Values{
		"model":        {p.model},
		"language":     {lang},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	if p.diarize {
		q.Set("diarize", "true")
		q.Set("utterances", "true")
	}
	for _, kw := range req.Keywords {
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	return q
}

type listenResult struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []utterance `json:"utterances"`
	} `json:"results"`
}

type utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Transcript string  `json:"transcript"`
	Speaker    int     `json:"speaker"`
}

// toTranscript returns nil when nothing was recognised. With utterances the
// text has one "Falante N:" line per speaker turn; consecutive utterances
// of one speaker share a line.
func (r *listenResult) toTranscript() *stt.Transcript {
	chans := r.Results.Channels
	if len(chans) == 0 || len(chans[0].Alternatives) == 0 {
		return nil
	}
	best := chans[0].Alternatives[0]
	t := &stt.Transcript{
		Text:       strings.TrimSpace(best.Transcript),
		Language:   chans[0].DetectedLanguage,
		Duration:   secs(r.Metadata.Duration),
		Confidence: best.Confidence,
	}

	if len(r.Results.Utterances) > 0 {
		var lines []string
		last := -1
		for _, u := range r.Results.Utterances {
			text := strings.TrimSpace(u.Transcript)
			label := "Falante " + strconv.Itoa(u.Speaker+1)
			t.Segments = append(t.Segments, stt.Segment{
				Text:       text,
				Speaker:    label,
				Start:      secs(u.Start),
				End:        secs(u.End),
				Confidence: u.Confidence,
			})
			if text == "" {
				continue
			}
			if u.Speaker == last {
				lines[len(lines)-1] += " " + text
				continue
			}
			lines = append(lines, label+": "+text)
			last = u.Speaker
		}
		t.Text = strings.Join(lines, "\n")
	}

	if t.Text == "" {
		return nil
	}
	return t
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func bytesTrim(b []byte) string { return strings.TrimSpace(string(b)) }
