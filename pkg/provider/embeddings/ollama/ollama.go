// Package ollama embeds transcripts with a local Ollama server, so reference
// snapshots can be built and queried without sending call transcripts to a
// hosted API.
//
// Requests go to the native /api/embed endpoint:
//
//	p, _ := ollama.New("", "bge-m3")
//	vec, err := p.Embed(ctx, transcript)
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
)

// DefaultBaseURL is where a locally installed Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// modelDimensions lists the output size of common Ollama embedding models.
var modelDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"bge-m3":            1024,
	"all-minilm":        384,
}

// Provider implements [embeddings.Provider] against Ollama. It is safe for
// concurrent use.
type Provider struct {
	endpoint  string
	model     string
	client    *http.Client
	keepAlive string
	truncate  *bool

	// dims is fixed at construction when known, otherwise learned from the
	// first successful response.
	dims atomic.Int64
}

// Option configures a [Provider].
type Option func(*Provider)

// WithDimensions declares the vector length up front. Responses of any other
// length are rejected.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims.Store(int64(n)) }
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithKeepAlive tells Ollama how long to keep the model loaded after a
// request, e.g. "10m". Empty leaves the server default.
func WithKeepAlive(d string) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// WithTruncate controls whether Ollama cuts inputs that exceed the model's
// context window. When false, overlong transcripts fail instead.
func WithTruncate(on bool) Option {
	return func(p *Provider) { p.truncate = &on }
}

// New returns a Provider for model. An empty baseURL means [DefaultBaseURL].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embed",
		model:    model,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	name, _, _ := strings.Cut(strings.ToLower(model), ":")
	p.dims.Store(int64(modelDimensions[name]))
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Truncate  *bool    `json:"truncate,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// Embed returns the vector for text. Errors wrap [embeddings.ErrService].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, embeddings.ServiceError("ollama embeddings: embed", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. An empty input returns nil without
// contacting the server.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, embeddings.ServiceError("ollama embeddings: embed batch", err)
	}
	return vecs, nil
}

// Dimensions returns the vector length, or 0 while it is still unknown.
func (p *Provider) Dimensions() int { return int(p.dims.Load()) }

// ModelID returns the Ollama model name.
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
		Truncate:  p.truncate,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}

	want := p.dims.Load()
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if want == 0 && p.dims.CompareAndSwap(0, int64(len(v))) {
			want = int64(len(v))
		} else if want == 0 {
			want = p.dims.Load()
		}
		if int64(len(v)) != want {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), want)
		}
	}
	return out.Embeddings, nil
}
