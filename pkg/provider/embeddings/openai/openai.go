// Package openai embeds transcripts with the OpenAI embeddings API. Reference
// snapshots are built with text-embedding-3-small, so [DefaultModel] is what
// a query must use to be comparable with them.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
)

// DefaultModel is the model the reference snapshots are built with.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// nativeDimensions is the untruncated vector size per model family.
var nativeDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// Provider is an [embeddings.Provider] for one OpenAI embedding model.
type Provider struct {
	client oai.Client
	model  string
	dims   int
	// shorten is set when dims was requested rather than native.
	shorten bool
}

type settings struct {
	baseURL    string
	org        string
	timeout    time.Duration
	dims       int
	maxRetries int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithDimensions asks the API to shorten vectors to n elements. Only the
// text-embedding-3 family supports it; the snapshot must have been built
// with the same n.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dims = n }
}

// WithMaxRetries sets the SDK's own retry count. Zero makes a failing
// service surface at once, which calibration prefers over waiting.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   s.timeout,
		}),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.org))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dims: s.dims, shorten: s.dims > 0}
	if !p.shorten {
		p.dims = nativeDimensions[strings.ToLower(model)]
	}
	return p, nil
}

// Embed returns the vector for text. Errors wrap [embeddings.ErrService].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, embeddings.ServiceError("openai embeddings: embed", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, in input order. An empty input
// returns nil without a request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts}, len(texts))
	if err != nil {
		return nil, embeddings.ServiceError("openai embeddings: embed batch", err)
	}
	return vecs, nil
}

// Dimensions returns the vector length this provider produces, or 0 for a
// model it does not know.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID returns the model name.
func (p *Provider) ModelID() string { return p.model }

// embed sends one request for n inputs and orders the vectors by their
// reported index.
func (p *Provider) embed(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.shorten {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), n)
	}

	out := make([][]float32, n)
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= n || out[i] != nil {
			return nil, fmt.Errorf("bad embedding index %d", d.Index)
		}
		if p.dims > 0 && len(d.Embedding) != p.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(d.Embedding), p.dims)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}
