// Package rediscache decorates an embeddings.Provider with a Redis-backed
// cache keyed by model and text hash.
//
// Re-evaluating the same transcript (a reviewer re-running a call, or a batch
// retried after a grader outage) then costs no embedding request. Cache
// failures are logged and bypassed; they never fail an Embed call.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/monitorai/pkg/provider/embeddings"
)

// DefaultTTL is used when no TTL option is supplied.
const DefaultTTL = 30 * 24 * time.Hour

// Client is the subset of the go-redis API the cache needs. *redis.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider wraps another embeddings.Provider.
type Provider struct {
	inner  embeddings.Provider
	client Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithTTL sets the expiry of cached vectors.
func WithTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithPrefix sets the key prefix. The default is "monitorai:emb:".
func WithPrefix(prefix string) Option {
	return func(p *Provider) { p.prefix = prefix }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New returns a caching decorator around inner.
func New(inner embeddings.Provider, client Client, opts ...Option) *Provider {
	p := &Provider{
		inner:  inner,
		client: client,
		ttl:    DefaultTTL,
		prefix: "monitorai:emb:",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Embed returns the cached vector for text, computing and storing it on a miss.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if vec, ok := p.lookup(ctx, key); ok {
		return vec, nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and forwards only the misses to the inner
// provider in a single call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		keys[i] = p.key(t)
		if vec, ok := p.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, embeddings.ServiceError("rediscache: embed batch",
			fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(vecs)))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		p.store(ctx, keys[i], vecs[j])
	}
	return out, nil
}

// Dimensions delegates to the wrapped provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID delegates to the wrapped provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

func (p *Provider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return p.prefix + p.inner.ModelID() + ":" + hex.EncodeToString(sum[:])
}

func (p *Provider) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("rediscache: get failed", "key", key, "err", err)
		}
		return nil, false
	}
	vec, err := decode(raw)
	if err != nil {
		p.logger.Warn("rediscache: discarding corrupt entry", "key", key, "err", err)
		return nil, false
	}
	return vec, true
}

func (p *Provider) store(ctx context.Context, key string, vec []float32) {
	if err := p.client.Set(ctx, key, encode(vec), p.ttl).Err(); err != nil {
		p.logger.Warn("rediscache: set failed", "key", key, "err", err)
	}
}

// encode packs vec as little-endian IEEE-754 float32 values.
func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
