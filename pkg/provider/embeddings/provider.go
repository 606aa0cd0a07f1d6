// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (e.g., OpenAI text-embedding-3 or a local Ollama model). Call
// transcripts are embedded with the same model that produced the reference
// snapshot so they can be ranked against previously graded calls.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrService is the sentinel carried by every error that originates in the
// external embedding service: transport failures, non-success responses,
// malformed payloads, and deadline expiry. Callers test for it with
// errors.Is and treat it as a recoverable condition.
var ErrService = errors.New("embeddings: service error")

// ServiceError wraps err so that both errors.Is(result, ErrService) and
// errors.Is(result, err) hold. op names the failing operation for the message.
func ServiceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrService, err)
}

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions). Vectors from different providers are
// only comparable if both use the same model and space.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The text is
	// sent verbatim; callers do not pre-truncate it and any length limit is
	// enforced by the service itself.
	//
	// Failures wrap [ErrService].
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in a single
	// provider call. The returned slice has the same length as texts and the i-th
	// element corresponds to texts[i]. On error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector this provider produces,
	// or 0 while the provider does not know it yet.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "text-embedding-3-small").
	ModelID() string
}
