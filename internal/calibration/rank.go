// Package calibration finds previously graded calls similar to a new
// transcript and turns them into a calibration block for the grading prompt.
//
// The flow is embed → [Rank] → [Format]. [Calibrator] wires the three steps
// together and owns the degradation policy: nothing in this package ever
// aborts an evaluation, the worst outcome is an empty block.
package calibration

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/monitorai/internal/reference"
)

// DefaultTopK is the number of reference cases included in a calibration block.
const DefaultTopK = 3

// ErrDimensionMismatch is returned when a query vector and a reference
// embedding have different lengths.
var ErrDimensionMismatch = errors.New("calibration: embedding dimension mismatch")

// Match is one ranked reference case.
type Match struct {
	// Score is the cosine similarity in [-1, 1].
	Score float64

	// Case is the matched reference case.
	Case reference.Case

	// Index is the case's position in the reference store.
	Index int
}

// Cosine returns the cosine similarity of a and b.
//
// If either vector has zero magnitude the similarity is 0. Accumulation is
// done in float64 and the result is clamped to [-1, 1] to absorb rounding.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(-1, min(1, s)), nil
}

// Rank scores query against every case in store and returns the k most
// similar, best first. Equal scores keep store order.
//
// An absent or empty store, or k <= 0, yields an empty result. If k exceeds
// the store size every case is returned. Rank does a full scan per call and
// is safe for concurrent use on a shared store.
func Rank(query []float32, store *reference.Store, k int) ([]Match, error) {
	if k <= 0 || store.Len() == 0 {
		return []Match{}, nil
	}
	if d := store.Dimensions(); len(query) != d {
		return nil, fmt.Errorf("%w: query has %d dimensions, reference store has %d", ErrDimensionMismatch, len(query), d)
	}

	scored := make([]Match, 0, store.Len())
	for i, c := range store.All() {
		s, err := Cosine(query, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("calibration: rank case %q: %w", c.ID, err)
		}
		scored = append(scored, Match{Score: s, Case: c, Index: i})
	}

	slices.SortStableFunc(scored, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return scored[:min(k, len(scored))], nil
}
