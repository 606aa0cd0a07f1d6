// Package reference holds the set of previously graded calls that new calls
// are calibrated against.
//
// A [Store] is built once at startup from a [Source] (a snapshot file or a
// Postgres table) and is immutable afterwards, so request handlers share one
// *Store across goroutines without locking. A nil *Store is the "absent"
// store: every method is nil-safe and reports zero cases, which disables
// calibration without any special-casing at call sites.
package reference

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/MrWong99/monitorai/internal/rubric"
)

var (
	// ErrSnapshotNotFound reports that the configured snapshot does not exist.
	// It is not a failure: the system runs without calibration.
	ErrSnapshotNotFound = errors.New("reference: snapshot not found")

	// ErrCorruptSnapshot wraps every decode or validation failure.
	ErrCorruptSnapshot = errors.New("reference: corrupt snapshot")
)

// Case is one previously graded call.
type Case struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Metadata is the validated grading outcome of a reference case.
type Metadata struct {
	ExpectedScore int
	Checklist     rubric.Checklist
}

// Store is an ordered, immutable collection of reference cases sharing one
// embedding dimensionality.
type Store struct {
	cases []Case
	dims  int
}

// NewStore validates cases and returns a store holding deep copies of them.
//
// Every case must have a non-empty unique ID and a finite, non-empty
// embedding whose length matches the first case's. All problems are reported
// together, each wrapping [ErrCorruptSnapshot].
func NewStore(cases []Case) (*Store, error) {
	var errs []error
	seen := make(map[string]int, len(cases))
	dims := 0
	for i, c := range cases {
		prefix := fmt.Sprintf("case[%d]", i)
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", prefix))
		} else {
			prefix = fmt.Sprintf("case[%d] %q", i, c.ID)
			if prev, ok := seen[c.ID]; ok {
				errs = append(errs, fmt.Errorf("%s: duplicate of case[%d]", prefix, prev))
			}
			seen[c.ID] = i
		}
		switch {
		case len(c.Embedding) == 0:
			errs = append(errs, fmt.Errorf("%s: embedding is empty", prefix))
		case dims == 0:
			dims = len(c.Embedding)
		case len(c.Embedding) != dims:
			errs = append(errs, fmt.Errorf("%s: embedding has %d dimensions, want %d", prefix, len(c.Embedding), dims))
		}
		for j, v := range c.Embedding {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				errs = append(errs, fmt.Errorf("%s: embedding[%d] is not finite", prefix, j))
				break
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, errors.Join(errs...))
	}

	owned := make([]Case, len(cases))
	for i, c := range cases {
		c.Embedding = slices.Clone(c.Embedding)
		owned[i] = c
	}
	return &Store{cases: owned, dims: dims}, nil
}

// Len returns the number of cases. It is zero for a nil store.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cases)
}

// Dimensions returns the shared embedding length, or zero for an empty store.
func (s *Store) Dimensions() int {
	if s == nil {
		return 0
	}
	return s.dims
}

// At returns the case at store index i. It panics if i is out of range.
// The returned embedding must not be modified.
func (s *Store) At(i int) Case {
	return s.cases[i]
}

// All iterates over the cases in store order together with their index.
// The yielded embeddings must not be modified.
func (s *Store) All() iter.Seq2[int, Case] {
	return func(yield func(int, Case) bool) {
		if s == nil {
			return
		}
		for i, c := range s.cases {
			if !yield(i, c) {
				return
			}
		}
	}
}

// Issue is a non-fatal data-quality finding about one case.
type Issue struct {
	CaseID  string
	Message string
}

// Lint reports data-quality problems that do not prevent calibration:
// unanswered criteria (treated as "no"), criteria under unknown keys (shown
// with the raw key as label), and expected scores outside [0, rubric.MaxScore].
func (s *Store) Lint() []Issue {
	var out []Issue
	for _, c := range s.All() {
		if missing := c.Metadata.Checklist.Missing(); len(missing) > 0 {
			out = append(out, Issue{c.ID, fmt.Sprintf("checklist is missing %d criteria %v; treated as not satisfied", len(missing), missing)})
		}
		for _, e := range c.Metadata.Checklist.Extras() {
			out = append(out, Issue{c.ID, fmt.Sprintf("checklist key %q is not a known criterion", e.Key)})
		}
		if sc := c.Metadata.ExpectedScore; sc < 0 || sc > rubric.MaxScore {
			out = append(out, Issue{c.ID, fmt.Sprintf("expected_score %d is outside [0, %d]", sc, rubric.MaxScore)})
		}
	}
	return out
}
