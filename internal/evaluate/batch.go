package evaluate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of evaluations a batch runs at once.
const DefaultConcurrency = 2

// Outcome pairs one batch input with its result or error.
type Outcome struct {
	Input  Input
	Result *Result
	Err    error
}

// Batch evaluates inputs with at most concurrency running at once. A failed
// evaluation does not stop the others; outcomes are returned in input order.
// Cancelling ctx aborts evaluations that are still running or queued.
func (pl *Pipeline) Batch(ctx context.Context, inputs []Input, concurrency int, progress ProgressFunc) []Outcome {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([]Outcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, in := range inputs {
		out[i].Input = in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result, out[i].Err = pl.Run(ctx, in, progress)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Failed counts the outcomes that carry an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
