package collab

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the default number of concurrently outstanding collaborator calls.
const DefaultLimit = 4

// Pool bounds concurrent collaborator calls.
type Pool struct {
	limit int
}

// NewPool returns a pool allowing limit concurrent calls (DefaultLimit if limit < 1).
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Pool{limit: limit}
}

// Limit returns the concurrency bound.
func (p *Pool) Limit() int { return p.limit }

// Run calls fn for every index in [0, n) with at most Limit calls in flight and
// returns the per-index errors. One item failing never cancels its siblings; only
// ctx does, in which case unscheduled items are skipped and ctx.Err() is returned.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) ([]error, error) {
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(p.limit)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return errs, err
	}
	return errs, nil
}
