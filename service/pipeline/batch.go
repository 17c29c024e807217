package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// batchConcurrencyLimit caps how many queries of one batch resolve at the
// same time, so a huge batch cannot open unbounded upstream streams.
const batchConcurrencyLimit = 64

// ResolveBatch resolves the given requests concurrently and returns one
// result per request, in request order. Results additionally carry the
// request ID, so callers may match by identifier instead of position.
// Individual failures are reported per result, never as a batch failure.
func (c *Coordinator) ResolveBatch(ctx context.Context, reqs []*Request) []*Result {
	results := make([]*Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrencyLimit)

	for i, req := range reqs {
		g.Go(func() error {
			results[i] = c.Resolve(ctx, req)
			return nil
		})
	}

	// Workers never return an error, failures live in the results.
	_ = g.Wait()
	return results
}
