/*
Package workers sizes and runs the small worker pools used by the catalog.

Counts are derived from GOMAXPROCS rather than runtime.NumCPU so that
container CPU limits are respected:

	// Returns 2 inside a pod limited to 2 CPUs on a 64-core node
	n := workers.ForCPU(0)

The CATALOG_WORKERS environment variable overrides the computed value for
every helper. A limit passed to any helper still caps the result.

ForEach fans a slice of items out to a fixed number of goroutines and stops
handing out work once the context is cancelled:

	err := workers.ForEach(ctx, workers.ForCPU(8), ids, func(ctx context.Context, id string) error {
		return recompute(ctx, id)
	})

The first error returned by fn is reported; remaining items are skipped.
*/
package workers
