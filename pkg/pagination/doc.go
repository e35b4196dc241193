// Package pagination drives cursor-paginated queries through the scraper
// backend under a shared concurrency bound.
//
// Each query runs as its own loop: fetch a page, fold it into the result
// (or stream it to a callback), then advance the cursor the envelope
// returned (an opaque "after" token when present, else current+1). Pages
// within one query are strictly ordered; different queries interleave
// freely under the pool's admission gate.
//
// Example usage:
//
//	pool := pagination.NewPool(fetcher, pagination.DefaultConfig())
//	outcomes := pool.Run(ctx, baseURL+"/issues", queries)
//
// Failure policy: "not found" ends a query cleanly, transient errors are
// retried with a fixed backoff until the per-query budget runs out, and a
// malformed envelope fails the query immediately. One query's failure never
// aborts its siblings; the pool always reports every outcome.
package pagination
