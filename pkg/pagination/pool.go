package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// Config holds worker pool configuration.
type Config struct {
	// MaxConcurrency bounds the number of page fetches in flight at any
	// instant, across all queries.
	MaxConcurrency int

	// MaxRetries is the per-page retry budget. It resets every time a page
	// succeeds and the cursor advances.
	MaxRetries int

	// Backoff is the fixed sleep between retries of the same page.
	Backoff time.Duration

	// Timeout bounds each individual page fetch. A timed-out fetch counts
	// as a transient failure.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults for the scraper backend.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		MaxRetries:     3,
		Backoff:        10 * time.Second,
		Timeout:        15 * time.Second,
	}
}

// Pool runs many pagination loops concurrently under a shared admission
// gate. Loops own their state exclusively; the gate is the only shared
// resource.
type Pool struct {
	fetcher Fetcher
	config  Config
	gate    chan struct{}
	logger  zerolog.Logger
}

// NewPool creates a worker pool around fetcher.
func NewPool(fetcher Fetcher, config Config) *Pool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Pool{
		fetcher: fetcher,
		config:  config,
		gate:    make(chan struct{}, config.MaxConcurrency),
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// Run executes every query to completion and returns their outcomes in
// input order. A failed query degrades to a partial outcome; it never
// aborts its siblings.
func (p *Pool) Run(ctx context.Context, url string, queries []query.Params) []Outcome {
	return p.run(ctx, url, queries, nil)
}

// RunWithCallback executes every query, streaming each fetched page to cb
// together with the parameter snapshot that produced it. It returns the
// outcomes with Items left nil: pages are handed off as they arrive and
// not accumulated a second time.
func (p *Pool) RunWithCallback(ctx context.Context, url string, queries []query.Params, cb Callback) []Outcome {
	return p.run(ctx, url, queries, cb)
}

func (p *Pool) run(ctx context.Context, url string, queries []query.Params, cb Callback) []Outcome {
	start := time.Now()
	p.logger.Info().
		Str("url", url).
		Int("queries", len(queries)).
		Int("max_concurrency", p.config.MaxConcurrency).
		Msg("Starting scrape run")

	outcomes := make([]Outcome, len(queries))

	var wg sync.WaitGroup
	for i, params := range queries {
		wg.Add(1)
		go func(i int, params query.Params) {
			defer wg.Done()
			defer func() {
				// A panicking callback must not take sibling queries down.
				if r := recover(); r != nil {
					outcomes[i] = Outcome{
						Params: params,
						Failed: true,
						Err:    fmt.Errorf("query panicked: %v", r),
					}
					p.logger.Error().
						Interface("panic", r).
						Str("owner", params[query.FieldOwner]).
						Str("name", params[query.FieldName]).
						Msg("Query loop panicked")
				}
			}()

			outcomes[i] = p.runLoop(ctx, url, params, cb)
		}(i, params)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Failed {
			failed++
		}
	}

	p.logger.Info().
		Str("url", url).
		Int("queries", len(queries)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Scrape run complete")

	return outcomes
}
