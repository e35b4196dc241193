package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// Prometheus metrics for pagination loops.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_pages_fetched_total",
		Help: "Total successfully fetched pages across all queries",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scraper_page_retries_total",
		Help: "Total page retry attempts after transient failures",
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_queries_total",
		Help: "Completed queries by terminal state",
	}, []string{"state"})
)

// Terminal states reported on the queries metric.
const (
	stateExhausted = "exhausted"
	stateFailed    = "failed"
	stateCancelled = "cancelled"
)

// Common errors reported in a failed Outcome.
var (
	// ErrRetryExhausted marks a query that ran out of retry budget on one
	// page. The outcome keeps whatever pages were fetched before it.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrMalformedResponse marks a query killed by an envelope contract
	// violation, as opposed to transient unavailability.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// Fetcher fetches a single page. *fetch.Fetcher satisfies it; tests provide
// stubs.
type Fetcher interface {
	FetchPage(ctx context.Context, url string, params query.Params) (*fetch.Envelope, error)
}

// Callback receives one successfully fetched page together with a snapshot
// of the query parameters that produced it. It may be invoked concurrently
// for different queries; shared sink state is the caller's to protect.
type Callback func(ctx context.Context, items []fetch.Record, params query.Params)

// Outcome is the accumulated result of one query.
type Outcome struct {
	// Params is the original (pre-cursor) parameter set of the query.
	Params query.Params

	// Items holds every record fetched, in page order. On failure it holds
	// the pages that succeeded before the terminal error.
	Items []fetch.Record

	// Failed is set when the query stopped early: retry budget exhausted,
	// malformed response, or cancellation. A not-found answer is a clean
	// end of pagination and does not set it.
	Failed bool

	// Err carries the terminal error when Failed is set.
	Err error
}

// runLoop drives one query through successive pages until exhaustion,
// terminal failure, or cancellation. onPage, when non-nil, receives each
// non-empty page as soon as it is fetched.
func (p *Pool) runLoop(ctx context.Context, url string, params query.Params, onPage Callback) Outcome {
	out := Outcome{Params: params}
	cur := params.Clone()
	retries := p.config.MaxRetries
	logger := p.logger.With().
		Str("owner", params[query.FieldOwner]).
		Str("name", params[query.FieldName]).
		Logger()

	for {
		env, err := p.fetchOne(ctx, url, cur)
		if err != nil {
			if done := p.handleFetchError(ctx, err, &out, &retries, logger); done {
				return out
			}
			continue // retry the same cursor
		}

		pagesFetchedTotal.Inc()
		retries = p.config.MaxRetries

		if len(env.Data) > 0 {
			// The page is either streamed out immediately or folded into
			// the accumulated result, never both.
			if onPage != nil {
				onPage(ctx, env.Data, cur.Clone())
			} else {
				out.Items = append(out.Items, env.Data...)
			}
		}

		if !env.HasNext() {
			queriesTotal.WithLabelValues(stateExhausted).Inc()
			logger.Debug().Int("items", len(out.Items)).Msg("Query exhausted")
			return out
		}

		cur = nextParams(cur, env)
	}
}

// handleFetchError applies the failure policy for one failed page fetch.
// It reports true when the loop must terminate, false when the same cursor
// should be retried.
func (p *Pool) handleFetchError(ctx context.Context, err error, out *Outcome, retries *int, logger zerolog.Logger) bool {
	// Run cancellation is terminal regardless of classification.
	if ctx.Err() != nil {
		out.Failed = true
		out.Err = ctx.Err()
		queriesTotal.WithLabelValues(stateCancelled).Inc()
		return true
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fetch.KindNotFound:
			// The target vanished mid-run (e.g. a deleted issue). No
			// further pages exist, so end cleanly without spending budget.
			queriesTotal.WithLabelValues(stateExhausted).Inc()
			logger.Debug().Msg("Target not found, ending pagination")
			return true
		case fetch.KindMalformed:
			out.Failed = true
			out.Err = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			queriesTotal.WithLabelValues(stateFailed).Inc()
			logger.Error().Err(err).Msg("Backend broke the envelope contract")
			return true
		}
	}

	// Transient: rate limited, server error, network error, fetch timeout.
	*retries = *retries - 1
	if *retries <= 0 {
		out.Failed = true
		out.Err = fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, p.config.MaxRetries, err)
		queriesTotal.WithLabelValues(stateFailed).Inc()
		logger.Warn().
			Err(err).
			Int("max_retries", p.config.MaxRetries).
			Int("items", len(out.Items)).
			Msg("Retry budget exhausted, keeping partial result")
		return true
	}

	retriesTotal.Inc()
	logger.Warn().
		Err(err).
		Int("retries_left", *retries).
		Dur("backoff", p.config.Backoff).
		Msg("Transient failure, retrying after backoff")

	select {
	case <-ctx.Done():
		out.Failed = true
		out.Err = ctx.Err()
		queriesTotal.WithLabelValues(stateCancelled).Inc()
		return true
	case <-time.After(p.config.Backoff):
		return false
	}
}

// fetchOne performs one gated, timeout-bounded page fetch.
func (p *Pool) fetchOne(ctx context.Context, url string, params query.Params) (*fetch.Envelope, error) {
	select {
	case p.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.gate }()

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	return p.fetcher.FetchPage(fetchCtx, url, params)
}

// nextParams derives the cursor for the next page. The opaque after token
// takes precedence over the numeric index so resource kinds with either
// pagination style share one loop.
func nextParams(cur query.Params, env *fetch.Envelope) query.Params {
	if env.After != "" {
		return cur.WithAfter(env.After)
	}
	return cur.WithPage(*env.Current + 1)
}
