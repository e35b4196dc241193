// Package metrics provides the centralized Prometheus metrics registry for
// the scraper client. All metrics are defined in their respective packages
// (fetch, pagination) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the scraper client.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/fetch):
//   - scraper_fetch_requests_total{endpoint, status} (Counter): Page fetches by endpoint and HTTP status
//   - scraper_fetch_duration_seconds{endpoint} (Histogram): Page fetch duration by endpoint
//   - scraper_fetch_errors_total{kind} (Counter): Fetch errors by kind
//     (rate_limited, not_found, malformed_response, other)
//
// Pagination Metrics (pkg/pagination):
//   - scraper_pages_fetched_total (Counter): Successfully fetched pages across all queries
//   - scraper_page_retries_total (Counter): Retry attempts after transient failures
//   - scraper_queries_total{state} (Counter): Completed queries by terminal state
//     (exhausted, failed, cancelled)
//
// Example Prometheus Queries:
//
//   # Fetch Error Rate
//   rate(scraper_fetch_errors_total[5m])
//
//   # Share of queries degraded to partial results
//   sum(rate(scraper_queries_total{state="failed"}[5m])) /
//   sum(rate(scraper_queries_total[5m]))
//
//   # P95 Page Fetch Latency
//   histogram_quantile(0.95, rate(scraper_fetch_duration_seconds_bucket[5m]))
//
//   # Retry pressure (rate limiting visibility)
//   rate(scraper_page_retries_total[5m])
