// Package fetch performs single-page requests against the scraper backend
// and classifies their outcomes. It issues exactly one HTTP GET per call;
// retry policy lives in pkg/pagination.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// Prometheus metrics for page-fetch operations.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_fetch_requests_total",
		Help: "Total page fetches by endpoint and status",
	}, []string{"endpoint", "status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scraper_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_fetch_errors_total",
		Help: "Total page fetch errors by kind",
	}, []string{"kind"})
)

// Record is one item of a page, kept schemaless: the backend returns
// resource-specific fields and the sink decides what to do with them.
type Record map[string]any

// Envelope is the decoded backend response for one page.
//
// Continuation: a non-empty After token or a present Current page index
// signals more pages exist. If both are absent the query is exhausted.
type Envelope struct {
	Data    []Record `json:"data"`
	Current *int     `json:"current,omitempty"`
	After   string   `json:"after,omitempty"`
}

// HasNext reports whether the envelope carries a continuation indicator.
func (e *Envelope) HasNext() bool {
	return e.After != "" || e.Current != nil
}

// errorBody is the backend's JSON error shape on non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
}

// Doer executes one HTTP request. *http.Client satisfies it; proxy and
// connection pooling are configured there by the caller.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher fetches single pages from the scraper backend.
type Fetcher struct {
	client Doer
	auth   string
	logger zerolog.Logger
}

// New creates a Fetcher that authorizes every request with auth.
func New(client Doer, auth string) *Fetcher {
	return &Fetcher{
		client: client,
		auth:   auth,
		logger: log.With().Str("component", "fetch").Logger(),
	}
}

// FetchPage issues one GET against rawURL with params as the query string
// and returns the decoded envelope. Failures come back as *Error with a
// Kind the pagination layer dispatches on.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string, params query.Params) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.URL.RawQuery = params.Values().Encode()
	req.Header.Set("Authorization", f.auth)
	req.Header.Set("Accept", "application/json")

	endpoint := req.URL.Path

	timer := prometheus.NewTimer(fetchDuration.WithLabelValues(endpoint))
	resp, err := f.client.Do(req)
	timer.ObserveDuration()

	if err != nil {
		// Network errors and timeouts are transient from the caller's view.
		fetchErrorsTotal.WithLabelValues(string(KindOther)).Inc()
		fetchRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		f.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &Error{Kind: KindOther, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(KindOther)).Inc()
		fetchRequestsTotal.WithLabelValues(endpoint, "read_error").Inc()
		return nil, &Error{Kind: KindOther, Message: "read body", Err: err}
	}

	fetchRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, f.classifyResponse(resp.StatusCode, body, endpoint)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		fetchErrorsTotal.WithLabelValues(string(KindMalformed)).Inc()
		f.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Envelope decode failed")
		return nil, &Error{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "undecodable body", Err: err}
	}

	// A page may legitimately be empty, but the data field itself is
	// required: its absence means the backend broke the envelope contract.
	if env.Data == nil {
		fetchErrorsTotal.WithLabelValues(string(KindMalformed)).Inc()
		f.logger.Error().Str("endpoint", endpoint).Msg("Envelope missing data field")
		return nil, &Error{Kind: KindMalformed, StatusCode: resp.StatusCode, Message: "response has no data field"}
	}

	f.logger.Debug().
		Str("endpoint", endpoint).
		Int("items", len(env.Data)).
		Bool("has_next", env.HasNext()).
		Msg("Page fetched")

	return &env, nil
}

// classifyResponse builds the classified error for a non-2xx response.
func (f *Fetcher) classifyResponse(statusCode int, body []byte, endpoint string) *Error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	message := eb.Error
	if message == "" {
		message = http.StatusText(statusCode)
	}

	kind := Classify(message)
	fetchErrorsTotal.WithLabelValues(string(kind)).Inc()

	f.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", statusCode).
		Str("kind", string(kind)).
		Str("error", message).
		Msg("Backend returned error")

	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}
