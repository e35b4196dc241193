// Package scraper provides the high-level client for the GitHub scraper
// backend. It turns lightweight resource descriptors into query parameter
// sets and delegates the actual work to the pagination worker pool; no
// retry or cursor logic lives at this layer.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/pagination"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// Default query filters and descriptor values.
const (
	DefaultIssueQuery     = "is:issue"
	DefaultPullQuery      = "is:pr"
	DefaultDependentsType = "REPOSITORY"
)

// Config holds the scraper client configuration.
type Config struct {
	// BaseURL of the scraper backend, e.g.
	// "https://scraper.example.workers.dev/github".
	BaseURL string

	// Auth is the authorization credential sent with every request.
	Auth string

	// NumWorkers bounds concurrent page fetches (<= 30 is recommended).
	NumWorkers int

	// NumRetries is the per-page retry budget.
	NumRetries int

	// MaxPages caps the backend's upstream subrequests per fetch. This is
	// a backend batch limit, not the overall pagination depth.
	MaxPages int

	// ProxyURL routes requests through an outbound HTTP proxy when set.
	ProxyURL string

	// RequestTimeout bounds each page fetch.
	RequestTimeout time.Duration

	// RetryBackoff is the fixed sleep between retries of the same page.
	RetryBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, auth string) Config {
	return Config{
		BaseURL:        baseURL,
		Auth:           auth,
		NumWorkers:     10,
		NumRetries:     3,
		MaxPages:       10,
		RequestTimeout: 15 * time.Second,
		RetryBackoff:   10 * time.Second,
	}
}

// Client is the scraper backend client.
type Client struct {
	config Config
	pool   *pagination.Pool
	logger zerolog.Logger
}

// Project identifies one repository whose issue or pull list to harvest.
// Query is an optional list filter (e.g. "is:issue is:open").
type Project struct {
	Owner string
	Name  string
	Query string
}

// ItemRef identifies a single issue or pull request timeline.
type ItemRef struct {
	Owner string
	Name  string
	ID    int
}

// DependentsTarget identifies a repository or package whose dependents to
// harvest. Type defaults to REPOSITORY; PackageID selects a specific
// package when Type is PACKAGE.
type DependentsTarget struct {
	Owner     string
	Name      string
	Type      string
	PackageID string
}

// New creates a scraper client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Auth == "" {
		return nil, fmt.Errorf("auth credential is required")
	}

	transport := http.DefaultTransport
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	httpClient := &http.Client{Transport: transport}
	fetcher := fetch.New(httpClient, cfg.Auth)

	pool := pagination.NewPool(fetcher, pagination.Config{
		MaxConcurrency: cfg.NumWorkers,
		MaxRetries:     cfg.NumRetries,
		Backoff:        cfg.RetryBackoff,
		Timeout:        cfg.RequestTimeout,
	})

	return &Client{
		config: cfg,
		pool:   pool,
		logger: log.With().Str("component", "scraper").Logger(),
	}, nil
}

// GetAll fetches every page of every query against the given endpoint path
// and returns the per-query outcomes.
func (c *Client) GetAll(ctx context.Context, path string, queries []query.Params) []pagination.Outcome {
	return c.pool.Run(ctx, c.config.BaseURL+path, queries)
}

// GetAllWithCallback fetches every page of every query, streaming each page
// to callback as soon as it arrives.
func (c *Client) GetAllWithCallback(ctx context.Context, path string, queries []query.Params, callback pagination.Callback) []pagination.Outcome {
	return c.pool.RunWithCallback(ctx, c.config.BaseURL+path, queries, callback)
}

// GetIssueLists harvests the issue lists of the given projects.
func (c *Client) GetIssueLists(ctx context.Context, projects []Project) []pagination.Outcome {
	return c.GetAll(ctx, "/issues", c.listQueries(projects, DefaultIssueQuery))
}

// GetIssueListsWithCallback harvests issue lists, streaming pages to callback.
func (c *Client) GetIssueListsWithCallback(ctx context.Context, projects []Project, callback pagination.Callback) []pagination.Outcome {
	return c.GetAllWithCallback(ctx, "/issues", c.listQueries(projects, DefaultIssueQuery), callback)
}

// GetPullLists harvests the pull request lists of the given projects.
func (c *Client) GetPullLists(ctx context.Context, projects []Project) []pagination.Outcome {
	return c.GetAll(ctx, "/pulls", c.listQueries(projects, DefaultPullQuery))
}

// GetPullListsWithCallback harvests pull lists, streaming pages to callback.
func (c *Client) GetPullListsWithCallback(ctx context.Context, projects []Project, callback pagination.Callback) []pagination.Outcome {
	return c.GetAllWithCallback(ctx, "/pulls", c.listQueries(projects, DefaultPullQuery), callback)
}

// GetIssues harvests the timelines of single issues.
func (c *Client) GetIssues(ctx context.Context, refs []ItemRef) []pagination.Outcome {
	return c.GetAll(ctx, "/issue", c.itemQueries(refs))
}

// GetIssuesWithCallback harvests single-issue timelines, streaming pages to
// callback.
func (c *Client) GetIssuesWithCallback(ctx context.Context, refs []ItemRef, callback pagination.Callback) []pagination.Outcome {
	return c.GetAllWithCallback(ctx, "/issue", c.itemQueries(refs), callback)
}

// GetPulls harvests the timelines of single pull requests.
func (c *Client) GetPulls(ctx context.Context, refs []ItemRef) []pagination.Outcome {
	return c.GetAll(ctx, "/pull", c.itemQueries(refs))
}

// GetPullsWithCallback harvests single-pull timelines, streaming pages to
// callback.
func (c *Client) GetPullsWithCallback(ctx context.Context, refs []ItemRef, callback pagination.Callback) []pagination.Outcome {
	return c.GetAllWithCallback(ctx, "/pull", c.itemQueries(refs), callback)
}

// GetDependents harvests the dependents of the given targets.
func (c *Client) GetDependents(ctx context.Context, targets []DependentsTarget) []pagination.Outcome {
	return c.GetAll(ctx, "/dependents", c.dependentsQueries(targets))
}

// GetDependentsWithCallback harvests dependents, streaming pages to callback.
func (c *Client) GetDependentsWithCallback(ctx context.Context, targets []DependentsTarget, callback pagination.Callback) []pagination.Outcome {
	return c.GetAllWithCallback(ctx, "/dependents", c.dependentsQueries(targets), callback)
}

// listQueries builds the parameter sets for an issue or pull list harvest.
func (c *Client) listQueries(projects []Project, defaultQuery string) []query.Params {
	queries := make([]query.Params, 0, len(projects))
	for _, proj := range projects {
		filter := proj.Query
		if filter == "" {
			filter = defaultQuery
		}
		p := query.Params{
			query.FieldOwner: proj.Owner,
			query.FieldName:  proj.Name,
			query.FieldQuery: filter,
		}
		p.SetInt(query.FieldFromPage, 1)
		p.SetInt(query.FieldMaxPages, c.config.MaxPages)
		queries = append(queries, p)
	}
	return queries
}

// itemQueries builds the parameter sets for single issue/pull timelines.
func (c *Client) itemQueries(refs []ItemRef) []query.Params {
	queries := make([]query.Params, 0, len(refs))
	for _, ref := range refs {
		p := query.Params{
			query.FieldOwner: ref.Owner,
			query.FieldName:  ref.Name,
		}
		p.SetInt(query.FieldID, ref.ID)
		queries = append(queries, p)
	}
	return queries
}

// dependentsQueries builds the parameter sets for a dependents harvest.
func (c *Client) dependentsQueries(targets []DependentsTarget) []query.Params {
	queries := make([]query.Params, 0, len(targets))
	for _, target := range targets {
		depType := target.Type
		if depType == "" {
			depType = DefaultDependentsType
		}
		p := query.Params{
			query.FieldOwner: target.Owner,
			query.FieldName:  target.Name,
			query.FieldType:  depType,
		}
		if target.PackageID != "" {
			p[query.FieldPackageID] = target.PackageID
		}
		p.SetInt(query.FieldFromPage, 1)
		p.SetInt(query.FieldMaxPages, c.config.MaxPages)
		queries = append(queries, p)
	}
	return queries
}
