package pagination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// step is one scripted reply of the fake fetcher.
type step struct {
	env *fetch.Envelope
	err error
}

// scriptedFetcher replays a per-query script, keyed by the owner param.
// Once a script is drained its last step repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]step
	calls   map[string]int
	params  map[string][]query.Params
	delay   time.Duration

	inflight  int
	highwater int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]step),
		calls:   make(map[string]int),
		params:  make(map[string][]query.Params),
	}
}

func (s *scriptedFetcher) script(owner string, steps ...step) {
	s.scripts[owner] = steps
}

func (s *scriptedFetcher) FetchPage(ctx context.Context, url string, params query.Params) (*fetch.Envelope, error) {
	owner := params[query.FieldOwner]

	s.mu.Lock()
	i := s.calls[owner]
	s.calls[owner]++
	s.params[owner] = append(s.params[owner], params.Clone())
	script := s.scripts[owner]
	s.inflight++
	if s.inflight > s.highwater {
		s.highwater = s.inflight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	if len(script) == 0 {
		return nil, &fetch.Error{Kind: fetch.KindOther, Message: "no script"}
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i].env, script[i].err
}

func (s *scriptedFetcher) callCount(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[owner]
}

func (s *scriptedFetcher) sentParams(owner string) []query.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[owner]
}

func intp(n int) *int { return &n }

// page builds a successful envelope step.
func page(current *int, after string, items ...fetch.Record) step {
	return step{env: &fetch.Envelope{Data: items, Current: current, After: after}}
}

func transientErr() step {
	return step{err: &fetch.Error{Kind: fetch.KindRateLimited, StatusCode: 429, Message: "429 too many requests"}}
}

func notFoundErr() step {
	return step{err: &fetch.Error{Kind: fetch.KindNotFound, StatusCode: 404, Message: "404 not found"}}
}

func malformedErr() step {
	return step{err: &fetch.Error{Kind: fetch.KindMalformed, StatusCode: 200, Message: "response has no data field"}}
}

func testConfig() Config {
	return Config{
		MaxConcurrency: 10,
		MaxRetries:     3,
		Backoff:        10 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func ownerParams(owner string) query.Params {
	return query.Params{query.FieldOwner: owner, query.FieldName: "repo", query.FieldFromPage: "1"}
}

func TestRun_MultiPageAccumulatesInOrder(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		page(intp(1), "", fetch.Record{"id": 1}),
		page(nil, "", fetch.Record{"id": 2}),
	)

	pool := NewPool(f, testConfig())
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	out := outcomes[0]
	if out.Failed {
		t.Fatalf("query failed: %v", out.Err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(out.Items))
	}
	if out.Items[0]["id"] != 1 || out.Items[1]["id"] != 2 {
		t.Errorf("Items out of order: %v", out.Items)
	}
	if got := f.callCount("a"); got != 2 {
		t.Errorf("fetch count = %d, want 2", got)
	}
}

func TestRun_NumericCursorAdvances(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		page(intp(1), "", fetch.Record{"id": 1}),
		page(nil, "", fetch.Record{"id": 2}),
	)

	pool := NewPool(f, testConfig())
	pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	sent := f.sentParams("a")
	if len(sent) != 2 {
		t.Fatalf("fetch count = %d, want 2", len(sent))
	}
	if sent[1][query.FieldFromPage] != "2" {
		t.Errorf("second fetch fromPage = %q, want 2 (current+1)", sent[1][query.FieldFromPage])
	}
}

func TestRun_AfterTokenTakesPrecedence(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		page(intp(1), "tok-xyz", fetch.Record{"id": 1}),
		page(nil, "", fetch.Record{"id": 2}),
	)

	pool := NewPool(f, testConfig())
	pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	sent := f.sentParams("a")
	if len(sent) != 2 {
		t.Fatalf("fetch count = %d, want 2", len(sent))
	}
	if sent[1][query.FieldAfter] != "tok-xyz" {
		t.Errorf("second fetch after = %q, want tok-xyz", sent[1][query.FieldAfter])
	}
	if _, ok := sent[1][query.FieldFromPage]; ok {
		t.Error("numeric cursor should be dropped when the after token is used")
	}
}

func TestRun_EmptyPageWithContinuationAdvances(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		page(intp(1), ""),
		page(nil, "", fetch.Record{"id": 2}),
	)

	pool := NewPool(f, testConfig())
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	out := outcomes[0]
	if out.Failed {
		t.Fatalf("query failed: %v", out.Err)
	}
	if len(out.Items) != 1 || out.Items[0]["id"] != 2 {
		t.Errorf("Items = %v, want the single record from page 2", out.Items)
	}
	if got := f.callCount("a"); got != 2 {
		t.Errorf("fetch count = %d, want 2", got)
	}
}

func TestRun_NotFoundEndsCleanly(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a", notFoundErr())

	cfg := testConfig()
	cfg.Backoff = 500 * time.Millisecond

	pool := NewPool(f, cfg)
	start := time.Now()
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})
	elapsed := time.Since(start)

	out := outcomes[0]
	if out.Failed {
		t.Errorf("not-found must not be a failure, got err %v", out.Err)
	}
	if len(out.Items) != 0 {
		t.Errorf("Items = %v, want empty", out.Items)
	}
	if got := f.callCount("a"); got != 1 {
		t.Errorf("fetch count = %d, want 1 (no retry budget spent)", got)
	}
	if elapsed >= cfg.Backoff {
		t.Errorf("run took %v, backoff slept on a not-found answer", elapsed)
	}
}

func TestRun_TransientExhaustionKeepsPartialResult(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		page(intp(1), "", fetch.Record{"id": 1}),
		transientErr(),
	)

	pool := NewPool(f, testConfig())
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	out := outcomes[0]
	if !out.Failed {
		t.Fatal("expected query to fail after exhausting retries")
	}
	if !errors.Is(out.Err, ErrRetryExhausted) {
		t.Errorf("Err = %v, want ErrRetryExhausted", out.Err)
	}
	if len(out.Items) != 1 || out.Items[0]["id"] != 1 {
		t.Errorf("Items = %v, want the partial result from page 1", out.Items)
	}
	// 1 success + MaxRetries attempts on page 2, none beyond.
	if got := f.callCount("a"); got != 1+testConfig().MaxRetries {
		t.Errorf("fetch count = %d, want %d", got, 1+testConfig().MaxRetries)
	}
}

func TestRun_TransientThenSuccess(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a",
		transientErr(),
		transientErr(),
		page(nil, "", fetch.Record{"id": 9}),
	)

	pool := NewPool(f, testConfig())
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	out := outcomes[0]
	if out.Failed {
		t.Fatalf("query failed: %v", out.Err)
	}
	if len(out.Items) != 1 || out.Items[0]["id"] != 9 {
		t.Errorf("Items = %v, want [{id:9}]", out.Items)
	}
	if got := f.callCount("a"); got != 3 {
		t.Errorf("fetch count = %d, want 3", got)
	}
}

func TestRun_RetryBudgetResetsOnSuccess(t *testing.T) {
	f := newScriptedFetcher()
	// Two transient failures per page would exhaust a budget of 2 if it
	// did not reset after each successful page.
	f.script("a",
		transientErr(),
		page(intp(1), "", fetch.Record{"id": 1}),
		transientErr(),
		page(nil, "", fetch.Record{"id": 2}),
	)

	cfg := testConfig()
	cfg.MaxRetries = 2

	pool := NewPool(f, cfg)
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})

	out := outcomes[0]
	if out.Failed {
		t.Fatalf("query failed: %v", out.Err)
	}
	if len(out.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(out.Items))
	}
	if got := f.callCount("a"); got != 4 {
		t.Errorf("fetch count = %d, want 4", got)
	}
}

func TestRun_MalformedResponseFailsImmediately(t *testing.T) {
	f := newScriptedFetcher()
	f.script("a", malformedErr())

	cfg := testConfig()
	cfg.Backoff = 500 * time.Millisecond

	pool := NewPool(f, cfg)
	start := time.Now()
	outcomes := pool.Run(context.Background(), "/issues", []query.Params{ownerParams("a")})
	elapsed := time.Since(start)

	out := outcomes[0]
	if !out.Failed {
		t.Fatal("expected failure on malformed response")
	}
	if !errors.Is(out.Err, ErrMalformedResponse) {
		t.Errorf("Err = %v, want ErrMalformedResponse", out.Err)
	}
	if errors.Is(out.Err, ErrRetryExhausted) {
		t.Error("malformed response must be distinguishable from retry exhaustion")
	}
	if got := f.callCount("a"); got != 1 {
		t.Errorf("fetch count = %d, want 1 (not retryable)", got)
	}
	if elapsed >= cfg.Backoff {
		t.Errorf("run took %v, backoff slept on a contract violation", elapsed)
	}
}
