package fetch

import (
	"fmt"
	"strings"
)

// Kind classifies a failed page fetch.
type Kind string

const (
	// KindRateLimited marks backend throttling ("too many requests").
	KindRateLimited Kind = "rate_limited"

	// KindNotFound marks a vanished target ("not found"). Pagination treats
	// it as the end of the result set, not as a failure.
	KindNotFound Kind = "not_found"

	// KindMalformed marks a 2xx response whose body does not carry the
	// envelope contract (missing "data"). Never retried.
	KindMalformed Kind = "malformed_response"

	// KindOther covers every remaining failure: 5xx, unexpected 4xx,
	// network errors, and per-request timeouts.
	KindOther Kind = "other"
)

// Error is a classified page-fetch failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is expected to resolve on retry.
func (e *Error) Transient() bool {
	return e.Kind == KindRateLimited || e.Kind == KindOther
}

// Classify maps a non-2xx response to a Kind using the server-supplied
// error text. Matching is case-insensitive and deliberately loose: the
// backend embeds upstream status phrases like "429 too many requests" in its
// error field.
func Classify(errText string) Kind {
	text := strings.ToLower(errText)
	switch {
	case strings.Contains(text, "too many requests"):
		return KindRateLimited
	case strings.Contains(text, "not found"):
		return KindNotFound
	default:
		return KindOther
	}
}
