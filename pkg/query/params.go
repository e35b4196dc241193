// Package query defines the parameter sets that drive paginated scraper
// queries. A Params value describes one logical query (e.g. "all issues of
// repo X") plus its pagination cursor; the cursor fields are replaced on a
// fresh copy each round so that concurrent loops never alias state.
package query

import (
	"net/url"
	"strconv"
)

// Well-known parameter fields shared across resource kinds.
const (
	FieldOwner     = "owner"
	FieldName      = "name"
	FieldQuery     = "query"
	FieldType      = "type"
	FieldID        = "id"
	FieldPackageID = "packageId"

	// FieldFromPage is the numeric pagination cursor. The backend reports
	// the page it served as "current"; the next request asks for current+1.
	FieldFromPage = "fromPage"

	// FieldAfter is the opaque pagination cursor. When the backend returns
	// an "after" token it takes precedence over the numeric cursor.
	FieldAfter = "after"

	// FieldMaxPages caps the number of upstream subrequests the backend may
	// spend on a single fetch. This is a backend batch limit, not the
	// overall pagination depth.
	FieldMaxPages = "maxPages"
)

// Params is one query's parameter set. Values are kept as strings because
// that is how they travel on the wire; SetInt covers the numeric fields.
type Params map[string]string

// Clone returns an independent copy. Every cursor advance derives a new
// Params from the previous one instead of mutating in place.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SetInt stores an integer value under key.
func (p Params) SetInt(key string, v int) {
	p[key] = strconv.Itoa(v)
}

// WithPage derives a copy whose numeric cursor points at page n.
func (p Params) WithPage(n int) Params {
	out := p.Clone()
	out.SetInt(FieldFromPage, n)
	return out
}

// WithAfter derives a copy carrying the opaque continuation token. The
// numeric cursor is dropped so the backend cannot see two conflicting
// cursors on one request.
func (p Params) WithAfter(token string) Params {
	out := p.Clone()
	out[FieldAfter] = token
	delete(out, FieldFromPage)
	return out
}

// Values renders the params as a URL query string source.
func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for key, val := range p {
		v.Set(key, val)
	}
	return v
}
