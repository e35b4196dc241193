// Package sink provides ready-made page consumers for scrape runs: CSV
// files, Redis documents, and Postgres rows. Every sink exposes a Callback
// method compatible with pagination.Callback; sinks serialize their own
// shared state, so one sink instance is safe across concurrent queries.
//
// Sinks log delivery errors instead of returning them: failure containment
// is the pool's concern and a broken sink must not look like a broken query.
package sink

import (
	"encoding/json"
	"fmt"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// itemID extracts the identifier of a record, falling back to the query
// params for single-item harvests where the backend omits per-record ids.
func itemID(item fetch.Record, params query.Params) string {
	if v, ok := item["id"]; ok {
		return fmt.Sprintf("%v", v)
	}
	if v, ok := item["itemId"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return params[query.FieldID]
}

// formatField renders a record field for flat outputs like CSV. Nested
// structures are rendered as compact JSON.
func formatField(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
