package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// RedisSink upserts each harvested record as a JSON document keyed by
// prefix:owner:name:id. Re-running a harvest overwrites documents in place,
// so scrapes are idempotent per record.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis creates a Redis sink. prefix namespaces the keys, e.g. "issues".
func NewRedis(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{
		client: client,
		prefix: prefix,
		logger: log.With().Str("component", "redis-sink").Logger(),
	}
}

// Callback stores one page of records. It matches pagination.Callback.
func (s *RedisSink) Callback(ctx context.Context, items []fetch.Record, params query.Params) {
	owner := params[query.FieldOwner]
	name := params[query.FieldName]

	for _, item := range items {
		id := itemID(item, params)

		// Stamp the document with its query identity, mirroring what a
		// reader needs to reassemble per-repo result sets.
		doc := make(map[string]any, len(item)+2)
		for k, v := range item {
			doc[k] = v
		}
		doc[query.FieldOwner] = owner
		doc[query.FieldName] = name

		payload, err := json.Marshal(doc)
		if err != nil {
			s.logger.Error().Err(err).Str("id", id).Msg("Marshal record failed")
			continue
		}

		key := fmt.Sprintf("%s:%s:%s:%s", s.prefix, owner, name, id)
		if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Store record failed")
		}
	}
}
