package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// PostgresSink upserts harvested records into a table keyed by
// (owner, name, item_id), one batched statement per page. The record body
// lands in a jsonb column.
type PostgresSink struct {
	pool   *pgxpool.Pool
	table  string
	logger zerolog.Logger
}

// NewPostgres creates a Postgres sink writing into table. The table name is
// interpolated into SQL, so it must come from configuration, never from
// harvested data.
func NewPostgres(pool *pgxpool.Pool, table string) *PostgresSink {
	return &PostgresSink{
		pool:   pool,
		table:  table,
		logger: log.With().Str("component", "postgres-sink").Logger(),
	}
}

// EnsureSchema creates the sink table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		owner   text NOT NULL,
		name    text NOT NULL,
		item_id text NOT NULL,
		doc     jsonb NOT NULL,
		PRIMARY KEY (owner, name, item_id)
	)`, s.table)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema for %s: %w", s.table, err)
	}
	return nil
}

// Callback upserts one page of records. It matches pagination.Callback.
func (s *PostgresSink) Callback(ctx context.Context, items []fetch.Record, params query.Params) {
	if len(items) == 0 {
		return
	}

	owner := params[query.FieldOwner]
	name := params[query.FieldName]

	sql := fmt.Sprintf(`INSERT INTO %s (owner, name, item_id, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, name, item_id) DO UPDATE SET doc = EXCLUDED.doc`, s.table)

	batch := &pgx.Batch{}
	queued := 0
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			s.logger.Error().Err(err).Msg("Marshal record failed")
			continue
		}
		batch.Queue(sql, owner, name, itemID(item, params), payload)
		queued++
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			s.logger.Error().
				Err(err).
				Str("owner", owner).
				Str("name", name).
				Msg("Upsert record failed")
			return
		}
	}
}
