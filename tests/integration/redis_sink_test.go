package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
	"github.com/osslab-pku/github-scraper-client/pkg/sink"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestRedisSink_StoresDocuments(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := sink.NewRedis(redisClient, "issues")

	params := query.Params{query.FieldOwner: "pandas-dev", query.FieldName: "pandas"}
	s.Callback(ctx, []fetch.Record{
		{"id": float64(1), "title": "first issue"},
		{"id": float64(2), "title": "second issue"},
	}, params)

	raw, err := redisClient.Get(ctx, "issues:pandas-dev:pandas:1").Result()
	if err != nil {
		t.Fatalf("Get document 1: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal document: %v", err)
	}
	if doc["title"] != "first issue" {
		t.Errorf("title = %v, want first issue", doc["title"])
	}
	if doc["owner"] != "pandas-dev" || doc["name"] != "pandas" {
		t.Errorf("document is missing its query identity: %v", doc)
	}
}

func TestRedisSink_UpsertIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := sink.NewRedis(redisClient, "issues")
	params := query.Params{query.FieldOwner: "a", query.FieldName: "b"}

	s.Callback(ctx, []fetch.Record{{"id": float64(7), "state": "open"}}, params)
	s.Callback(ctx, []fetch.Record{{"id": float64(7), "state": "closed"}}, params)

	keys, err := redisClient.Keys(ctx, "issues:a:b:*").Result()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1 (rerun must overwrite, not duplicate)", len(keys))
	}

	raw, err := redisClient.Get(ctx, "issues:a:b:7").Result()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc["state"] != "closed" {
		t.Errorf("state = %v, want the rerun value closed", doc["state"])
	}
}
