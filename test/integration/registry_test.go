// Package integration exercises the Postgres and Redis backed components of
// a peer against real servers. Tests skip when a server is unreachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/peers"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/ring"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func skipIfNoRedis(t *testing.T) *redis.Client {
	t.Helper()
	ns := "dht-test:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	c, err := redis.NewClient(config.RedisConfig{Addr: envOrDefault("TEST_REDIS_ADDR", "localhost:6379")}, ns)
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		c.Purge(context.Background(), "*")
		c.Close()
	})
	return c
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "dhtpeer_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "dhtpeer"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func uniqueID(prefix string) string {
	return prefix + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresResolverRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	r := resolver.NewPostgres(db)
	ctx := context.Background()

	id := uniqueID("doc")
	fetched := time.Now().UTC().Truncate(time.Second)
	doc := index.Document{DocID: id, URL: "http://example.org/" + id, Title: "ring", FetchedAt: fetched, SizeBytes: 512}
	if err := r.UpsertMany(ctx, []index.Document{doc}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.URL != doc.URL || got.SizeBytes != 512 || !got.FetchedAt.Equal(fetched) {
		t.Errorf("unexpected document %+v", got)
	}

	older := doc
	older.Title = "renamed"
	older.FetchedAt = fetched.Add(-time.Hour)
	if err := r.UpsertMany(ctx, []index.Document{older}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = r.Resolve(ctx, id)
	if !got.FetchedAt.Equal(fetched) {
		t.Errorf("fetched_at must not move backwards, got %v", got.FetchedAt)
	}

	if _, err := r.Resolve(ctx, uniqueID("missing")); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCachedResolverOverRedis(t *testing.T) {
	db := skipIfNoPostgres(t)
	kv := skipIfNoRedis(t)
	backend := resolver.NewPostgres(db)
	cached := resolver.NewCached(backend, kv, time.Minute)
	ctx := context.Background()

	id := uniqueID("doc")
	if err := cached.UpsertMany(ctx, []index.Document{{DocID: id, URL: "http://example.org/" + id}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := cached.Resolve(ctx, id); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	hits, misses := cached.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
	}

	if err := cached.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cached.Resolve(ctx, id); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if _, misses := cached.Stats(); misses != 2 {
		t.Errorf("expected a miss after invalidate, got %d misses", misses)
	}
}

func TestPeerRegistryAnnounceAndList(t *testing.T) {
	db := skipIfNoPostgres(t)
	src := peers.NewPostgresSource(db, time.Minute)
	ctx := context.Background()

	id := uniqueID("peer")
	pos := ring.Of(id)
	if err := src.Announce(ctx, peers.Peer{ID: id, Position: pos, Address: "10.0.0.1:7000", AcceptsIndex: true}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	list, err := src.Peers(ctx)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	var found bool
	for _, p := range list {
		if p.ID == id {
			found = true
			if p.Position != pos || !p.AcceptsIndex {
				t.Errorf("unexpected peer %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("announced peer %s not listed", id)
	}

	dir := peers.NewDirectory("self", nil)
	if err := dir.Refresh(ctx, src); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	targets, err := dir.SelectTargets(ctx, pos, 1)
	if err != nil {
		t.Fatalf("select targets: %v", err)
	}
	if targets[0].ID != id {
		t.Errorf("expected the peer at the start position first, got %s", targets[0].ID)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
