package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dht-index-distribution/internal/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/dht-index-distribution/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "doc:"

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Purge(ctx context.Context, pattern string) (int64, error)
}

// Cached resolves through Redis before falling back to its backend.
// Concurrent misses for one id share a single backend call. Not-found
// results are never cached so a document stored later becomes visible at
// once.
type Cached struct {
	backend Resolver
	kv      KV
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func NewCached(backend Resolver, kv KV, ttl time.Duration) *Cached {
	return &Cached{
		backend: backend,
		kv:      kv,
		ttl:     ttl,
		logger:  slog.Default().With("component", "document-cache"),
	}
}

func (c *Cached) get(ctx context.Context, docID string) (index.Document, bool) {
	key := keyPrefix + docID
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return index.Document{}, false
	}
	var doc index.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return index.Document{}, false
	}
	return doc, true
}

func (c *Cached) set(ctx context.Context, doc index.Document) {
	key := keyPrefix + doc.DocID
	data, err := json.Marshal(doc)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.kv.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cached) Resolve(ctx context.Context, docID string) (index.Document, error) {
	if doc, ok := c.get(ctx, docID); ok {
		c.hits.Add(1)
		return doc, nil
	}
	c.misses.Add(1)
	val, err, _ := c.group.Do(docID, func() (any, error) {
		doc, err := c.backend.Resolve(ctx, docID)
		if err != nil {
			return index.Document{}, err
		}
		c.set(ctx, doc)
		return doc, nil
	})
	if err != nil {
		return index.Document{}, err
	}
	return val.(index.Document), nil
}

// UpsertMany writes through to the backend and drops the cached copies.
func (c *Cached) UpsertMany(ctx context.Context, docs []index.Document) error {
	w, ok := c.backend.(Writer)
	if !ok {
		return fmt.Errorf("resolver backend %T is read-only", c.backend)
	}
	if err := w.UpsertMany(ctx, docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = keyPrefix + d.DocID
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Error("cache invalidation failed", "keys", len(keys), "error", err)
	}
	return nil
}

// Invalidate removes every cached document.
func (c *Cached) Invalidate(ctx context.Context) error {
	deleted, err := c.kv.Purge(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating document cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
