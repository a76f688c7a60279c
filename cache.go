package querybus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a read-through decorator over direct dispatch. Hits skip the bus
// entirely; misses dispatch and store the response.
//
// Entries are keyed by query name, response shape, and a SHA-256 digest of
// the JSON-marshaled payload, and expire after a fixed TTL. Queries whose
// payload cannot be marshaled bypass the cache, and errors are never
// cached.
//
// The cache is safe for concurrent use. It suits read-heavy queries whose
// answers may be slightly stale; anything needing live data should go
// through the bus directly or via a subscription query.
type Cache struct {
	bus *Bus
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

type cacheEntry struct {
	resp      *Response
	expiresAt time.Time
}

// NewCache creates a response cache over bus holding up to size entries,
// each valid for ttl.
func NewCache(bus *Bus, size int, ttl time.Duration) (*Cache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{bus: bus, lru: c, ttl: ttl}, nil
}

// Query answers from the cache when a fresh entry exists, dispatching on
// the underlying bus otherwise.
func (c *Cache) Query(ctx context.Context, q *Query) (*Response, error) {
	key, ok := c.key(q)
	if !ok {
		return c.bus.Query(ctx, q)
	}
	if e, hit := c.lru.Get(key); hit {
		if time.Now().Before(e.expiresAt) {
			return e.resp, nil
		}
		c.lru.Remove(key)
	}
	resp, err := c.bus.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, cacheEntry{resp: resp, expiresAt: time.Now().Add(c.ttl)})
	return resp, nil
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) key(q *Query) (string, bool) {
	payload, err := json.Marshal(q.Payload)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(payload)
	return q.Name + "|" + q.ResponseType.String() + ":" + hex.EncodeToString(sum[:8]), true
}
