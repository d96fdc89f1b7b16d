package block

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PairPrefix is the Redis key prefix for cached CanMessage answers.
	// Key layout: pair:<sender>:<recipient> -> "1" (allowed) / "0" (blocked).
	PairPrefix = "block:pair:"

	// cacheTTL bounds the staleness of cached answers when an invalidation
	// is lost (e.g. a Redis hiccup during unblock).
	cacheTTL = 30 * time.Second
)

// Cache is a Redis-backed read-through cache for the CanMessage hot path.
// It is advisory: all methods fail open, so a Redis outage degrades to
// PostgreSQL lookups rather than blocking traffic.
type Cache struct {
	client *redis.Client
}

// NewCache creates a cache using the provided Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Lookup returns the cached CanMessage answer for the ordered pair and
// whether a cached answer existed.
func (c *Cache) Lookup(ctx context.Context, senderID, recipientID string) (allowed, ok bool) {
	val, err := c.client.Get(ctx, pairKey(senderID, recipientID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false
	}
	if err != nil {
		log.Printf("[block-cache] GET error: %v (falling through)", err)
		return false, false
	}
	return val == "1", true
}

// Store records the CanMessage answer for the ordered pair with a short TTL.
func (c *Cache) Store(ctx context.Context, senderID, recipientID string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, pairKey(senderID, recipientID), val, cacheTTL).Err(); err != nil {
		log.Printf("[block-cache] SET error: %v", err)
	}
}

// Invalidate drops the cached answers for both directions of a pair.
// Called on every block and unblock so a state change is visible
// immediately rather than after TTL expiry.
func (c *Cache) Invalidate(ctx context.Context, a, b string) {
	if err := c.client.Del(ctx, pairKey(a, b), pairKey(b, a)).Err(); err != nil {
		log.Printf("[block-cache] DEL error: %v", err)
	}
}

func pairKey(from, to string) string {
	return PairPrefix + from + ":" + to
}
