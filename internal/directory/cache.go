package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logbook/api/internal/doctree"
)

// DefaultCacheTTL bounds how long a session keeps the candidate list it opened with.
const DefaultCacheTTL = 10 * time.Minute

// CandidateCache keeps the candidate list of each editing session in Redis so every keystroke of a
// session resolves against the same list.
type CandidateCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCandidateCache connects to Redis at redisURL.
func NewCandidateCache(redisURL string, ttl time.Duration) (*CandidateCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCandidateCacheWithClient(client, ttl), nil
}

func NewCandidateCacheWithClient(client *redis.Client, ttl time.Duration) *CandidateCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CandidateCache{client: client, prefix: "candidates:", ttl: ttl}
}

func (c *CandidateCache) key(session string) string {
	return c.prefix + session
}

// Get returns the cached list of a session and whether there was one.
func (c *CandidateCache) Get(ctx context.Context, session string) ([]doctree.Mentionable, bool, error) {
	raw, err := c.client.Get(ctx, c.key(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get candidates: %w", err)
	}
	var list []doctree.Mentionable
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false, fmt.Errorf("unmarshal candidates: %w", err)
	}
	return list, true, nil
}

func (c *CandidateCache) Put(ctx context.Context, session string, list []doctree.Mentionable) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	if err := c.client.Set(ctx, c.key(session), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	return nil
}

func (c *CandidateCache) Invalidate(ctx context.Context, session string) error {
	if err := c.client.Del(ctx, c.key(session)).Err(); err != nil {
		return fmt.Errorf("invalidate candidates: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached session list.
func (c *CandidateCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan candidates: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate candidates: %w", err)
	}
	return nil
}

func (c *CandidateCache) Close() error {
	return c.client.Close()
}

func (c *CandidateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
