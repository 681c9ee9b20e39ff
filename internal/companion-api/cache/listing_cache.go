package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

// Cache guarda listagens somente leitura e lê o último resultado publicado pelo feed
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func New(r *redis.Client, ttl time.Duration) *Cache { return &Cache{R: r, TTL: ttl} }

func keyListing(name string) string { return "listing:" + name }

// GetListing devolve (false, nil) em cache miss
func (c *Cache) GetListing(ctx context.Context, name string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, keyListing(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *Cache) SetListing(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, keyListing(name), b, c.TTL).Err()
}

// LatestResult lê o evento gravado pelo results-feed-worker
func (c *Cache) LatestResult(ctx context.Context, matchID int64) (json.RawMessage, bool, error) {
	b, err := c.R.Get(ctx, events.LatestKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(b), true, nil
}

// Ping é usado pelo /healthz
func (c *Cache) Ping(ctx context.Context) error {
	return c.R.Ping(ctx).Err()
}
