package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

// RedisCache guarda o último resultado liquidado de cada partida
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

// SetLatest sobrescreve o último evento da partida
func (r *RedisCache) SetLatest(ctx context.Context, e events.MatchSettled) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, events.LatestKey(e.MatchID), b, r.TTL).Err()
}
