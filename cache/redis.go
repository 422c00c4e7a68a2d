package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/use-agent/scrapeflow/models"
)

const redisKeyPrefix = "scrapeflow:cache:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Redis is a Store backed by a Redis server. Redis expires keys on its
// own, so Sweep has nothing to do.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, key string) (*models.ScrapeResult, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("redis cache get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var e models.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("redis cache entry undecodable", "key", key, "error", err)
		return nil, false
	}
	if e.Result == nil || e.Expired(r.now()) {
		return nil, false
	}
	return e.Result, true
}

func (r *Redis) Put(ctx context.Context, key string, result *models.ScrapeResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(&models.CacheEntry{
		Key:       key,
		Result:    result,
		CreatedAt: r.now(),
		TTL:       ttl,
	})
	if err != nil {
		return err
	}
	// SETEX is atomic and sets the key with its expiry.
	return r.client.SetEx(ctx, redisKeyPrefix+key, raw, ttl).Err()
}

func (r *Redis) Sweep() int { return 0 }

func (r *Redis) Close() error { return r.client.Close() }
