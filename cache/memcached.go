package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/use-agent/scrapeflow/models"
)

// Memcached is a Store backed by one or more memcached servers. Items
// carry their own expiration, so Sweep has nothing to do.
type Memcached struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcached connects to a comma-separated server list and pings it.
func NewMemcached(servers string) (*Memcached, error) {
	ss := new(memcache.ServerList)
	if err := ss.SetServers(strings.Split(servers, ",")...); err != nil {
		return nil, err
	}
	client := memcache.NewFromSelector(ss)
	if err := client.Ping(); err != nil {
		return nil, err
	}
	return &Memcached{client: client, now: time.Now}, nil
}

func (m *Memcached) Get(_ context.Context, key string) (*models.ScrapeResult, bool) {
	item, err := m.client.Get(memcacheKey(key))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("memcached get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var e models.CacheEntry
	if err := json.Unmarshal(item.Value, &e); err != nil {
		slog.Warn("memcached entry undecodable", "key", key, "error", err)
		return nil, false
	}
	// Guard against hash collisions as well as expiry.
	if e.Key != key || e.Result == nil || e.Expired(m.now()) {
		return nil, false
	}
	return e.Result, true
}

func (m *Memcached) Put(_ context.Context, key string, result *models.ScrapeResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	value, err := json.Marshal(&models.CacheEntry{
		Key:       key,
		Result:    result,
		CreatedAt: m.now(),
		TTL:       ttl,
	})
	if err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{
		Key:        memcacheKey(key),
		Value:      value,
		Expiration: expirationSeconds(ttl),
	})
}

func (m *Memcached) Sweep() int { return 0 }

func (m *Memcached) Close() error { return m.client.Close() }

// memcacheKey hashes key because memcached limits keys to 250 bytes
// without spaces or control characters.
func memcacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "scrapeflow:" + hex.EncodeToString(sum[:])
}

// expirationSeconds rounds ttl up to whole seconds.
func expirationSeconds(ttl time.Duration) int32 {
	s := (ttl + time.Second - 1) / time.Second
	return int32(s)
}
