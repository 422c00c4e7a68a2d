package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/scrapeflow/config"
	"github.com/use-agent/scrapeflow/models"
)

const (
	limiterIdleTTL       = time.Hour
	limiterSweepInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns per-identity (API key or client IP) token-bucket rate
// limiting middleware. Limiters idle for an hour are evicted every five
// minutes until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	var mu sync.Mutex
	limiters := make(map[string]*limiterEntry)

	getLimiter := func(identity string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		entry, ok := limiters[identity]
		if !ok {
			entry = &limiterEntry{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
			}
			limiters[identity] = entry
		}
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-limiterIdleTTL)
				mu.Lock()
				for id, entry := range limiters {
					if entry.lastSeen.Before(cutoff) {
						delete(limiters, id)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		identity := c.GetString(apiKeyContextKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		if !getLimiter(identity).Allow() {
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		c.Next()
	}
}
