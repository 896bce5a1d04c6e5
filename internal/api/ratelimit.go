package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/specforge/internal/lru"
	"github.com/p-blackswan/specforge/internal/metrics"
)

const (
	maxRateLimitClients = 10000
	idleClientTTL       = 10 * time.Minute
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   float64 // requests per second
	Burst int     // burst size
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rps,
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// rateLimiter keeps one bucket per client IP. Idle clients expire from the
// cache and the least recently seen are evicted when it is full.
type rateLimiter struct {
	cfg     RateLimitConfig
	clients *lru.Cache[string, *tokenBucket]
	metrics *metrics.Metrics
	now     func() time.Time
}

func newRateLimiter(cfg RateLimitConfig, m *metrics.Metrics) *rateLimiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &rateLimiter{
		cfg: cfg,
		clients: lru.New[string, *tokenBucket](maxRateLimitClients,
			lru.WithTTL[string, *tokenBucket](idleClientTTL),
			lru.WithOnEvict[string, *tokenBucket](func(string, *tokenBucket) {
				m.RecordRateLimitEviction()
			})),
		metrics: m,
		now:     time.Now,
	}
}

func (rl *rateLimiter) allow(client string) bool {
	now := rl.now()
	bucket, loaded := rl.clients.GetOrPut(client, func() *tokenBucket {
		return newTokenBucket(rl.cfg.RPS, rl.cfg.Burst, now)
	})
	if loaded {
		// Refresh the idle deadline.
		rl.clients.Put(client, bucket)
	}
	rl.metrics.SetRateLimitCache(rl.clients.Len(), rl.clients.Metrics().HitRate())
	return bucket.allow(now)
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
// m may be nil.
func NewRateLimitMiddleware(cfg RateLimitConfig, m *metrics.Metrics) fiber.Handler {
	rl := newRateLimiter(cfg, m)
	return func(c *fiber.Ctx) error {
		if isHealthPath(c.Path()) {
			return c.Next()
		}
		if !rl.allow(c.IP()) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
