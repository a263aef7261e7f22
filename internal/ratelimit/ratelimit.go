// Package ratelimit applies fixed-window per-key request limits to the public signing routes.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/metrics"
	"docsign-engine/backend/internal/platform/httpx"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisLimiter counts requests in Redis with INCR and a window-length expiry, so limits hold
// across server instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter returns a limiter allowing limit requests per window for each key.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "docsign:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}
	k := l.prefix + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if incr.Val() > int64(l.limit) {
		retry := ttl.Val()
		if retry <= 0 {
			retry = l.window
		}
		return false, retry, nil
	}
	return true, 0, nil
}

// MemoryLimiter is a single-process fixed-window limiter used when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewMemoryLimiter returns a limiter allowing limit requests per window for each key.
func NewMemoryLimiter(limit int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  w,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.limit <= 0 {
		return true, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		if len(l.windows) > 10000 {
			l.evict(now)
		}
		l.windows[key] = &window{start: now, count: 1}
		return true, 0, nil
	}
	w.count++
	if w.count > l.limit {
		return false, w.start.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

// evict drops windows that have ended. Called with mu held.
func (l *MemoryLimiter) evict(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}

// Middleware limits requests per key. Limiter errors fail open and are logged.
func Middleware(l Limiter, keyFunc func(*http.Request) string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			allowed, retryAfter, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable; allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RateLimitedTotal.Inc()
				httpx.SetRetryAfter(w, retryAfter)
				httpx.WriteError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
