package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type actorLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitByIP applies per-IP rate limiting for unauthenticated
// endpoints. Uses chi's RealIP middleware value via r.RemoteAddr.
// Stale entries are cleaned up every 10 minutes.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newLimiterTable(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(r.RemoteAddr) {
				http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies per-actor rate limiting on authenticated routes.
// Requests without an actor in context pass through; Auth runs first
// and already rejected them if credentials were required.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	limiters := newLimiterTable(ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := ActorIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !limiters.allow(actorID) {
				http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type limiterTable struct {
	mu       sync.Mutex
	limiters map[string]*actorLimiter
	rps      float64
	burst    int
}

// newLimiterTable builds a keyed limiter map with background cleanup of
// stale entries to prevent unbounded memory growth.
func newLimiterTable(ctx context.Context, requestsPerSecond float64, burst int) *limiterTable {
	t := &limiterTable{
		limiters: make(map[string]*actorLimiter),
		rps:      requestsPerSecond,
		burst:    burst,
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				cutoff := time.Now().Add(-30 * time.Minute)
				for key, al := range t.limiters {
					if al.lastAccess.Before(cutoff) {
						delete(t.limiters, key)
					}
				}
				t.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return t
}

func (t *limiterTable) allow(key string) bool {
	t.mu.Lock()
	al, ok := t.limiters[key]
	if !ok {
		al = &actorLimiter{
			limiter:    rate.NewLimiter(rate.Limit(t.rps), t.burst),
			lastAccess: time.Now(),
		}
		t.limiters[key] = al
	} else {
		al.lastAccess = time.Now()
	}
	t.mu.Unlock()

	return al.limiter.Allow()
}
