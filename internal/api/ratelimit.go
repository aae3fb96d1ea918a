package api

import (
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// keyedLimiter gives every key its own token bucket.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// rateLimit rejects requests over the owner's budget with 429.
func rateLimit(l *keyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := ownerFrom(r.Context())
			if !l.Allow(owner) {
				zap.L().Warn("api: rate limit exceeded",
					zap.String("owner_id", owner),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusTooManyRequests, "too many uploads, try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
