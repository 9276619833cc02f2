package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipsignal/backend/pkg/response"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per caller: the authenticated user when known, the client IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	r        rate.Limit
	burst    int
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		r:        r,
		burst:    burst,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.limiters[key]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.limiters[key] = &clientLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// StartCleanup drops limiters idle for longer than idle, checking every interval, until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep(idle)
			}
		}
	}()
}

func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.limiters {
		if time.Since(v.lastSeen) > idle {
			delete(rl.limiters, key)
		}
	}
}

// Limit is the middleware handler that enforces the rate limit with an enveloped 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return rl.LimitWith(func(w http.ResponseWriter) {
		response.Error(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	})(next)
}

// LimitWith enforces the rate limit and answers rejected requests with reject.
func (rl *RateLimiter) LimitWith(reject func(w http.ResponseWriter)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + realIP(r)
			if userID, ok := GetUserID(r.Context()); ok {
				key = "user:" + userID.String()
			}
			if !rl.get(key).Allow() {
				reject(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// realIP extracts the client IP from proxy headers, falling back to RemoteAddr.
func realIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
