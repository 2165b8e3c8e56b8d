package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/zhouzirui/chatdesk/pkg/utils"
)

type visitor struct {
	count    int
	lastSeen time.Time
}

// RateLimiter caps requests per client address in a fixed window.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter allows limit requests per window. Stale visitors are
// swept until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()

	return rl
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > rl.window {
			delete(rl.visitors, ip)
		}
	}
}

// Allow records one request from key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok || now.Sub(v.lastSeen) > rl.window {
		rl.visitors[key] = &visitor{count: 1, lastSeen: now}
		return true
	}

	v.count++
	v.lastSeen = now
	return v.count <= rl.limit
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		if !rl.Allow(ip) {
			utils.RespondError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
