// Package ratelimit provides per-client token bucket rate limiting, with a
// separate budget for state-changing requests.
package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/raffle/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled bool
	// RequestsPerMin is the read budget per client
	RequestsPerMin int
	// WriteRequestsPerMin is the budget for POST requests; 0 uses RequestsPerMin
	WriteRequestsPerMin int
	BurstSize           int
	// CleanupMinutes is how long an idle client's buckets are kept
	CleanupMinutes int
}

type client struct {
	read     *rate.Limiter
	write    *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client limiters.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	readRate  rate.Limit
	writeRate rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// New creates a RateLimiter and starts its cleanup loop.
func New(cfg Config) *RateLimiter {
	writeRPM := cfg.WriteRequestsPerMin
	if writeRPM <= 0 {
		writeRPM = cfg.RequestsPerMin
	}
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		clients:   make(map[string]*client),
		readRate:  perMinute(cfg.RequestsPerMin),
		writeRate: perMinute(writeRPM),
		burst:     burst,
		idle:      idle,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *RateLimiter) limiter(ip string, write bool) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{
			read:  rate.NewLimiter(rl.readRate, rl.burst),
			write: rate.NewLimiter(rl.writeRate, rl.burst),
		}
		rl.clients[ip] = c
	}
	c.lastSeen = rl.now()
	if write {
		return c.write
	}
	return c.read
}

// exempt reports paths that are never limited: probes, scrapes and the
// long-lived event stream.
func exempt(path string) bool {
	switch path {
	case "/health", "/healthz", "/readyz", "/metrics":
		return true
	}
	return strings.HasSuffix(path, "/events/stream")
}

// Middleware returns an HTTP middleware that rate limits requests per client.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			lim := rl.limiter(realip.GetClientIP(r), r.Method == http.MethodPost)
			if !lim.Allow() {
				writeLimited(w, retryAfter(lim.Limit()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is the whole number of seconds until one token is available.
func retryAfter(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(limit)))
}

func writeLimited(w http.ResponseWriter, seconds int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "RATE_LIMIT_EXCEEDED",
			"message": "Too many requests. Please try again later.",
		},
	})
}

// Middleware builds a limiter from cfg. The returned stop function releases
// the cleanup goroutine; both are no-ops when limiting is disabled.
func Middleware(cfg Config) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, func() {}
	}
	rl := New(cfg)
	return rl.Middleware(), rl.Stop
}
