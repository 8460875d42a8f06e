// Package middleware provides HTTP middleware for the event API.
package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"threatsense/internal/config"
)

// RateLimitEmitter receives an event for every rejected request so abuse
// shows up in the event stream itself.
type RateLimitEmitter interface {
	LogRateLimitExceeded(ip, userAgent, path, method string) error
}

// RateLimiter implements a fixed window rate limiter with per-IP tracking
// and automatic cleanup of expired entries.
type RateLimiter struct {
	cfg         config.RateLimitConfig
	clients     map[string]*clientState
	mu          sync.Mutex
	exemptPaths map[string]bool
	stopCleanup chan struct{}
	logger      *slog.Logger

	limited atomic.Uint64
	allowed atomic.Uint64
}

type clientState struct {
	count     int64
	windowEnd time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	exemptPaths := make(map[string]bool)
	for _, path := range cfg.ExemptPaths {
		exemptPaths[path] = true
	}
	rl := &RateLimiter{
		cfg:         cfg,
		clients:     make(map[string]*clientState),
		exemptPaths: exemptPaths,
		stopCleanup: make(chan struct{}),
		logger:      logger,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request from the given IP fits in its window.
// Returns (allowed, remaining requests, reset time).
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	client, exists := rl.clients[ip]
	if !exists {
		client = &clientState{windowEnd: now.Add(rl.cfg.WindowSize)}
		rl.clients[ip] = client
	}
	rl.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()

	if now.After(client.windowEnd) {
		client.count = 0
		client.windowEnd = now.Add(rl.cfg.WindowSize)
	}

	limit := int64(rl.cfg.RequestsPerIP + rl.cfg.BurstSize)
	if client.count >= limit {
		return false, 0, client.windowEnd
	}
	client.count++
	remaining := limit - client.count
	return true, int(remaining), client.windowEnd
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	expiredThreshold := time.Now().Add(-rl.cfg.WindowSize * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, client := range rl.clients {
		client.mu.Lock()
		expired := client.windowEnd.Before(expiredThreshold)
		client.mu.Unlock()
		if expired {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.clients))
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// IsExempt checks if a path is exempt from rate limiting.
func (rl *RateLimiter) IsExempt(path string) bool {
	return rl.exemptPaths[path]
}

// Metrics reports allow/deny counters.
func (rl *RateLimiter) Metrics() (limited, allowed uint64) {
	return rl.limited.Load(), rl.allowed.Load()
}

// ClientIP extracts the client address. X-Forwarded-For is honored only
// when trustProxy is set, since a direct caller can forge the header to
// pick its own rate-limit and detection key.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip, ok := firstForwardedIP(fwd); ok {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstForwardedIP(header string) (string, bool) {
	first, _, _ := strings.Cut(header, ",")
	ip := net.ParseIP(strings.TrimSpace(first))
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}

// RateLimit wraps a handler with per-IP limiting. Every rejected request
// is emitted as a rate_limit_exceeded event through the emitter, which may
// be nil in tests.
func (rl *RateLimiter) RateLimit(emitter RateLimitEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.cfg.Enabled || rl.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, rl.cfg.TrustProxy)
			allowed, remaining, resetTime := rl.Allow(ip)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.cfg.RequestsPerIP+rl.cfg.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

			if !allowed {
				rl.limited.Add(1)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(resetTime).Seconds())+1))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)

				if emitter != nil {
					if err := emitter.LogRateLimitExceeded(ip, r.UserAgent(), r.URL.Path, r.Method); err != nil {
						rl.logger.Warn("rate limit event dropped", "ip", ip, "error", err)
					}
				}
				return
			}
			rl.allowed.Add(1)
			next.ServeHTTP(w, r)
		})
	}
}
