package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"threatsense/internal/config"
)

type captureEmitter struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureEmitter) LogRateLimitExceeded(ip, userAgent, path, method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ip)
	return nil
}

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 3,
		WindowSize:    time.Minute,
		BurstSize:     0,
		CleanupPeriod: time.Minute,
		ExemptPaths:   []string{"/health"},
	}
}

func TestRateLimitRejectsAndEmits(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil)
	defer rl.Stop()
	emitter := &captureEmitter{}

	handler := rl.RateLimit(emitter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.9:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := do("/v1/security/events"); code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, code)
		}
	}
	if code := do("/v1/security/events"); code != http.StatusTooManyRequests {
		t.Fatalf("fourth request: code %d, want 429", code)
	}
	if len(emitter.calls) != 1 || emitter.calls[0] != "203.0.113.9" {
		t.Fatalf("emitter calls = %v", emitter.calls)
	}
}

func TestRateLimitExemptPath(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil)
	defer rl.Stop()

	handler := rl.RateLimit(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("exempt request %d: code %d", i, rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(req, true); got != "10.0.0.1" {
		t.Fatalf("ClientIP = %s", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := ClientIP(req, true); got != "198.51.100.7" {
		t.Fatalf("ClientIP with XFF = %s", got)
	}
	if got := ClientIP(req, false); got != "10.0.0.1" {
		t.Fatalf("ClientIP without proxy trust = %s, want remote address", got)
	}

	req.Header.Set("X-Forwarded-For", "garbage")
	if got := ClientIP(req, true); got != "10.0.0.1" {
		t.Fatalf("ClientIP with bad XFF = %s", got)
	}
}

// A direct caller must not be able to reset its rate-limit bucket by
// forging a forwarded-for header.
func TestRateLimitIgnoresForgedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil)
	defer rl.Stop()

	handler := rl.RateLimit(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/security/events", nil)
		req.RemoteAddr = "203.0.113.9:54321"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i < 3 && rec.Code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, rec.Code)
		}
		if i == 3 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("fourth request: code %d, want 429 despite rotating headers", rec.Code)
		}
	}
}
