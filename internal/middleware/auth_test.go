package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"threatsense/internal/config"
)

type captureUnauthorized struct {
	paths []string
}

func (c *captureUnauthorized) LogUnauthorizedAccess(userID, orgID, role, ip, userAgent, path, method string) error {
	c.paths = append(c.paths, path)
	return nil
}

func authConfigWithKey(t *testing.T, plaintext string) config.AuthConfig {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKey{{ID: "ingest-svc", Hash: string(hash)}},
	}
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth(authConfigWithKey(t, "k-123"), false, nil)
	emitter := &captureUnauthorized{}

	handler := auth.Authenticate(emitter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid key passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/security/events", nil)
		req.Header.Set("X-API-Key", "k-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
	})

	t.Run("wrong key rejected and emitted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/security/events", nil)
		req.Header.Set("X-API-Key", "wrong")
		req.RemoteAddr = "203.0.113.9:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d, want 401", rec.Code)
		}
		if len(emitter.paths) != 1 {
			t.Fatalf("emitted %d events, want 1", len(emitter.paths))
		}
	})

	t.Run("missing key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/security/events", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d, want 401", rec.Code)
		}
	})
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	auth := NewAPIKeyAuth(config.AuthConfig{Enabled: false}, false, nil)
	handler := auth.Authenticate(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}
