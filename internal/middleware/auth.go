package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"threatsense/internal/config"
)

// UnauthorizedEmitter receives an event for every rejected request so
// credential probing is visible in the event stream.
type UnauthorizedEmitter interface {
	LogUnauthorizedAccess(userID, orgID, role, ip, userAgent, path, method string) error
}

// APIKeyAuth authenticates service callers by API key. Keys are stored as
// bcrypt hashes in configuration; the plaintext never touches disk.
type APIKeyAuth struct {
	cfg        config.AuthConfig
	trustProxy bool
	logger     *slog.Logger
}

// NewAPIKeyAuth creates the authenticator. trustProxy controls whether
// forwarded-for headers are used for the logged client address.
func NewAPIKeyAuth(cfg config.AuthConfig, trustProxy bool, logger *slog.Logger) *APIKeyAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyAuth{cfg: cfg, trustProxy: trustProxy, logger: logger}
}

// Verify checks a presented key against the configured hashes and returns
// the matching key id.
func (a *APIKeyAuth) Verify(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}
	for _, key := range a.cfg.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(presented)) == nil {
			return key.ID, true
		}
	}
	return "", false
}

// Authenticate wraps a handler with API key verification. Rejections are
// emitted as unauthorized_access_attempt events; emitter may be nil.
func (a *APIKeyAuth) Authenticate(emitter UnauthorizedEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			keyID, ok := a.Verify(r.Header.Get("X-API-Key"))
			if !ok {
				ip := ClientIP(r, a.trustProxy)
				a.logger.Warn("request rejected, invalid api key",
					"path", r.URL.Path,
					"ip", ip)
				if emitter != nil {
					if err := emitter.LogUnauthorizedAccess("", "", "", ip, r.UserAgent(), r.URL.Path, r.Method); err != nil {
						a.logger.Warn("unauthorized event dropped", "error", err)
					}
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			w.Header().Set("X-Authenticated-Key", keyID)
			next.ServeHTTP(w, r)
		})
	}
}
