// Package schema defines the canonical security event model for ThreatSense.
// Every ingested event is normalized to this structure before storage.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security-relevant occurrence.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailure       EventType = "login_failure"
	EventTokenRefresh       EventType = "token_refresh"
	EventUnauthorizedAccess EventType = "unauthorized_access_attempt"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventPasswordReset      EventType = "password_reset"
	EventSessionRevoked     EventType = "session_revoked"
)

// IsValid checks if the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventLoginSuccess, EventLoginFailure, EventTokenRefresh,
		EventUnauthorizedAccess, EventRateLimitExceeded,
		EventPasswordReset, EventSessionRevoked:
		return true
	}
	return false
}

// SecurityEvent is the immutable forensic record of something that happened.
// It is created once at ingestion and mutated exactly once afterwards to
// attach detection results; the resolved severity never decreases.
type SecurityEvent struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Type     EventType `json:"type"`
	Severity Severity  `json:"severity"`

	// Actor identity. Either may be absent for anonymous traffic.
	UserID string `json:"user_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`

	// Network origin.
	IPAddress         string `json:"ip_address"`
	UserAgent         string `json:"user_agent"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`

	// Enriched geo attributes. Empty when enrichment failed or was skipped.
	GeoCountry string `json:"geo_country,omitempty"`
	GeoRegion  string `json:"geo_region,omitempty"`
	GeoCity    string `json:"geo_city,omitempty"`

	// Request context.
	RequestPath   string `json:"request_path,omitempty"`
	RequestMethod string `json:"request_method,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`

	// Metadata is sanitized before the event is persisted; it never contains
	// raw secrets, tokens, passwords, or unmasked emails.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventPayload is the caller-supplied input to LogSecurityEvent.
type EventPayload struct {
	Type              string         `json:"type" validate:"required,event_type"`
	Severity          string         `json:"severity,omitempty" validate:"omitempty,oneof=info low medium high critical"`
	UserID            string         `json:"user_id,omitempty" validate:"max=128"`
	OrgID             string         `json:"org_id,omitempty" validate:"max=128"`
	IP                string         `json:"ip" validate:"required,ip"`
	UserAgent         string         `json:"user_agent" validate:"required,max=1024"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty" validate:"max=256"`
	Path              string         `json:"path,omitempty" validate:"max=1024"`
	Method            string         `json:"method,omitempty" validate:"max=16"`
	StatusCode        int            `json:"status_code,omitempty" validate:"omitempty,min=100,max=599"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// BaseSeverity returns the declared severity, defaulting to info.
func (p *EventPayload) BaseSeverity() Severity {
	return ParseSeverity(p.Severity)
}

// SessionID extracts the session id carried in payload metadata, if any.
func (p *EventPayload) SessionID() string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["sessionId"].(string); ok {
		return v
	}
	return ""
}

// UserRole extracts the actor's declared role from payload metadata, if any.
func (p *EventPayload) UserRole() string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["userRole"].(string); ok {
		return v
	}
	return ""
}

// NewSecurityEvent builds a SecurityEvent from a payload with a fresh id
// and timestamp. Metadata is attached by the caller after sanitization.
func NewSecurityEvent(p *EventPayload) *SecurityEvent {
	return &SecurityEvent{
		ID:                uuid.New(),
		CreatedAt:         time.Now().UTC(),
		Type:              EventType(p.Type),
		Severity:          p.BaseSeverity(),
		UserID:            p.UserID,
		OrgID:             p.OrgID,
		IPAddress:         p.IP,
		UserAgent:         p.UserAgent,
		DeviceFingerprint: p.DeviceFingerprint,
		RequestPath:       p.Path,
		RequestMethod:     p.Method,
		StatusCode:        p.StatusCode,
	}
}
