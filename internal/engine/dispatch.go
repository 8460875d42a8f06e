package engine

import (
	"fmt"

	"threatsense/internal/queue"
	"threatsense/internal/schema"
)

// Dispatcher is the fire-and-forget front of the engine. Callers that must
// not block on storage push payloads into the ring buffer; consumer
// workers drain it into the engine.
type Dispatcher struct {
	buffer *queue.RingBuffer
}

// NewDispatcher creates a dispatcher over a ring buffer.
func NewDispatcher(buffer *queue.RingBuffer) *Dispatcher {
	return &Dispatcher{buffer: buffer}
}

// Enqueue hands a payload to the async pipeline. A full buffer drops the
// event and reports it; security logging must never stall the caller.
func (d *Dispatcher) Enqueue(payload *schema.EventPayload) error {
	if err := d.buffer.Push(payload); err != nil {
		return fmt.Errorf("enqueueing security event: %w", err)
	}
	return nil
}

// LoginAttempt describes an authentication attempt for the convenience
// emitters.
type LoginAttempt struct {
	UserID            string
	OrgID             string
	IP                string
	UserAgent         string
	DeviceFingerprint string
	SessionID         string
	Success           bool
}

// LogLoginAttempt emits a login_success or login_failure event.
func (d *Dispatcher) LogLoginAttempt(a LoginAttempt) error {
	eventType := schema.EventLoginFailure
	if a.Success {
		eventType = schema.EventLoginSuccess
	}
	payload := &schema.EventPayload{
		Type:              string(eventType),
		UserID:            a.UserID,
		OrgID:             a.OrgID,
		IP:                a.IP,
		UserAgent:         a.UserAgent,
		DeviceFingerprint: a.DeviceFingerprint,
	}
	if a.SessionID != "" {
		payload.Metadata = map[string]any{"sessionId": a.SessionID}
	}
	return d.Enqueue(payload)
}

// LogUnauthorizedAccess emits an unauthorized_access_attempt event for a
// denied request.
func (d *Dispatcher) LogUnauthorizedAccess(userID, orgID, role, ip, userAgent, path, method string) error {
	return d.Enqueue(&schema.EventPayload{
		Type:      string(schema.EventUnauthorizedAccess),
		UserID:    userID,
		OrgID:     orgID,
		IP:        ip,
		UserAgent: userAgent,
		Path:      path,
		Method:    method,
		Metadata:  map[string]any{"userRole": role},
	})
}

// LogRateLimitExceeded emits a rate_limit_exceeded event.
func (d *Dispatcher) LogRateLimitExceeded(ip, userAgent, path, method string) error {
	return d.Enqueue(&schema.EventPayload{
		Type:      string(schema.EventRateLimitExceeded),
		IP:        ip,
		UserAgent: userAgent,
		Path:      path,
		Method:    method,
	})
}

// LogPasswordReset emits a password_reset event.
func (d *Dispatcher) LogPasswordReset(userID, ip, userAgent string) error {
	return d.Enqueue(&schema.EventPayload{
		Type:      string(schema.EventPasswordReset),
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
	})
}

// LogSessionRevoked emits a session_revoked event.
func (d *Dispatcher) LogSessionRevoked(userID, sessionID, ip, userAgent string) error {
	return d.Enqueue(&schema.EventPayload{
		Type:      string(schema.EventSessionRevoked),
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"sessionId": sessionID},
	})
}
