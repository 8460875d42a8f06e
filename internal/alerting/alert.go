// Package alerting manages the lifecycle of security alerts raised for
// high-severity events and fans them out to notification channels.
package alerting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/schema"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusAcknowledged  AlertStatus = "acknowledged"
	StatusResolved      AlertStatus = "resolved"
	StatusFalsePositive AlertStatus = "false_positive"
)

// ErrInvalidTransition is returned when a status update violates the
// lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// ErrAlertNotFound is returned when no alert matches the given id.
var ErrAlertNotFound = errors.New("alert not found")

// transitions lists the permitted moves. Terminal states have no entry.
var transitions = map[AlertStatus][]AlertStatus{
	StatusOpen:         {StatusAcknowledged, StatusResolved, StatusFalsePositive},
	StatusAcknowledged: {StatusResolved, StatusFalsePositive},
}

// IsValid reports whether the status is one of the four lifecycle states.
func (s AlertStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// CanTransition reports whether moving from s to next is permitted.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Alert is a managed alert opened for a single security event. EventID is
// unique across alerts: one event yields at most one alert, ever. Domain
// is computed from the event type and request path on read, never
// persisted.
type Alert struct {
	ID              uuid.UUID        `json:"id"`
	EventID         uuid.UUID        `json:"event_id"`
	EventType       schema.EventType `json:"event_type"`
	Severity        schema.Severity  `json:"severity"`
	Status          AlertStatus      `json:"status"`
	Domain          Domain           `json:"domain"`
	Note            string           `json:"note"`
	ResolutionNotes string           `json:"resolution_notes,omitempty"`
	UserID          string           `json:"user_id,omitempty"`
	OrgID           string           `json:"org_id,omitempty"`
	IPAddress       string           `json:"ip_address,omitempty"`
	RequestPath     string           `json:"request_path,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	AckedBy         string           `json:"acked_by,omitempty"`
	AckedAt         *time.Time       `json:"acked_at,omitempty"`
	ClosedBy        string           `json:"closed_by,omitempty"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty"`
}

// Transition applies a status change in place, stamping the actor,
// timestamps, and any resolution notes on terminal moves. It fails with
// ErrInvalidTransition when the state machine forbids the move, including
// any change away from a terminal state.
func (a *Alert) Transition(next AlertStatus, actor, notes string, now time.Time) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	a.UpdatedAt = now
	switch next {
	case StatusAcknowledged:
		a.AckedBy = actor
		t := now
		a.AckedAt = &t
	case StatusResolved, StatusFalsePositive:
		a.ClosedBy = actor
		t := now
		a.ClosedAt = &t
		a.ResolutionNotes = notes
	}
	return nil
}

// NoteFor builds the auto-generated note attached at alert creation. The
// first triggered reason wins; events that alert on base severity alone
// fall back to a generic note.
func NoteFor(severity schema.Severity, reasons []string) string {
	for _, r := range reasons {
		if r != "" {
			return "Auto-generated: " + r
		}
	}
	return fmt.Sprintf("Auto-generated %s event", severity)
}
