// Package engine orchestrates the event logging pipeline: validation,
// sanitization, enrichment, persistence, detection, and alerting.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/alerting"
	"threatsense/internal/detect"
	"threatsense/internal/enrich"
	"threatsense/internal/sanitize"
	"threatsense/internal/schema"
	"threatsense/internal/session"
)

// EventWriter is the persistence port the engine writes events through.
type EventWriter interface {
	Insert(ctx context.Context, event *schema.SecurityEvent) error
	ApplyDetection(ctx context.Context, id uuid.UUID, severity schema.Severity, results []detect.Result) error
}

// AlertOpener opens alerts for events whose severity crossed the
// threshold.
type AlertOpener interface {
	OpenForEvent(ctx context.Context, event *schema.SecurityEvent, reasons []string) (*alerting.Alert, error)
}

// Engine runs the full pipeline for one event at a time. Safe for
// concurrent use.
type Engine struct {
	validator *schema.Validator
	enricher  *enrich.Enricher
	events    EventWriter
	registry  detect.Registry
	alerts    AlertOpener
	sessions  session.Store
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an engine. sessions may be nil when session origin tracking is
// disabled.
func New(validator *schema.Validator, enricher *enrich.Enricher, events EventWriter, registry detect.Registry, alerts AlertOpener, sessions session.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		validator: validator,
		enricher:  enricher,
		events:    events,
		registry:  registry,
		alerts:    alerts,
		sessions:  sessions,
		logger:    logger.With("component", "engine"),
		now:       time.Now,
	}
}

// LogSecurityEvent runs the pipeline for one payload and returns the
// persisted event with its resolved severity, plus whether an alert was
// opened for it. The write of the event itself is the only fatal step:
// detection backfill and alerting degrade to logged errors so a raised
// severity is never lost to a failing side channel, and a failed persist
// means the caller must know.
func (e *Engine) LogSecurityEvent(ctx context.Context, payload *schema.EventPayload) (*schema.SecurityEvent, bool, error) {
	if err := e.validator.Validate(payload); err != nil {
		return nil, false, fmt.Errorf("invalid event payload: %w", err)
	}

	// Session id and role are consumed by rules but redacted from the
	// stored record, so they must be read before sanitization.
	sessionID := payload.SessionID()
	userRole := payload.UserRole()

	payload.Metadata = sanitize.Metadata(payload.Metadata)

	event := schema.NewSecurityEvent(payload)
	event.CreatedAt = e.now().UTC()
	event.Metadata = payload.Metadata

	geo := e.enricher.Geo(ctx, event.IPAddress)
	event.GeoCountry = geo.Country
	event.GeoRegion = geo.Region
	event.GeoCity = geo.City
	if device := enrich.ParseUserAgent(event.UserAgent); device.Browser != "" || device.OS != "" {
		for k, v := range device.Metadata() {
			event.Metadata[k] = v
		}
	}

	if err := e.events.Insert(ctx, event); err != nil {
		return nil, false, fmt.Errorf("persisting security event: %w", err)
	}

	results := e.registry.Evaluate(ctx, &detect.Context{
		EventID:           event.ID,
		EventType:         event.Type,
		Timestamp:         event.CreatedAt,
		UserID:            event.UserID,
		OrgID:             event.OrgID,
		IP:                event.IPAddress,
		UserAgent:         event.UserAgent,
		DeviceFingerprint: event.DeviceFingerprint,
		GeoCountry:        event.GeoCountry,
		Path:              event.RequestPath,
		Method:            event.RequestMethod,
		StatusCode:        event.StatusCode,
		SessionID:         sessionID,
		UserRole:          userRole,
	})

	resolved := detect.Resolve(event.Severity, results)
	triggered := detect.Triggered(results)
	if resolved != event.Severity || len(triggered) > 0 {
		// Rule metadata is persisted alongside the event, so the same
		// redaction policy applies to it.
		for i := range results {
			if results[i].Triggered && len(results[i].Metadata) > 0 {
				results[i].Metadata = sanitize.Metadata(results[i].Metadata)
			}
		}
		if err := e.events.ApplyDetection(ctx, event.ID, resolved, results); err != nil {
			e.logger.Error("detection backfill failed",
				"event_id", event.ID,
				"error", err)
		}
		event.Severity = resolved
	}

	e.trackSession(ctx, event, sessionID)

	alertCreated := false
	if schema.ShouldAlert(event.Severity) {
		reasons := make([]string, 0, len(triggered))
		for _, r := range triggered {
			reasons = append(reasons, r.Reason)
		}
		alert, err := e.alerts.OpenForEvent(ctx, event, reasons)
		if err != nil {
			e.logger.Error("alert creation failed",
				"event_id", event.ID,
				"severity", event.Severity,
				"error", err)
		}
		alertCreated = err == nil && alert != nil
	}

	e.logger.Info("security event logged",
		"event_id", event.ID,
		"type", event.Type,
		"severity", event.Severity,
		"triggered_rules", len(triggered),
		"alert_created", alertCreated)

	return event, alertCreated, nil
}

// trackSession records or revokes session origins so later token
// refreshes can be compared against where the session began. Best effort.
func (e *Engine) trackSession(ctx context.Context, event *schema.SecurityEvent, sessionID string) {
	if e.sessions == nil || sessionID == "" {
		return
	}
	var err error
	switch event.Type {
	case schema.EventLoginSuccess:
		err = e.sessions.Establish(ctx, &session.Record{
			SessionID:         sessionID,
			UserID:            event.UserID,
			IPAddress:         event.IPAddress,
			UserAgent:         event.UserAgent,
			DeviceFingerprint: event.DeviceFingerprint,
			EstablishedAt:     event.CreatedAt,
		})
	case schema.EventSessionRevoked:
		err = e.sessions.Revoke(ctx, sessionID)
	default:
		return
	}
	if err != nil {
		e.logger.Warn("session origin tracking failed",
			"event_id", event.ID,
			"session_id", sessionID,
			"error", err)
	}
}
