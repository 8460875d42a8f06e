// Package api exposes the HTTP surface of the detection engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"threatsense/internal/alerting"
	"threatsense/internal/engine"
	apperrors "threatsense/internal/errors"
	"threatsense/internal/queue"
	"threatsense/internal/schema"
	"threatsense/internal/storage"
)

const maxPayloadBytes = 1 << 20 // 1MB

// EventReader serves the admin read surface over persisted events.
type EventReader interface {
	List(ctx context.Context, filter storage.EventFilter) ([]*schema.SecurityEvent, error)
	Counts(ctx context.Context, since time.Time) (map[schema.Severity]int, error)
}

// AlertService is the alert surface the handler needs.
type AlertService interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, next alerting.AlertStatus, actor, notes string) (*alerting.Alert, error)
	List(ctx context.Context, filter alerting.ListFilter) ([]*alerting.Alert, error)
	RoutingMatrix(ctx context.Context) (map[alerting.Domain]int, error)
}

// Handler routes the event and alert API.
type Handler struct {
	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	events     EventReader
	alerts     AlertService
	registry   RuleNamer
	logger     *slog.Logger
	startTime  time.Time
}

// RuleNamer exposes the detection routing table for the admin surface.
type RuleNamer interface {
	RuleNames(t schema.EventType) []string
}

// NewHandler creates the API handler.
func NewHandler(eng *engine.Engine, dispatcher *engine.Dispatcher, events EventReader, alerts AlertService, registry RuleNamer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:     eng,
		dispatcher: dispatcher,
		events:     events,
		alerts:     alerts,
		registry:   registry,
		logger:     logger.With("component", "api"),
		startTime:  time.Now(),
	}
}

// Routes registers all endpoints on a mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/security/events", h.handleLogEvent)
	mux.HandleFunc("POST /v1/security/events/async", h.handleLogEventAsync)
	mux.HandleFunc("GET /v1/events", h.handleListEvents)
	mux.HandleFunc("GET /v1/events/counts", h.handleEventCounts)
	mux.HandleFunc("GET /v1/alerts", h.handleListAlerts)
	mux.HandleFunc("PATCH /v1/alerts/{id}", h.handleUpdateAlert)
	mux.HandleFunc("GET /v1/alerts/routing", h.handleRoutingMatrix)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request) (*schema.EventPayload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	var payload schema.EventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	return &payload, true
}

// handleLogEvent runs the full pipeline synchronously and reports the
// persisted event id and whether an alert was opened for it.
func (h *Handler) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}

	event, alertCreated, err := h.engine.LogSecurityEvent(r.Context(), payload)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, apperrors.SanitizeError(err).Error())
			return
		}
		h.logger.Error("event logging failed", "type", payload.Type, "error", err)
		respondError(w, http.StatusInternalServerError, apperrors.ClientMessage)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"event_id":      event.ID,
		"alert_created": alertCreated,
		"severity":      event.Severity,
	})
}

// handleLogEventAsync validates shape cheaply and enqueues; processing
// happens in consumer workers.
func (h *Handler) handleLogEventAsync(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	if payload.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	if err := h.dispatcher.Enqueue(payload); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "ingestion buffer full")
			return
		}
		h.logger.Error("enqueue failed", "type", payload.Type, "error", err)
		respondError(w, http.StatusInternalServerError, apperrors.ClientMessage)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		Type:     schema.EventType(q.Get("type")),
		Severity: schema.Severity(q.Get("severity")),
		UserID:   q.Get("user_id"),
		OrgID:    q.Get("org_id"),
		Limit:    intParam(q.Get("limit")),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = t
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("event listing failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) handleEventCounts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	counts, err := h.events.Counts(r.Context(), since)
	if err != nil {
		h.logger.Error("event counts failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"since": since, "counts": counts})
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerting.ListFilter{
		Status: alerting.AlertStatus(q.Get("status")),
		Domain: alerting.Domain(q.Get("domain")),
		OrgID:  q.Get("org_id"),
		Limit:  intParam(q.Get("limit")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		respondError(w, http.StatusBadRequest, "unknown status")
		return
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("alert listing failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

type updateAlertRequest struct {
	Status alerting.AlertStatus `json:"status"`
	Actor  string               `json:"actor"`
	Notes  string               `json:"notes"`
}

func (h *Handler) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var req updateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Actor == "" {
		respondError(w, http.StatusBadRequest, "actor is required")
		return
	}

	alert, err := h.alerts.UpdateStatus(r.Context(), id, req.Status, req.Actor, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, alerting.ErrAlertNotFound):
			respondError(w, http.StatusNotFound, "alert not found")
		case errors.Is(err, alerting.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("alert update failed", "alert_id", id, "error", err)
			respondError(w, http.StatusInternalServerError, "update failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// handleRoutingMatrix serves the count of open alerts per operational
// domain, plus the static default route and rule set per event type.
func (h *Handler) handleRoutingMatrix(w http.ResponseWriter, r *http.Request) {
	counts, err := h.alerts.RoutingMatrix(r.Context())
	if err != nil {
		h.logger.Error("routing counts failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	routes := alerting.DefaultRoutes()
	routing := make(map[string]any, len(routes))
	for eventType, domain := range routes {
		routing[string(eventType)] = map[string]any{
			"domain": domain,
			"rules":  h.registry.RuleNames(eventType),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"open_alerts": counts,
		"routing":     routing,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

func intParam(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func isValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
