package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/schema"
)

// ListFilter narrows alert listings.
type ListFilter struct {
	Status AlertStatus
	Domain Domain
	OrgID  string
	Limit  int
}

// AlertStore is the persistence port for alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, id uuid.UUID) (*Alert, error)
	ExistsForEvent(ctx context.Context, eventID uuid.UUID) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]*Alert, error)
}

// NotificationChannel delivers a newly opened alert to an external sink.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// Manager owns alert creation, lifecycle updates, and notification fanout.
type Manager struct {
	store    AlertStore
	channels []NotificationChannel
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates an alert manager over its store.
func NewManager(store AlertStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "alerting"),
		now:    time.Now,
	}
}

// AddChannel registers a notification channel. Not safe to call after the
// manager starts receiving events.
func (m *Manager) AddChannel(channel NotificationChannel) {
	m.channels = append(m.channels, channel)
	m.logger.Info("registered notification channel", "name", channel.Name())
}

// OpenForEvent opens an alert for an event whose resolved severity crossed
// the alerting threshold. At most one alert ever exists per event: a
// second call for the same event id returns (nil, nil) without side
// effects. Notification failures are logged, never returned; the alert is
// persisted regardless.
func (m *Manager) OpenForEvent(ctx context.Context, event *schema.SecurityEvent, reasons []string) (*Alert, error) {
	exists, err := m.store.ExistsForEvent(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("checking existing alert: %w", err)
	}
	if exists {
		m.logger.Debug("alert already open for event", "event_id", event.ID)
		return nil, nil
	}

	now := m.now().UTC()
	alert := &Alert{
		ID:          uuid.New(),
		EventID:     event.ID,
		EventType:   event.Type,
		Severity:    event.Severity,
		Status:      StatusOpen,
		Domain:      Classify(event.Type, event.RequestPath),
		Note:        NoteFor(event.Severity, reasons),
		UserID:      event.UserID,
		OrgID:       event.OrgID,
		IPAddress:   event.IPAddress,
		RequestPath: event.RequestPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persisting alert: %w", err)
	}
	m.logger.Info("alert opened",
		"alert_id", alert.ID,
		"event_id", alert.EventID,
		"severity", alert.Severity,
		"domain", alert.Domain)

	m.notify(ctx, alert)
	return alert, nil
}

func (m *Manager) notify(ctx context.Context, alert *Alert) {
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			m.logger.Error("notification delivery failed",
				"channel", ch.Name(),
				"alert_id", alert.ID,
				"error", err)
		}
	}
}

// UpdateStatus applies a lifecycle transition to a stored alert and
// returns the updated record. Notes are stamped onto the alert when the
// transition closes it.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, next AlertStatus, actor, notes string) (*Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := alert.Transition(next, actor, notes, m.now().UTC()); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("persisting alert update: %w", err)
	}
	m.logger.Info("alert status updated",
		"alert_id", alert.ID,
		"status", alert.Status,
		"actor", actor)
	return alert, nil
}

// Get returns one alert by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return m.store.Get(ctx, id)
}

// List returns alerts matching the filter, most recent first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Alert, error) {
	return m.store.List(ctx, filter)
}

// RoutingMatrix counts open alerts per operational domain. Every domain
// appears in the result, zero-valued when no open alerts route to it.
func (m *Manager) RoutingMatrix(ctx context.Context) (map[Domain]int, error) {
	counts := map[Domain]int{
		DomainBilling:  0,
		DomainTrial:    0,
		DomainIdentity: 0,
		DomainTenancy:  0,
		DomainSecurity: 0,
	}
	open, err := m.store.List(ctx, ListFilter{Status: StatusOpen, Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("listing open alerts: %w", err)
	}
	for _, alert := range open {
		counts[alert.Domain]++
	}
	return counts, nil
}
