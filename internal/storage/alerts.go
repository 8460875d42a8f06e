package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/alerting"
	"threatsense/internal/schema"
)

// AlertStore persists alerts in ClickHouse. The table is a
// ReplacingMergeTree keyed on event_id, so lifecycle updates insert a
// newer version and reads collapse them with FINAL.
type AlertStore struct {
	client *ClickHouseClient
}

// NewAlertStore creates an alert store over a ClickHouse client.
func NewAlertStore(client *ClickHouseClient) *AlertStore {
	return &AlertStore{client: client}
}

var _ alerting.AlertStore = (*AlertStore)(nil)

func (s *AlertStore) write(ctx context.Context, op string, alert *alerting.Alert) error {
	err := s.client.Exec(ctx, `
		INSERT INTO security_alerts (
			id, event_id, event_type, severity, status, note, resolution_notes,
			user_id, org_id, ip_address, request_path,
			created_at, updated_at, acked_by, acked_at, closed_by, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.EventID, string(alert.EventType), string(alert.Severity),
		string(alert.Status), alert.Note, alert.ResolutionNotes,
		alert.UserID, alert.OrgID, alert.IPAddress, alert.RequestPath,
		alert.CreatedAt, alert.UpdatedAt,
		alert.AckedBy, alert.AckedAt, alert.ClosedBy, alert.ClosedAt,
	)
	if err != nil {
		return WrapInsertError(op, "security_alerts", err)
	}
	return nil
}

// Insert persists a newly opened alert.
func (s *AlertStore) Insert(ctx context.Context, alert *alerting.Alert) error {
	return s.write(ctx, "Insert", alert)
}

// Update persists a lifecycle change as a newer row version.
func (s *AlertStore) Update(ctx context.Context, alert *alerting.Alert) error {
	return s.write(ctx, "Update", alert)
}

const selectAlertColumns = `
	SELECT id, event_id, event_type, severity, status, note, resolution_notes,
	       user_id, org_id, ip_address, request_path,
	       created_at, updated_at, acked_by, acked_at, closed_by, closed_at`

// scanAlert reads one alert row. Domain is never stored; it is recomputed
// from the event type and request path so routing changes apply to
// existing alerts.
func scanAlert(row rowScanner) (*alerting.Alert, error) {
	var (
		alert     alerting.Alert
		eventType string
		severity  string
		status    string
		ackedAt   *time.Time
		closedAt  *time.Time
	)
	err := row.Scan(
		&alert.ID, &alert.EventID, &eventType, &severity, &status,
		&alert.Note, &alert.ResolutionNotes,
		&alert.UserID, &alert.OrgID, &alert.IPAddress, &alert.RequestPath,
		&alert.CreatedAt, &alert.UpdatedAt,
		&alert.AckedBy, &ackedAt, &alert.ClosedBy, &closedAt,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", "security_alerts", err)
	}
	alert.EventType = schema.EventType(eventType)
	alert.Severity = schema.Severity(severity)
	alert.Status = alerting.AlertStatus(status)
	alert.Domain = alerting.Classify(alert.EventType, alert.RequestPath)
	alert.AckedAt = ackedAt
	alert.ClosedAt = closedAt
	return &alert, nil
}

// Get returns one alert by id, collapsed to its latest version.
func (s *AlertStore) Get(ctx context.Context, id uuid.UUID) (*alerting.Alert, error) {
	rows, err := s.client.Query(ctx,
		selectAlertColumns+" FROM security_alerts FINAL WHERE id = ? LIMIT 1", id)
	if err != nil {
		return nil, WrapQueryError("Get", "security_alerts", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, alerting.ErrAlertNotFound
	}
	return scanAlert(rows)
}

// ExistsForEvent reports whether any alert version exists for the event.
func (s *AlertStore) ExistsForEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var count uint64
	err := s.client.QueryRow(ctx,
		"SELECT count() FROM security_alerts WHERE event_id = ?", eventID).Scan(&count)
	if err != nil {
		return false, WrapQueryError("ExistsForEvent", "security_alerts", err)
	}
	return count > 0, nil
}

// List returns alerts matching the filter, newest first. The domain
// filter is applied after scanning because domains are computed, not
// stored.
func (s *AlertStore) List(ctx context.Context, filter alerting.ListFilter) ([]*alerting.Alert, error) {
	query := selectAlertColumns + " FROM security_alerts FINAL WHERE 1 = 1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.OrgID != "" {
		query += " AND org_id = ?"
		args = append(args, filter.OrgID)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("List", "security_alerts", err)
	}
	defer rows.Close()

	var alerts []*alerting.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		if filter.Domain != "" && alert.Domain != filter.Domain {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
