package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/detect"
	"threatsense/internal/schema"
)

// EventFilter narrows event listings.
type EventFilter struct {
	Type     schema.EventType
	Severity schema.Severity
	UserID   string
	OrgID    string
	Since    time.Time
	Limit    int
}

// EventStore persists security events and answers the history queries the
// detection rules need. It implements detect.History.
type EventStore struct {
	client *ClickHouseClient
}

// NewEventStore creates an event store over a ClickHouse client.
func NewEventStore(client *ClickHouseClient) *EventStore {
	return &EventStore{client: client}
}

var _ detect.History = (*EventStore)(nil)

// Insert persists a fully sanitized event.
func (s *EventStore) Insert(ctx context.Context, event *schema.SecurityEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return WrapInsertError("Insert", "security_events", err)
	}

	err = s.client.Exec(ctx, `
		INSERT INTO security_events (
			id, created_at, event_type, severity,
			user_id, org_id, ip_address, user_agent, device_fingerprint,
			geo_country, geo_region, geo_city,
			request_path, request_method, status_code, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.CreatedAt, string(event.Type), string(event.Severity),
		event.UserID, event.OrgID, event.IPAddress, event.UserAgent, event.DeviceFingerprint,
		event.GeoCountry, event.GeoRegion, event.GeoCity,
		event.RequestPath, event.RequestMethod, uint16(event.StatusCode), string(metadata),
	)
	if err != nil {
		return WrapInsertError("Insert", "security_events", err)
	}
	return nil
}

// ApplyDetection backfills the resolved severity and detection results onto
// an already persisted event. Called at most once per event.
func (s *EventStore) ApplyDetection(ctx context.Context, id uuid.UUID, severity schema.Severity, results []detect.Result) error {
	triggered := detect.Triggered(results)
	if severity == "" && len(triggered) == 0 {
		return nil
	}

	detection, err := json.Marshal(triggered)
	if err != nil {
		return WrapInsertError("ApplyDetection", "security_events", err)
	}

	err = s.client.Exec(ctx, `
		ALTER TABLE security_events
		UPDATE severity = ?, metadata = JSONMergePatch(metadata, ?)
		WHERE id = ?`,
		string(severity),
		fmt.Sprintf(`{"detection":%s}`, detection),
		id,
	)
	if err != nil {
		return WrapQueryError("ApplyDetection", "security_events", err)
	}
	return nil
}

// Get returns one event by id.
func (s *EventStore) Get(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error) {
	rows, err := s.client.Query(ctx, selectEventColumns+" FROM security_events WHERE id = ? LIMIT 1", id)
	if err != nil {
		return nil, WrapQueryError("Get", "security_events", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanEvent(rows)
}

const selectEventColumns = `
	SELECT id, created_at, event_type, severity,
	       user_id, org_id, ip_address, user_agent, device_fingerprint,
	       geo_country, geo_region, geo_city,
	       request_path, request_method, status_code, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*schema.SecurityEvent, error) {
	var (
		event      schema.SecurityEvent
		eventType  string
		severity   string
		statusCode uint16
		metadata   string
	)
	err := row.Scan(
		&event.ID, &event.CreatedAt, &eventType, &severity,
		&event.UserID, &event.OrgID, &event.IPAddress, &event.UserAgent, &event.DeviceFingerprint,
		&event.GeoCountry, &event.GeoRegion, &event.GeoCity,
		&event.RequestPath, &event.RequestMethod, &statusCode, &metadata,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", "security_events", err)
	}
	event.Type = schema.EventType(eventType)
	event.Severity = schema.Severity(severity)
	event.StatusCode = int(statusCode)
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
			return nil, WrapQueryError("Scan", "security_events", err)
		}
	}
	return &event, nil
}

// List returns events matching the filter, newest first.
func (s *EventStore) List(ctx context.Context, filter EventFilter) ([]*schema.SecurityEvent, error) {
	query := selectEventColumns + " FROM security_events WHERE 1 = 1"
	var args []any
	if filter.Type != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.OrgID != "" {
		query += " AND org_id = ?"
		args = append(args, filter.OrgID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("List", "security_events", err)
	}
	defer rows.Close()

	var events []*schema.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// CountLoginFailures implements detect.History.
func (s *EventStore) CountLoginFailures(ctx context.Context, by detect.FailureKey, value string, since time.Time) (int, error) {
	column := "ip_address"
	if by == detect.FailureByUser {
		column = "user_id"
	}
	query := fmt.Sprintf(`
		SELECT count() FROM security_events
		WHERE event_type = ? AND %s = ? AND created_at >= ?`, column)

	var count uint64
	err := s.client.QueryRow(ctx, query, string(schema.EventLoginFailure), value, since).Scan(&count)
	if err != nil {
		return 0, WrapQueryError("CountLoginFailures", "security_events", err)
	}
	return int(count), nil
}

// LastSuccessfulLogin implements detect.History. The event under
// evaluation is already persisted, so it is excluded by id.
func (s *EventStore) LastSuccessfulLogin(ctx context.Context, userID string, exclude uuid.UUID) (*detect.LoginRecord, error) {
	rows, err := s.client.Query(ctx, `
		SELECT geo_country, ip_address, device_fingerprint, created_at
		FROM security_events
		WHERE event_type = ? AND user_id = ? AND id != ?
		ORDER BY created_at DESC
		LIMIT 1`,
		string(schema.EventLoginSuccess), userID, exclude)
	if err != nil {
		return nil, WrapQueryError("LastSuccessfulLogin", "security_events", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	var rec detect.LoginRecord
	if err := rows.Scan(&rec.Country, &rec.IPAddress, &rec.DeviceFingerprint, &rec.At); err != nil {
		return nil, WrapQueryError("LastSuccessfulLogin", "security_events", err)
	}
	return &rec, nil
}

// HasDeviceFingerprint implements detect.History. The event under
// evaluation is already persisted, so it is excluded by id.
func (s *EventStore) HasDeviceFingerprint(ctx context.Context, userID, fingerprint string, exclude uuid.UUID) (bool, error) {
	var count uint64
	err := s.client.QueryRow(ctx, `
		SELECT count() FROM security_events
		WHERE event_type = ? AND user_id = ? AND device_fingerprint = ? AND id != ?`,
		string(schema.EventLoginSuccess), userID, fingerprint, exclude).Scan(&count)
	if err != nil {
		return false, WrapQueryError("HasDeviceFingerprint", "security_events", err)
	}
	return count > 0, nil
}

// CountRateLimitHits implements detect.History.
func (s *EventStore) CountRateLimitHits(ctx context.Context, ip string, since time.Time) (int, error) {
	var count uint64
	err := s.client.QueryRow(ctx, `
		SELECT count() FROM security_events
		WHERE event_type = ? AND ip_address = ? AND created_at >= ?`,
		string(schema.EventRateLimitExceeded), ip, since).Scan(&count)
	if err != nil {
		return 0, WrapQueryError("CountRateLimitHits", "security_events", err)
	}
	return int(count), nil
}

// Counts returns event totals grouped by severity since the given time.
// Serves the admin live view.
func (s *EventStore) Counts(ctx context.Context, since time.Time) (map[schema.Severity]int, error) {
	rows, err := s.client.Query(ctx, `
		SELECT severity, count() FROM security_events
		WHERE created_at >= ?
		GROUP BY severity`, since)
	if err != nil {
		return nil, WrapQueryError("Counts", "security_events", err)
	}
	defer rows.Close()

	counts := make(map[schema.Severity]int)
	for rows.Next() {
		var severity string
		var count uint64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, WrapQueryError("Counts", "security_events", err)
		}
		counts[schema.Severity(severity)] = int(count)
	}
	return counts, nil
}
