package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/alerting"
	"threatsense/internal/detect"
	"threatsense/internal/enrich"
	"threatsense/internal/schema"
	"threatsense/internal/session"
)

type fakeWriter struct {
	mu        sync.Mutex
	inserted  []*schema.SecurityEvent
	applied   map[uuid.UUID]schema.Severity
	results   []detect.Result
	insertErr error
	applyErr  error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{applied: make(map[uuid.UUID]schema.Severity)}
}

func (f *fakeWriter) Insert(ctx context.Context, event *schema.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeWriter) ApplyDetection(ctx context.Context, id uuid.UUID, severity schema.Severity, results []detect.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied[id] = severity
	f.results = append(f.results, results...)
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	opened []*schema.SecurityEvent
	err    error
}

func (f *fakeAlerts) OpenForEvent(ctx context.Context, event *schema.SecurityEvent, reasons []string) (*alerting.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, event)
	return &alerting.Alert{ID: uuid.New(), EventID: event.ID}, nil
}

type fakeHistory struct {
	failures int
	failErr  error
}

func (f *fakeHistory) CountLoginFailures(ctx context.Context, by detect.FailureKey, value string, since time.Time) (int, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	return f.failures, nil
}

func (f *fakeHistory) LastSuccessfulLogin(ctx context.Context, userID string, exclude uuid.UUID) (*detect.LoginRecord, error) {
	return nil, nil
}

func (f *fakeHistory) HasDeviceFingerprint(ctx context.Context, userID, fingerprint string, exclude uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeHistory) CountRateLimitHits(ctx context.Context, ip string, since time.Time) (int, error) {
	return 0, nil
}

func newTestEngine(t *testing.T, history detect.History, writer *fakeWriter, alerts *fakeAlerts) (*Engine, session.Store) {
	t.Helper()
	sessions := session.NewMemoryStore()
	ruleset := detect.NewRuleset(history, sessions, detect.DefaultParams(), nil)
	enricher := enrich.NewEnricher(enrich.NoopGeoProvider{}, time.Second)
	eng := New(schema.NewValidator(), enricher, writer, detect.BuildRegistry(ruleset), alerts, sessions, nil)
	return eng, sessions
}

func loginFailurePayload() *schema.EventPayload {
	return &schema.EventPayload{
		Type:      string(schema.EventLoginFailure),
		UserID:    "u1",
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0",
	}
}

func TestLogSecurityEvent(t *testing.T) {
	t.Run("benign event persists at base severity without alert", func(t *testing.T) {
		writer := newFakeWriter()
		alerts := &fakeAlerts{}
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, alerts)

		event, alertCreated, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload())
		if err != nil {
			t.Fatal(err)
		}
		if event.Severity != schema.SeverityInfo {
			t.Fatalf("severity = %s, want info", event.Severity)
		}
		if alertCreated {
			t.Fatal("benign event must not report an alert")
		}
		if len(writer.inserted) != 1 {
			t.Fatalf("inserted %d events, want 1", len(writer.inserted))
		}
		if len(alerts.opened) != 0 {
			t.Fatalf("no alert expected, got %d", len(alerts.opened))
		}
	})

	t.Run("validation failure rejects without persisting", func(t *testing.T) {
		writer := newFakeWriter()
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

		payload := loginFailurePayload()
		payload.IP = "not-an-ip"
		if _, _, err := eng.LogSecurityEvent(context.Background(), payload); err == nil {
			t.Fatal("expected validation error")
		}
		if len(writer.inserted) != 0 {
			t.Fatal("invalid payload must not be persisted")
		}
	})

	t.Run("persist failure is fatal", func(t *testing.T) {
		writer := newFakeWriter()
		writer.insertErr = errors.New("clickhouse down")
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

		if _, _, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload()); err == nil {
			t.Fatal("expected error when persistence fails")
		}
	})

	t.Run("triggered rule raises severity and opens alert", func(t *testing.T) {
		writer := newFakeWriter()
		alerts := &fakeAlerts{}
		// A stored count of 30 reaches three times the per-user
		// threshold, escalating high to critical.
		eng, _ := newTestEngine(t, &fakeHistory{failures: 30}, writer, alerts)

		event, alertCreated, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload())
		if err != nil {
			t.Fatal(err)
		}
		if event.Severity != schema.SeverityCritical {
			t.Fatalf("severity = %s, want critical", event.Severity)
		}
		if got := writer.applied[event.ID]; got != schema.SeverityCritical {
			t.Fatalf("backfilled severity = %s, want critical", got)
		}
		if len(alerts.opened) != 1 {
			t.Fatalf("opened %d alerts, want 1", len(alerts.opened))
		}
		if !alertCreated {
			t.Fatal("caller should learn an alert was opened")
		}
	})

	t.Run("metadata is sanitized before persistence", func(t *testing.T) {
		writer := newFakeWriter()
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

		payload := loginFailurePayload()
		payload.Metadata = map[string]any{
			"password": "hunter2",
			"email":    "alice@example.com",
		}
		if _, _, err := eng.LogSecurityEvent(context.Background(), payload); err != nil {
			t.Fatal(err)
		}
		meta := writer.inserted[0].Metadata
		if meta["password"] != "[REDACTED]" {
			t.Fatalf("password not redacted: %v", meta["password"])
		}
		if meta["email"] != "al***@example.com" {
			t.Fatalf("email not masked: %v", meta["email"])
		}
	})

	t.Run("device info lands next to caller metadata", func(t *testing.T) {
		writer := newFakeWriter()
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

		payload := loginFailurePayload()
		payload.Metadata = map[string]any{"plan": "scale"}
		if _, _, err := eng.LogSecurityEvent(context.Background(), payload); err != nil {
			t.Fatal(err)
		}
		meta := writer.inserted[0].Metadata
		if meta["plan"] != "scale" {
			t.Fatalf("caller metadata lost: %v", meta)
		}
		if meta["browser"] != "Chrome" || meta["os"] != "macOS" {
			t.Fatalf("device info missing from metadata: %v", meta)
		}
	})

	t.Run("parseable user agent without metadata still enriches", func(t *testing.T) {
		writer := newFakeWriter()
		eng, _ := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

		if _, _, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload()); err != nil {
			t.Fatal(err)
		}
		meta := writer.inserted[0].Metadata
		if meta["browser"] != "Chrome" {
			t.Fatalf("browser = %v, want Chrome", meta["browser"])
		}
	})

	t.Run("alert failure does not fail the pipeline", func(t *testing.T) {
		writer := newFakeWriter()
		alerts := &fakeAlerts{err: errors.New("alert store down")}
		eng, _ := newTestEngine(t, &fakeHistory{failures: 30}, writer, alerts)

		event, alertCreated, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload())
		if err != nil {
			t.Fatalf("alerting failure must not surface: %v", err)
		}
		if event.Severity != schema.SeverityCritical {
			t.Fatalf("severity = %s, want critical", event.Severity)
		}
		if alertCreated {
			t.Fatal("failed alert creation must not be reported as created")
		}
	})

	t.Run("detection backfill failure keeps resolved severity in memory", func(t *testing.T) {
		writer := newFakeWriter()
		writer.applyErr = errors.New("mutation failed")
		alerts := &fakeAlerts{}
		eng, _ := newTestEngine(t, &fakeHistory{failures: 30}, writer, alerts)

		event, _, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload())
		if err != nil {
			t.Fatal(err)
		}
		if event.Severity != schema.SeverityCritical {
			t.Fatalf("severity = %s, want critical", event.Severity)
		}
		if len(alerts.opened) != 1 {
			t.Fatal("alert should still open on backfill failure")
		}
	})

	t.Run("history failure degrades to base severity", func(t *testing.T) {
		writer := newFakeWriter()
		alerts := &fakeAlerts{}
		eng, _ := newTestEngine(t, &fakeHistory{failErr: errors.New("storage down")}, writer, alerts)

		event, _, err := eng.LogSecurityEvent(context.Background(), loginFailurePayload())
		if err != nil {
			t.Fatal(err)
		}
		if event.Severity != schema.SeverityInfo {
			t.Fatalf("severity = %s, want info when history unavailable", event.Severity)
		}
		if len(alerts.opened) != 0 {
			t.Fatal("no alert expected when rules degrade")
		}
	})

	t.Run("rule result metadata is sanitized before backfill", func(t *testing.T) {
		writer := newFakeWriter()
		eng, sessions := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})
		if err := sessions.Establish(context.Background(), &session.Record{
			SessionID:         "sess-1",
			UserID:            "u1",
			IPAddress:         "203.0.113.9",
			DeviceFingerprint: "fp-1",
			EstablishedAt:     time.Now().Add(-time.Hour),
		}); err != nil {
			t.Fatal(err)
		}

		payload := &schema.EventPayload{
			Type:              string(schema.EventTokenRefresh),
			UserID:            "u1",
			IP:                "203.0.113.9",
			UserAgent:         "Mozilla/5.0 Chrome/120.0",
			DeviceFingerprint: "fp-2",
			Metadata:          map[string]any{"sessionId": "sess-1"},
		}
		if _, _, err := eng.LogSecurityEvent(context.Background(), payload); err != nil {
			t.Fatal(err)
		}

		var anomaly *detect.Result
		for i := range writer.results {
			if writer.results[i].Rule == detect.RuleSessionAnomaly {
				anomaly = &writer.results[i]
			}
		}
		if anomaly == nil || !anomaly.Triggered {
			t.Fatalf("expected a triggered session anomaly, got %+v", writer.results)
		}
		if anomaly.Metadata["sessionId"] != "[REDACTED]" {
			t.Fatalf("session id persisted in rule metadata: %v", anomaly.Metadata)
		}
	})
}

func TestSessionTracking(t *testing.T) {
	writer := newFakeWriter()
	eng, sessions := newTestEngine(t, &fakeHistory{}, writer, &fakeAlerts{})

	payload := &schema.EventPayload{
		Type:              string(schema.EventLoginSuccess),
		UserID:            "u1",
		IP:                "203.0.113.9",
		UserAgent:         "Mozilla/5.0 Chrome/120.0",
		DeviceFingerprint: "fp-1",
		Metadata:          map[string]any{"sessionId": "sess-1"},
	}
	if _, _, err := eng.LogSecurityEvent(context.Background(), payload); err != nil {
		t.Fatal(err)
	}

	rec, err := sessions.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("session origin not recorded: %v", err)
	}
	if rec.IPAddress != "203.0.113.9" || rec.DeviceFingerprint != "fp-1" {
		t.Fatalf("unexpected origin record: %+v", rec)
	}

	revoke := &schema.EventPayload{
		Type:      string(schema.EventSessionRevoked),
		UserID:    "u1",
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0 Chrome/120.0",
		Metadata:  map[string]any{"sessionId": "sess-1"},
	}
	if _, _, err := eng.LogSecurityEvent(context.Background(), revoke); err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.Get(context.Background(), "sess-1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be revoked, got %v", err)
	}
}
