package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/alerting"
	"threatsense/internal/detect"
	"threatsense/internal/engine"
	"threatsense/internal/enrich"
	"threatsense/internal/queue"
	"threatsense/internal/schema"
)

type countingWriter struct {
	mu       sync.Mutex
	inserted int
}

func (w *countingWriter) Insert(ctx context.Context, event *schema.SecurityEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inserted++
	return nil
}

func (w *countingWriter) ApplyDetection(ctx context.Context, id uuid.UUID, severity schema.Severity, results []detect.Result) error {
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inserted
}

type nopHistory struct{}

func (nopHistory) CountLoginFailures(ctx context.Context, by detect.FailureKey, value string, since time.Time) (int, error) {
	return 0, nil
}
func (nopHistory) LastSuccessfulLogin(ctx context.Context, userID string, exclude uuid.UUID) (*detect.LoginRecord, error) {
	return nil, nil
}
func (nopHistory) HasDeviceFingerprint(ctx context.Context, userID, fingerprint string, exclude uuid.UUID) (bool, error) {
	return false, nil
}
func (nopHistory) CountRateLimitHits(ctx context.Context, ip string, since time.Time) (int, error) {
	return 0, nil
}

type nopAlerts struct{}

func (nopAlerts) OpenForEvent(ctx context.Context, event *schema.SecurityEvent, reasons []string) (*alerting.Alert, error) {
	return nil, nil
}

func TestConsumerDrainsBuffer(t *testing.T) {
	buffer := queue.NewRingBuffer(100)
	writer := &countingWriter{}
	ruleset := detect.NewRuleset(nopHistory{}, nil, detect.DefaultParams(), nil)
	enricher := enrich.NewEnricher(enrich.NoopGeoProvider{}, time.Second)
	eng := engine.New(schema.NewValidator(), enricher, writer, detect.BuildRegistry(ruleset), nopAlerts{}, nil, nil)

	const total = 20
	for i := 0; i < total; i++ {
		err := buffer.Push(&schema.EventPayload{
			Type:      string(schema.EventLoginFailure),
			UserID:    "u1",
			IP:        "203.0.113.9",
			UserAgent: "ua",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	c := New(Config{Workers: 3}, buffer, eng, nil)
	c.Start(context.Background())
	c.Stop()

	if got := writer.count(); got != total {
		t.Fatalf("persisted %d events, want %d", got, total)
	}
	processed, failed := c.Stats()
	if processed != total || failed != 0 {
		t.Fatalf("processed=%d failed=%d, want %d/0", processed, failed, total)
	}
}

func TestConsumerCountsFailures(t *testing.T) {
	buffer := queue.NewRingBuffer(10)
	writer := &countingWriter{}
	ruleset := detect.NewRuleset(nopHistory{}, nil, detect.DefaultParams(), nil)
	enricher := enrich.NewEnricher(enrich.NoopGeoProvider{}, time.Second)
	eng := engine.New(schema.NewValidator(), enricher, writer, detect.BuildRegistry(ruleset), nopAlerts{}, nil, nil)

	// Invalid payload: missing ip and user agent.
	buffer.Push(&schema.EventPayload{Type: string(schema.EventLoginFailure)})

	c := New(Config{Workers: 1}, buffer, eng, nil)
	c.Start(context.Background())
	c.Stop()

	if _, failed := c.Stats(); failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if writer.count() != 0 {
		t.Fatal("invalid payload must not be persisted")
	}
}
