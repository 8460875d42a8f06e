package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	rec := &Record{
		SessionID:         "sess-1",
		UserID:            "user-1",
		IPAddress:         "203.0.113.7",
		UserAgent:         "Mozilla/5.0",
		DeviceFingerprint: "fp-abc",
		EstablishedAt:     time.Now().UTC(),
	}
	if err := store.Establish(ctx, rec); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || got.IPAddress != "203.0.113.7" || got.DeviceFingerprint != "fp-abc" {
		t.Errorf("record = %+v", got)
	}

	if err := store.Revoke(ctx, "sess-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after revoke: %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRevokeIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Revoke(context.Background(), "missing"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &Record{SessionID: "sess-1", IPAddress: "203.0.113.7"}
	if err := store.Establish(ctx, rec); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	rec.IPAddress = "198.51.100.9"

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IPAddress != "203.0.113.7" {
		t.Errorf("stored record mutated by caller: ip = %s", got.IPAddress)
	}

	// Mutating a returned record must not affect the stored copy either.
	got.IPAddress = "192.0.2.1"
	again, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.IPAddress != "203.0.113.7" {
		t.Errorf("stored record mutated by reader: ip = %s", again.IPAddress)
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Establish(ctx, &Record{SessionID: "sess-1", IPAddress: "203.0.113.7"})
	store.Establish(ctx, &Record{SessionID: "sess-1", IPAddress: "198.51.100.9"})

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IPAddress != "198.51.100.9" {
		t.Errorf("ip = %s, want latest establishment", got.IPAddress)
	}
}
