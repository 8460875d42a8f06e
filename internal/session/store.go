// Package session tracks the establishing login of active sessions so the
// detection engine can spot refreshes that arrive from a different origin.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist or has been revoked.
var ErrNotFound = errors.New("session not found")

// Record captures the origin of the login that established a session.
type Record struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	EstablishedAt     time.Time `json:"established_at"`
}

// Store persists session establishment records.
type Store interface {
	// Establish records the origin of a new session.
	Establish(ctx context.Context, rec *Record) error

	// Get retrieves the establishing record for a session.
	Get(ctx context.Context, sessionID string) (*Record, error)

	// Revoke removes a session record.
	Revoke(ctx context.Context, sessionID string) error

	// Close releases any resources.
	Close() error
}

// MemoryStore implements Store with an in-memory map. Suitable for tests
// and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Record)}
}

func (m *MemoryStore) Establish(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.sessions[rec.SessionID] = &copied
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
