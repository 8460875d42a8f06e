// Package detect implements the stateful detection rules that inspect a
// security event in light of recent history and may assert an elevated
// severity.
package detect

import (
	"context"
	"time"

	"github.com/google/uuid"

	"threatsense/internal/schema"
)

// Context carries everything a detection rule needs about the event under
// evaluation. It is constructed once per incoming event and passed by
// reference to every invoked rule. The event is already persisted when
// rules run; EventID lets history queries exclude it.
type Context struct {
	EventID   uuid.UUID
	EventType schema.EventType
	Timestamp time.Time

	UserID            string
	OrgID             string
	IP                string
	UserAgent         string
	DeviceFingerprint string
	GeoCountry        string

	Path       string
	Method     string
	StatusCode int

	// SessionID is set for token-refresh events that carry one.
	SessionID string
	// UserRole is the actor's declared role, when known.
	UserRole string
}

// Result is the per-rule output of a detection pass.
type Result struct {
	Rule      string          `json:"rule"`
	Triggered bool            `json:"triggered"`
	Severity  schema.Severity `json:"severity"`
	Reason    string          `json:"reason,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// notTriggered is the uniform negative result, also used when a supporting
// history query fails: detection degrades, it never blocks ingestion.
func notTriggered(rule string) Result {
	return Result{Rule: rule, Severity: schema.SeverityInfo}
}

// FailureKey discriminates brute-force counting by origin IP or target user.
type FailureKey string

const (
	FailureByIP   FailureKey = "ip"
	FailureByUser FailureKey = "user"
)

// LoginRecord is a prior successful login as seen by the history port.
type LoginRecord struct {
	Country           string
	IPAddress         string
	DeviceFingerprint string
	At                time.Time
}

// History is the read-only port over persisted events that rules consult.
// Implementations perform bounded read queries only, no writes. The event
// under evaluation is persisted before rules run, so counting queries see
// it; queries about prior logins take its id and must exclude it.
type History interface {
	// CountLoginFailures counts failed authentication events for the key
	// within the trailing window starting at since, including the event
	// under evaluation.
	CountLoginFailures(ctx context.Context, by FailureKey, value string, since time.Time) (int, error)

	// LastSuccessfulLogin returns the most recent successful login for the
	// user other than the excluded event, or nil when there is none.
	LastSuccessfulLogin(ctx context.Context, userID string, exclude uuid.UUID) (*LoginRecord, error)

	// HasDeviceFingerprint reports whether the fingerprint has been seen on
	// any successful login for the user other than the excluded event.
	HasDeviceFingerprint(ctx context.Context, userID, fingerprint string, exclude uuid.UUID) (bool, error)

	// CountRateLimitHits counts rate-limit-exceeded events for the IP
	// within the trailing window starting at since.
	CountRateLimitHits(ctx context.Context, ip string, since time.Time) (int, error)
}

// Resolve merges an event's base severity with the severities asserted by
// triggered detection results. The reduction is a maximum over the severity
// total order, so it is associative, commutative, and idempotent.
func Resolve(base schema.Severity, results []Result) schema.Severity {
	resolved := base
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		resolved = schema.MaxSeverity(resolved, r.Severity)
	}
	return resolved
}

// Triggered filters a result list down to the rules that fired.
func Triggered(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Triggered {
			out = append(out, r)
		}
	}
	return out
}
