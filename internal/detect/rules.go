package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"threatsense/internal/schema"
	"threatsense/internal/session"
)

// Rule names, used in results, alert notes, and the routing table.
const (
	RuleBruteForceIP        = "brute_force_ip"
	RuleBruteForceUser      = "brute_force_user"
	RuleImpossibleTravel    = "impossible_travel"
	RuleNewDevice           = "new_device"
	RuleSessionAnomaly      = "session_anomaly"
	RulePrivilegeEscalation = "privilege_escalation"
	RuleRateLimitViolation  = "rate_limit_violation"
)

// Ruleset evaluates detection rules against event history and session
// origins. All rule methods are safe for concurrent use.
type Ruleset struct {
	history  History
	sessions session.Store
	params   Params
	logger   *slog.Logger
}

// NewRuleset wires a rule set over its history and session ports. A nil
// sessions store disables the session anomaly rule's origin comparison.
func NewRuleset(history History, sessions session.Store, params Params, logger *slog.Logger) *Ruleset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ruleset{
		history:  history,
		sessions: sessions,
		params:   params,
		logger:   logger.With("component", "detect"),
	}
}

// queryCtx bounds a single history lookup so a slow store cannot stall the
// ingestion path.
func (rs *Ruleset) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, rs.params.QueryTimeout)
}

func (rs *Ruleset) degraded(rule string, err error) Result {
	rs.logger.Warn("history lookup failed, rule skipped", "rule", rule, "error", err)
	return notTriggered(rule)
}

// BruteForceByIP fires when failed logins from one address exceed the
// configured threshold inside the window. A count reaching three times the
// threshold escalates the asserted severity one level.
func (rs *Ruleset) BruteForceByIP(ctx context.Context, dc *Context) Result {
	return rs.bruteForce(ctx, dc, RuleBruteForceIP, FailureByIP, dc.IP, rs.params.BruteForceIP)
}

// BruteForceByUser fires when failed logins against one account exceed the
// configured threshold inside the window, regardless of source address.
func (rs *Ruleset) BruteForceByUser(ctx context.Context, dc *Context) Result {
	return rs.bruteForce(ctx, dc, RuleBruteForceUser, FailureByUser, dc.UserID, rs.params.BruteForceUser)
}

func (rs *Ruleset) bruteForce(ctx context.Context, dc *Context, rule string, by FailureKey, value string, p BruteForceParams) Result {
	if value == "" {
		return notTriggered(rule)
	}
	qctx, cancel := rs.queryCtx(ctx)
	defer cancel()

	since := dc.Timestamp.Add(-p.Window)
	// The event under evaluation is persisted before rules run, so the
	// stored count already includes it.
	count, err := rs.history.CountLoginFailures(qctx, by, value, since)
	if err != nil {
		return rs.degraded(rule, err)
	}
	if count <= p.Threshold {
		return notTriggered(rule)
	}

	severity := p.Severity
	if count >= 3*p.Threshold {
		severity = severity.Escalate()
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  severity,
		Reason:    fmt.Sprintf("%d failed logins by %s %s within %s", count, by, value, p.Window),
		Metadata: map[string]any{
			"failureCount": count,
			"threshold":    p.Threshold,
			"windowMs":     p.Window.Milliseconds(),
		},
	}
}

// ImpossibleTravel fires when a successful login arrives from a different
// country than the previous successful login within a gap too short for
// plausible travel. Events without resolved geo never trigger.
func (rs *Ruleset) ImpossibleTravel(ctx context.Context, dc *Context) Result {
	const rule = RuleImpossibleTravel
	if dc.UserID == "" || dc.GeoCountry == "" {
		return notTriggered(rule)
	}
	qctx, cancel := rs.queryCtx(ctx)
	defer cancel()

	prev, err := rs.history.LastSuccessfulLogin(qctx, dc.UserID, dc.EventID)
	if err != nil {
		return rs.degraded(rule, err)
	}
	if prev == nil || prev.Country == "" || prev.Country == dc.GeoCountry {
		return notTriggered(rule)
	}
	gap := dc.Timestamp.Sub(prev.At)
	if gap < 0 || gap > rs.params.TravelWindow {
		return notTriggered(rule)
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  schema.SeverityHigh,
		Reason:    fmt.Sprintf("login from %s only %s after login from %s", dc.GeoCountry, gap.Round(0), prev.Country),
		Metadata: map[string]any{
			"previousCountry": prev.Country,
			"currentCountry":  dc.GeoCountry,
			"gapMs":           gap.Milliseconds(),
		},
	}
}

// NewDevice fires when a successful login presents a device fingerprint
// never recorded for the user. Users with no login history at all are
// exempt, their first device is not anomalous.
func (rs *Ruleset) NewDevice(ctx context.Context, dc *Context) Result {
	const rule = RuleNewDevice
	if dc.UserID == "" || dc.DeviceFingerprint == "" {
		return notTriggered(rule)
	}
	qctx, cancel := rs.queryCtx(ctx)
	defer cancel()

	prev, err := rs.history.LastSuccessfulLogin(qctx, dc.UserID, dc.EventID)
	if err != nil {
		return rs.degraded(rule, err)
	}
	if prev == nil {
		return notTriggered(rule)
	}
	known, err := rs.history.HasDeviceFingerprint(qctx, dc.UserID, dc.DeviceFingerprint, dc.EventID)
	if err != nil {
		return rs.degraded(rule, err)
	}
	if known {
		return notTriggered(rule)
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  rs.params.NewDeviceSeverity,
		Reason:    "login from a device fingerprint not previously seen for this user",
		Metadata: map[string]any{
			"deviceFingerprint": dc.DeviceFingerprint,
		},
	}
}

// SessionAnomaly fires on token refreshes whose origin no longer matches
// the session's establishing origin. A fingerprint change asserts high,
// an address change alone asserts medium.
func (rs *Ruleset) SessionAnomaly(ctx context.Context, dc *Context) Result {
	const rule = RuleSessionAnomaly
	if dc.SessionID == "" || rs.sessions == nil {
		return notTriggered(rule)
	}
	qctx, cancel := rs.queryCtx(ctx)
	defer cancel()

	origin, err := rs.sessions.Get(qctx, dc.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return notTriggered(rule)
		}
		return rs.degraded(rule, err)
	}

	fingerprintChanged := origin.DeviceFingerprint != "" && dc.DeviceFingerprint != "" &&
		origin.DeviceFingerprint != dc.DeviceFingerprint
	ipChanged := origin.IPAddress != "" && dc.IP != "" && origin.IPAddress != dc.IP
	if !fingerprintChanged && !ipChanged {
		return notTriggered(rule)
	}

	severity := schema.SeverityMedium
	reason := fmt.Sprintf("token refresh from %s, session established from %s", dc.IP, origin.IPAddress)
	if fingerprintChanged {
		severity = schema.SeverityHigh
		reason = "token refresh from a different device than the one that established the session"
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  severity,
		Reason:    reason,
		Metadata: map[string]any{
			"sessionId":          dc.SessionID,
			"originIp":           origin.IPAddress,
			"currentIp":          dc.IP,
			"fingerprintChanged": fingerprintChanged,
		},
	}
}

// roleRank orders the tenancy role ladder. Unknown roles rank lowest so a
// malformed role can never satisfy an admin requirement.
func roleRank(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "member":
		return 1
	case "admin":
		return 2
	case "founder":
		return 3
	default:
		return 0
	}
}

// requiredRole infers the privilege tier a denied request was reaching for.
func requiredRole(dc *Context) string {
	if strings.HasPrefix(dc.Path, "/admin") || strings.Contains(dc.Path, "/admin/") {
		return "admin"
	}
	return ""
}

// PrivilegeEscalation fires on unauthorized access attempts where the
// actor's role sits strictly below the tier the target requires. Denials
// at or above the required tier are ordinary authorization noise.
func (rs *Ruleset) PrivilegeEscalation(ctx context.Context, dc *Context) Result {
	const rule = RulePrivilegeEscalation
	required := requiredRole(dc)
	if required == "" {
		return notTriggered(rule)
	}
	if roleRank(dc.UserRole) >= roleRank(required) {
		return notTriggered(rule)
	}
	return Result{
		Rule:      rule,
		Triggered: true,
		Severity:  schema.SeverityHigh,
		Reason:    fmt.Sprintf("role %q attempted access requiring %q at %s", dc.UserRole, required, dc.Path),
		Metadata: map[string]any{
			"userRole":     dc.UserRole,
			"requiredRole": required,
			"path":         dc.Path,
		},
	}
}

// RateLimitViolation asserts a fixed medium for every rate-limit breach and
// annotates the result with the address's recent violation count when the
// lookup succeeds.
func (rs *Ruleset) RateLimitViolation(ctx context.Context, dc *Context) Result {
	const rule = RuleRateLimitViolation
	result := Result{
		Rule:      rule,
		Triggered: true,
		Severity:  schema.SeverityMedium,
		Reason:    fmt.Sprintf("rate limit exceeded from %s", dc.IP),
	}
	if dc.IP == "" {
		return result
	}
	qctx, cancel := rs.queryCtx(ctx)
	defer cancel()

	count, err := rs.history.CountRateLimitHits(qctx, dc.IP, dc.Timestamp.Add(-rs.params.RateLimitWindow))
	if err != nil {
		rs.logger.Warn("history lookup failed, rate limit count omitted", "rule", rule, "error", err)
		return result
	}
	result.Metadata = map[string]any{
		"recentViolations": count,
		"windowMs":         rs.params.RateLimitWindow.Milliseconds(),
	}
	return result
}
