package detect

import (
	"fmt"
	"time"

	"threatsense/internal/schema"
)

// BruteForceParams tunes one brute-force counter.
type BruteForceParams struct {
	Threshold int             `yaml:"threshold"`
	Window    time.Duration   `yaml:"window"`
	Severity  schema.Severity `yaml:"severity"`
}

// Params holds the tunable thresholds for all detection rules. Zero values
// are filled from DefaultParams by config loading.
type Params struct {
	BruteForceIP   BruteForceParams `yaml:"brute_force_ip"`
	BruteForceUser BruteForceParams `yaml:"brute_force_user"`

	// TravelWindow is the maximum gap between logins from different
	// countries that still counts as implausible travel.
	TravelWindow time.Duration `yaml:"travel_window"`

	// NewDeviceSeverity is asserted when a successful login arrives from a
	// fingerprint never seen for the user.
	NewDeviceSeverity schema.Severity `yaml:"new_device_severity"`

	// RateLimitWindow bounds the lookback used to annotate repeated
	// rate-limit violations from one address.
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// QueryTimeout caps each individual history lookup a rule performs.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultParams returns the production thresholds.
func DefaultParams() Params {
	return Params{
		BruteForceIP: BruteForceParams{
			Threshold: 5,
			Window:    15 * time.Minute,
			Severity:  schema.SeverityMedium,
		},
		BruteForceUser: BruteForceParams{
			Threshold: 10,
			Window:    30 * time.Minute,
			Severity:  schema.SeverityHigh,
		},
		TravelWindow:      time.Hour,
		NewDeviceSeverity: schema.SeverityMedium,
		RateLimitWindow:   time.Hour,
		QueryTimeout:      3 * time.Second,
	}
}

// Validate rejects parameter combinations that would disable or distort the
// rules in surprising ways.
func (p Params) Validate() error {
	if p.BruteForceIP.Threshold < 1 {
		return fmt.Errorf("brute_force_ip threshold must be at least 1, got %d", p.BruteForceIP.Threshold)
	}
	if p.BruteForceUser.Threshold < 1 {
		return fmt.Errorf("brute_force_user threshold must be at least 1, got %d", p.BruteForceUser.Threshold)
	}
	if p.BruteForceIP.Window <= 0 || p.BruteForceUser.Window <= 0 {
		return fmt.Errorf("brute force windows must be positive")
	}
	if p.TravelWindow <= 0 {
		return fmt.Errorf("travel_window must be positive, got %s", p.TravelWindow)
	}
	if p.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %s", p.QueryTimeout)
	}
	for _, sev := range []schema.Severity{p.BruteForceIP.Severity, p.BruteForceUser.Severity, p.NewDeviceSeverity} {
		if !sev.IsValid() {
			return fmt.Errorf("invalid severity %q in detection params", sev)
		}
	}
	return nil
}
