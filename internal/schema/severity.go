package schema

// Severity is the ordered severity scale for security events.
// The order is info < low < medium < high < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the numeric position of the severity in the total order.
// Unknown severities rank as info.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is greater than or equal to other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Escalate returns the severity one level above s, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityInfo:
		return SeverityLow
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// MaxSeverity returns the highest severity among the arguments.
// With no arguments it returns info.
func MaxSeverity(severities ...Severity) Severity {
	max := SeverityInfo
	for _, s := range severities {
		if severityRank[s] > severityRank[max] {
			max = s
		}
	}
	return max
}

// ParseSeverity returns the severity for a string, defaulting to info
// for empty or unknown values.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if !sev.IsValid() {
		return SeverityInfo
	}
	return sev
}

// AlertThreshold is the minimum resolved severity that opens an alert.
const AlertThreshold = SeverityHigh

// ShouldAlert reports whether a resolved severity crosses the alerting threshold.
func ShouldAlert(s Severity) bool {
	return s.AtLeast(AlertThreshold)
}
