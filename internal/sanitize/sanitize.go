// Package sanitize redacts sensitive data from event metadata before it is
// persisted or logged.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Redacted replaces any value whose key or content looks sensitive.
const Redacted = "[REDACTED]"

// Truncated replaces structures nested beyond MaxDepth.
const Truncated = "[TRUNCATED]"

const (
	// MaxDepth bounds recursion into nested metadata structures.
	MaxDepth = 3
	// MaxStringLen bounds the length of persisted string values.
	MaxStringLen = 1000
	// MaxSliceLen bounds the number of persisted slice elements.
	MaxSliceLen = 20
)

// sensitivePattern matches key or value fragments that must never be stored.
var sensitivePattern = regexp.MustCompile(`(?i)(token|password|otp|secret|authorization|cookie|session|refresh)`)

// Metadata sanitizes every value in a metadata bag. A nil bag yields an
// empty, non-nil map so the persisted record keeps its shape.
func Metadata(metadata map[string]any) map[string]any {
	sanitized := make(map[string]any, len(metadata))
	for key, value := range metadata {
		sanitized[key] = Value(key, value, 0)
	}
	return sanitized
}

// Value sanitizes one metadata value. The key drives redaction decisions:
// sensitive keys are fully redacted regardless of value, email-ish values are
// partially masked, long strings truncated, and nested structures walked to a
// bounded depth.
func Value(key string, value any, depth int) any {
	if depth >= MaxDepth {
		return Truncated
	}

	if value == nil {
		return nil
	}

	if sensitivePattern.MatchString(key) {
		return Redacted
	}

	switch v := value.(type) {
	case string:
		if sensitivePattern.MatchString(v) {
			return Redacted
		}
		if strings.Contains(strings.ToLower(key), "email") || strings.Contains(v, "@") {
			return MaskEmail(v)
		}
		if len(v) > MaxStringLen {
			return v[:MaxStringLen]
		}
		return v
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v
	case []any:
		n := len(v)
		if n > MaxSliceLen {
			n = MaxSliceLen
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = Value(key, v[i], depth+1)
		}
		return out
	case []string:
		n := len(v)
		if n > MaxSliceLen {
			n = MaxSliceLen
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = Value(key, v[i], depth+1)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for nestedKey, nestedValue := range v {
			out[nestedKey] = Value(nestedKey, nestedValue, depth+1)
		}
		return out
	default:
		return Value(key, fmt.Sprintf("%v", v), depth)
	}
}

// MaskEmail partially masks an email address, preserving the first two
// characters of the local part and the domain. Values that do not look like
// a maskable address are fully redacted.
func MaskEmail(value string) string {
	normalized := strings.TrimSpace(value)
	at := strings.Index(normalized, "@")
	if at <= 1 {
		return Redacted
	}

	local := normalized[:at]
	domain := normalized[at+1:]
	if domain == "" {
		return Redacted
	}

	prefix := local
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return prefix + "***@" + domain
}

// IsSensitiveKey reports whether a metadata key matches the sensitive-term
// pattern.
func IsSensitiveKey(key string) bool {
	return sensitivePattern.MatchString(key)
}
