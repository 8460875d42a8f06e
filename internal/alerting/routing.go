package alerting

import (
	"strings"
	"unicode"

	"threatsense/internal/schema"
)

// Domain is the responder queue an alert is routed to.
type Domain string

const (
	DomainBilling  Domain = "billing"
	DomainTrial    Domain = "trial"
	DomainIdentity Domain = "identity"
	DomainTenancy  Domain = "tenancy"
	DomainSecurity Domain = "security"
)

// routingKeywords maps token markers to domains, checked in order. The
// generic security queue catches everything unmatched.
var routingKeywords = []struct {
	markers []string
	domain  Domain
}{
	{[]string{"billing", "payment", "subscription"}, DomainBilling},
	{[]string{"trial"}, DomainTrial},
	{[]string{"user", "auth", "login", "token", "password", "session"}, DomainIdentity},
	{[]string{"org", "tenant"}, DomainTenancy},
}

// Classify routes an alert to a responder domain based on the event type
// and the request path that produced it. Matching is token-level so a
// marker like "auth" claims /api/auth/keys but not
// unauthorized_access_attempt; routing is computed on read and never
// persisted with the alert.
func Classify(eventType schema.EventType, path string) Domain {
	tokens := routingTokens(eventType, path)
	for _, entry := range routingKeywords {
		for _, marker := range entry.markers {
			for _, token := range tokens {
				if strings.HasPrefix(token, marker) {
					return entry.domain
				}
			}
		}
	}
	return DomainSecurity
}

func routingTokens(eventType schema.EventType, path string) []string {
	sep := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	tokens := strings.FieldsFunc(strings.ToLower(string(eventType)), sep)
	return append(tokens, strings.FieldsFunc(strings.ToLower(path), sep)...)
}

// DefaultRoutes describes where each known event type lands with an empty
// request path. Served by the admin routing endpoint alongside the live
// open-alert counts.
func DefaultRoutes() map[schema.EventType]Domain {
	types := []schema.EventType{
		schema.EventLoginSuccess,
		schema.EventLoginFailure,
		schema.EventTokenRefresh,
		schema.EventUnauthorizedAccess,
		schema.EventRateLimitExceeded,
		schema.EventPasswordReset,
		schema.EventSessionRevoked,
	}
	matrix := make(map[schema.EventType]Domain, len(types))
	for _, t := range types {
		matrix[t] = Classify(t, "")
	}
	return matrix
}
