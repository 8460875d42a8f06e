package detect

import (
	"context"

	"threatsense/internal/schema"
)

// NamedRule pairs a rule identifier with its evaluation function.
type NamedRule struct {
	Name string
	Run  func(ctx context.Context, dc *Context) Result
}

// Registry maps event types to the ordered rules that inspect them. The
// table is static, built once at startup.
type Registry map[schema.EventType][]NamedRule

// BuildRegistry constructs the dispatch table for a rule set. Event types
// with no entry pass through detection untouched.
func BuildRegistry(rs *Ruleset) Registry {
	return Registry{
		schema.EventLoginFailure: {
			{Name: RuleBruteForceIP, Run: rs.BruteForceByIP},
			{Name: RuleBruteForceUser, Run: rs.BruteForceByUser},
		},
		schema.EventLoginSuccess: {
			{Name: RuleImpossibleTravel, Run: rs.ImpossibleTravel},
			{Name: RuleNewDevice, Run: rs.NewDevice},
		},
		schema.EventTokenRefresh: {
			{Name: RuleSessionAnomaly, Run: rs.SessionAnomaly},
		},
		schema.EventUnauthorizedAccess: {
			{Name: RulePrivilegeEscalation, Run: rs.PrivilegeEscalation},
		},
		schema.EventRateLimitExceeded: {
			{Name: RuleRateLimitViolation, Run: rs.RateLimitViolation},
		},
	}
}

// Evaluate runs every rule registered for the event type, in table order,
// and returns all results. Rules never panic the pipeline; a rule that
// cannot consult history reports not triggered.
func (r Registry) Evaluate(ctx context.Context, dc *Context) []Result {
	rules, ok := r[dc.EventType]
	if !ok {
		return nil
	}
	results := make([]Result, 0, len(rules))
	for _, rule := range rules {
		results = append(results, rule.Run(ctx, dc))
	}
	return results
}

// RuleNames returns the rule identifiers registered for an event type, in
// evaluation order. Used by the admin routing surface.
func (r Registry) RuleNames(t schema.EventType) []string {
	rules := r[t]
	names := make([]string, 0, len(rules))
	for _, rule := range rules {
		names = append(names, rule.Name)
	}
	return names
}
