package cohort

import "strings"

// Rule maps any of a set of role names to a cohort.
type Rule struct {
	Cohort string
	Roles  []string
}

// Resolver maps a caller's role names to at most one cohort. Rules are
// checked in order, the first rule with a matching role wins.
type Resolver struct {
	rules []Rule
}

func NewResolver(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Resolve returns the cohort of the first rule matching one of roles.
// Role names compare case-insensitively, surrounding spaces ignored.
func (r *Resolver) Resolve(roles []string) (string, bool) {
	have := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		have[normalize(role)] = struct{}{}
	}
	for _, rule := range r.rules {
		for _, role := range rule.Roles {
			if _, ok := have[normalize(role)]; ok {
				return rule.Cohort, true
			}
		}
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
