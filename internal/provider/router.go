package provider

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Rule routes file names matching Pattern to Provider.
type Rule struct {
	Pattern  string
	Provider string
}

type compiledRule struct {
	Rule
	g glob.Glob
}

// Router picks a provider for a file name. Rules are tried in order and the
// first match wins; patterns match the base name case-insensitively.
type Router struct {
	rules    []compiledRule
	fallback string
}

// NewRouter compiles rules. fallback is used when nothing matches and may
// be empty.
func NewRouter(rules []Rule, fallback string) (*Router, error) {
	r := &Router{fallback: fallback}
	for i, rule := range rules {
		if rule.Provider == "" {
			return nil, fmt.Errorf("rule %d (%s): provider is required", i, rule.Pattern)
		}
		g, err := glob.Compile(strings.ToLower(rule.Pattern))
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, rule.Pattern, err)
		}
		r.rules = append(r.rules, compiledRule{Rule: rule, g: g})
	}
	return r, nil
}

// Route returns the provider for name, or false when no rule matches and
// there is no fallback.
func (r *Router) Route(name string) (string, bool) {
	base := strings.ToLower(filepath.Base(name))
	for _, rule := range r.rules {
		if rule.g.Match(base) {
			return rule.Provider, true
		}
	}
	if r.fallback != "" {
		return r.fallback, true
	}
	return "", false
}

// Providers returns every provider id the router can produce, in rule
// order followed by the fallback, without duplicates.
func (r *Router) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, rule := range r.rules {
		add(rule.Provider)
	}
	add(r.fallback)
	return out
}
