// Package rulerd assembles the rule engine and middleware pipeline into
// the three composition shapes a running server is built from: a pure
// rule container (Blueprint), a full server with its own middleware chain
// and hooks (NameServer), and sub-servers registered as rule handlers of
// a parent.
package rulerd

import (
	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/rule"
)

// Blueprint is a pure rule container: registering one as a rule on a
// NameServer causes its rules to be consulted inline when the outer rule
// matches, reusing the enclosing server's middleware and hooks rather
// than running a private chain of its own.
type Blueprint struct {
	rules *rule.Container
}

// NewBlueprint builds an empty Blueprint.
func NewBlueprint() *Blueprint {
	return &Blueprint{rules: rule.NewContainer()}
}

// Register adds a rule to the blueprint. input is classified by
// rule.Smart: a string containing "*" or "{base_domain}" becomes a
// Wildcard rule, any other string a Static rule, a compiled *regexp.Regexp
// a Regex rule, and a rule.RuleFactory is invoked directly.
func (b *Blueprint) Register(input any, handler rule.Handler, qtypes []dnswire.QType, caseSensitive bool) error {
	r, err := rule.Smart(input, qtypes, handler, caseSensitive)
	if err != nil {
		return err
	}
	b.rules.Add(r)
	return nil
}

// Rules returns the blueprint's rules in registration order.
func (b *Blueprint) Rules() []*rule.Rule {
	return b.rules.Rules()
}
