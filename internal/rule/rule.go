// Package rule implements the four matchable rule variants a name server
// dispatches queries against, and the ordered Container that runs them in
// first-match order.
package rule

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
)

// Handler answers a matched Query. Returning a non-nil error is equivalent
// to the handler throwing: the caller is expected to route it through an
// exception handler.
type Handler func(dnsmodel.Query) (any, error)

// Kind tags which matching strategy a Rule uses.
type Kind int

const (
	KindStatic Kind = iota
	KindZone
	KindRegex
	KindWildcard
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindZone:
		return "zone"
	case KindRegex:
		return "regex"
	case KindWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

var wildcardMarker = regexp.MustCompile(`[*]|\{base_domain\}`)

// Rule is a closed tagged variant: exactly one matching strategy, selected
// by Kind, applies to a given instance.
type Rule struct {
	Kind          Kind
	Handler       Handler
	AllowedQTypes map[dnswire.QType]struct{} // nil means "any"
	CaseSensitive bool

	matchString string         // Static
	zone        string         // Zone
	compiled    *regexp.Regexp // Regex; Wildcard compiles per query instead
	wildcard    string         // Wildcard: the raw pattern before {base_domain} substitution
}

// String renders the rule for log lines: the kind plus its match input.
func (r *Rule) String() string {
	switch r.Kind {
	case KindStatic:
		return fmt.Sprintf("static(%q)", r.matchString)
	case KindZone:
		return fmt.Sprintf("zone(%q)", r.zone)
	case KindRegex:
		return fmt.Sprintf("regex(%q)", r.compiled.String())
	case KindWildcard:
		return fmt.Sprintf("wildcard(%q)", r.wildcard)
	default:
		return "unknown"
	}
}

func (r *Rule) qtypeAllowed(t dnswire.QType) bool {
	if r.AllowedQTypes == nil {
		return true
	}
	_, ok := r.AllowedQTypes[t]
	return ok
}

// NewStatic builds an exact-match rule.
func NewStatic(matchString string, handler Handler, qtypes []dnswire.QType, caseSensitive bool) *Rule {
	m := matchString
	if !caseSensitive {
		m = strings.ToLower(m)
	}
	return &Rule{
		Kind:          KindStatic,
		Handler:       handler,
		AllowedQTypes: qtypeSet(qtypes),
		CaseSensitive: caseSensitive,
		matchString:   m,
	}
}

// NewZone builds a suffix-match rule. An empty zone matches every name
// (the DNS root).
func NewZone(zone string, handler Handler, qtypes []dnswire.QType, caseSensitive bool) *Rule {
	z := zone
	if !caseSensitive {
		z = strings.ToLower(z)
	}
	return &Rule{
		Kind:          KindZone,
		Handler:       handler,
		AllowedQTypes: qtypeSet(qtypes),
		CaseSensitive: caseSensitive,
		zone:          z,
	}
}

// NewRegex builds a full-match regex rule. When caseSensitive is false the
// pattern is recompiled with the (?i) flag; the query name passed to Match
// is never itself lowercased, since the pattern already folds case.
func NewRegex(pattern *regexp.Regexp, handler Handler, qtypes []dnswire.QType, caseSensitive bool) (*Rule, error) {
	compiled := pattern
	if !caseSensitive {
		recompiled, err := regexp.Compile(`(?i)` + pattern.String())
		if err != nil {
			return nil, fmt.Errorf("rule: recompiling regex case-insensitively: %w", err)
		}
		compiled = recompiled
	}
	return &Rule{
		Kind:          KindRegex,
		Handler:       handler,
		AllowedQTypes: qtypeSet(qtypes),
		CaseSensitive: caseSensitive,
		compiled:      compiled,
	}, nil
}

// NewWildcard builds a wildcard-pattern rule. The pattern is compiled to a
// regex at match time, since {base_domain} substitution depends on the
// query being matched.
func NewWildcard(pattern string, handler Handler, qtypes []dnswire.QType, caseSensitive bool) *Rule {
	return &Rule{
		Kind:          KindWildcard,
		Handler:       handler,
		AllowedQTypes: qtypeSet(qtypes),
		CaseSensitive: caseSensitive,
		wildcard:      pattern,
	}
}

func qtypeSet(qtypes []dnswire.QType) map[dnswire.QType]struct{} {
	if qtypes == nil {
		return nil
	}
	set := make(map[dnswire.QType]struct{}, len(qtypes))
	for _, t := range qtypes {
		set[t] = struct{}{}
	}
	return set
}

// Matches reports whether the rule applies to q.
func (r *Rule) Matches(q dnsmodel.Query) (bool, error) {
	if !r.qtypeAllowed(q.Type) {
		return false, nil
	}

	switch r.Kind {
	case KindStatic:
		name := q.Name
		if !r.CaseSensitive {
			name = strings.ToLower(name)
		}
		return name == r.matchString, nil

	case KindZone:
		name := q.Name
		if !r.CaseSensitive {
			name = strings.ToLower(name)
		}
		if r.zone == "" {
			return true, nil
		}
		return name == r.zone || strings.HasSuffix(name, "."+r.zone), nil

	case KindRegex:
		full, err := regexp.Compile(`^(?:` + r.compiled.String() + `)$`)
		if err != nil {
			return false, fmt.Errorf("rule: anchoring regex for full match: %w", err)
		}
		return full.MatchString(q.Name), nil

	case KindWildcard:
		compiled, err := compileWildcard(r.wildcard, q.Name, r.CaseSensitive)
		if err != nil {
			return false, err
		}
		return compiled.MatchString(q.Name), nil
	}

	return false, fmt.Errorf("rule: unknown kind %v", r.Kind)
}

// wildcard label character classes: case-insensitive matching compiles the
// pattern with (?i), so only the lowercase alphabet needs listing;
// case-sensitive matching allows mixed case.
const (
	labelClassCI = `[a-z0-9_-]+`
	labelClassCS = `[a-zA-Z0-9_-]+`
)

// compileWildcard expands a wildcard pattern into a full-match regex,
// substituting {base_domain} against queryName using the Public Suffix
// List, and * / ** against the label grammar.
func compileWildcard(pattern, queryName string, caseSensitive bool) (*regexp.Regexp, error) {
	labelClass := labelClassCI
	if caseSensitive {
		labelClass = labelClassCS
	}

	expanded := pattern
	if strings.Contains(pattern, "{base_domain}") {
		expanded = strings.ReplaceAll(pattern, "{base_domain}", baseDomain(queryName))
	}

	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(expanded) {
		switch {
		case strings.HasPrefix(expanded[i:], "**"):
			b.WriteString(`(?:` + labelClass + `\.)*` + labelClass)
			i += 2
		case expanded[i] == '*':
			b.WriteString(labelClass)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(expanded[i])))
			i++
		}
	}
	b.WriteString("$")

	flags := ""
	if !caseSensitive {
		flags = "(?i)"
	}
	return regexp.Compile(flags + b.String())
}

// baseDomain returns the effective registrable domain of name using the
// Public Suffix List. If name has no recognized public suffix, the
// leftmost label is used instead.
func baseDomain(name string) string {
	if name == "" {
		return name
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		labels := strings.Split(name, ".")
		return labels[0]
	}
	return domain
}

// RuleFactory lets a caller supply its own rule constructor to Smart,
// which invokes it with the handler, qtypes and case-sensitivity flag.
type RuleFactory func(handler Handler, qtypes []dnswire.QType, caseSensitive bool) (*Rule, error)

// Smart classifies input and builds the corresponding Rule: a compiled
// *regexp.Regexp becomes a Regex rule; a string containing "*" or
// "{base_domain}" becomes a Wildcard rule; any other string becomes a
// Static rule; a RuleFactory is invoked directly.
func Smart(input any, qtypes []dnswire.QType, handler Handler, caseSensitive bool) (*Rule, error) {
	switch v := input.(type) {
	case *regexp.Regexp:
		return NewRegex(v, handler, qtypes, caseSensitive)
	case RuleFactory:
		return v(handler, qtypes, caseSensitive)
	case string:
		if wildcardMarker.MatchString(v) {
			return NewWildcard(v, handler, qtypes, caseSensitive), nil
		}
		return NewStatic(v, handler, qtypes, caseSensitive), nil
	default:
		return nil, fmt.Errorf("rule: unsupported rule input type %T", input)
	}
}
