package rule

import "github.com/hydraforge/rulerd/internal/dnsmodel"

// Container holds an ordered set of rules and dispatches a Query to the
// first one that matches. Both NameServer and Blueprint embed a Container.
type Container struct {
	rules []*Rule
}

// NewContainer builds an empty rule container.
func NewContainer() *Container {
	return &Container{}
}

// Add appends a rule to the dispatch order. Rules are consulted in the
// order they were added; the first match wins.
func (c *Container) Add(r *Rule) {
	c.rules = append(c.rules, r)
}

// Rules returns the registered rules in dispatch order. The returned slice
// must not be mutated by callers.
func (c *Container) Rules() []*Rule {
	return c.rules
}

// Dispatch returns the handler of the first matching rule, or (nil, false)
// if no rule matches. A matching error from a rule (e.g. a malformed
// wildcard expansion) is returned rather than silently skipped.
func (c *Container) Dispatch(q dnsmodel.Query) (Handler, bool, error) {
	for _, r := range c.rules {
		ok, err := r.Matches(q)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return r.Handler, true, nil
		}
	}
	return nil, false, nil
}
