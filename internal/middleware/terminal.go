package middleware

import (
	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/rule"
)

// RuleTerminal builds the terminal Next of a query chain: it dispatches
// against c and coerces the matched handler's result, or returns an
// NXDOMAIN Response when nothing matches.
func RuleTerminal(c *rule.Container) Next {
	return func(q dnsmodel.Query) (dnsmodel.Response, error) {
		handler, ok, err := c.Dispatch(q)
		if err != nil {
			return dnsmodel.Response{}, err
		}
		if !ok {
			return dnsmodel.NXDomain(), nil
		}

		result, err := handler(q)
		if err != nil {
			return dnsmodel.Response{}, err
		}
		return Coerce(result)
	}
}
