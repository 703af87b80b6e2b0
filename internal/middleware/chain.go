// Package middleware implements the two parallel chain-of-responsibility
// pipelines a name server runs queries through: a raw, wire-level chain
// and a decoded-query chain, plus the exception-handler and hook
// middleware that sit at fixed points in each.
package middleware

import (
	"errors"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
)

// ErrChainAlreadySealed is the panic value raised by a second call to
// Seal on the same chain.
var ErrChainAlreadySealed = errors.New("middleware: chain is already sealed")

// Next is the continuation a QueryMiddleware calls to proceed down the
// chain. The terminal Next of a query chain is ordinarily a rule dispatch.
type Next func(dnsmodel.Query) (dnsmodel.Response, error)

// QueryMiddleware may call next zero or more times, transform its result,
// recover from a panic, or synthesize a response outright.
type QueryMiddleware func(dnsmodel.Query, Next) (dnsmodel.Response, error)

// QueryChain wires an ordered list of QueryMiddleware onto a terminal Next.
// It may be sealed exactly once; a second Seal call panics.
type QueryChain struct {
	mw     []QueryMiddleware
	sealed bool
}

// NewQueryChain builds an unsealed chain from mw, head first.
func NewQueryChain(mw ...QueryMiddleware) *QueryChain {
	return &QueryChain{mw: mw}
}

// Seal wires the chain onto terminal and returns the resulting head Next.
// Calling Seal a second time panics with ErrChainAlreadySealed.
func (c *QueryChain) Seal(terminal Next) Next {
	if c.sealed {
		panic(ErrChainAlreadySealed)
	}
	c.sealed = true

	next := terminal
	for i := len(c.mw) - 1; i >= 0; i-- {
		mw := c.mw[i]
		downstream := next
		next = func(q dnsmodel.Query) (dnsmodel.Response, error) {
			return mw(q, downstream)
		}
	}
	return next
}

// Coerce converts a rule-handler or hook result into a Response:
//   - nil becomes an empty NOERROR response
//   - a Response is used as-is
//   - a single Record becomes its sole answer
//   - a []Record becomes the answer set
//
// Any other type is a coercion error, treated the same as the handler
// having failed.
func Coerce(result any) (dnsmodel.Response, error) {
	switch v := result.(type) {
	case nil:
		return dnsmodel.NewResponse(), nil
	case dnsmodel.Response:
		return v, nil
	case dnsmodel.Record:
		return dnsmodel.NewResponse(dnsmodel.WithAnswer(v)), nil
	case []dnsmodel.Record:
		return dnsmodel.NewResponse(dnsmodel.WithAnswers(v)), nil
	default:
		return dnsmodel.Response{}, errCannotCoerce(result)
	}
}
