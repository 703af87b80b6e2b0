package middleware

import (
	"fmt"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
)

// ErrorKind tags a caller-declared category of error. Go has no exception
// class hierarchy to walk, so ExceptionHandler relies on the caller's
// ClassifyError to return the chain of kinds an error belongs to, ordered
// most specific first.
type ErrorKind string

// ClassifyError returns the ordered kinds err belongs to, most specific
// first. A nil or empty result falls through to the default handler.
type ClassifyError func(error) []ErrorKind

// ExceptionHandlerFunc produces a Response for an error encountered while
// processing q.
type ExceptionHandlerFunc func(q dnsmodel.Query, err error) dnsmodel.Response

// ExceptionHandler is the head-of-chain middleware that recovers a query
// chain from both panics and returned errors, routing them to a
// kind-specific handler or the default SERVFAIL handler.
type ExceptionHandler struct {
	classify       ClassifyError
	handlers       map[ErrorKind]ExceptionHandlerFunc
	defaultHandler ExceptionHandlerFunc
}

// NewExceptionHandler builds an ExceptionHandler. classify may be nil, in
// which case every error falls through to the default handler.
func NewExceptionHandler(classify ClassifyError) *ExceptionHandler {
	return &ExceptionHandler{
		classify:       classify,
		handlers:       make(map[ErrorKind]ExceptionHandlerFunc),
		defaultHandler: defaultQueryExceptionHandler,
	}
}

func defaultQueryExceptionHandler(dnsmodel.Query, error) dnsmodel.Response {
	return dnsmodel.ServFail()
}

// Register installs fn as the handler for kind. A later call for the same
// kind replaces the earlier one.
func (h *ExceptionHandler) Register(kind ErrorKind, fn ExceptionHandlerFunc) {
	h.handlers[kind] = fn
}

// SetDefault overrides the fallback handler used when no registered kind
// matches.
func (h *ExceptionHandler) SetDefault(fn ExceptionHandlerFunc) {
	h.defaultHandler = fn
}

func (h *ExceptionHandler) resolve(q dnsmodel.Query, err error) dnsmodel.Response {
	if h.classify != nil {
		for _, kind := range h.classify(err) {
			if fn, ok := h.handlers[kind]; ok {
				return fn(q, err)
			}
		}
	}
	return h.defaultHandler(q, err)
}

// Middleware returns the QueryMiddleware form of this handler, meant to sit
// at the head of a query chain.
func (h *ExceptionHandler) Middleware() QueryMiddleware {
	return func(q dnsmodel.Query, next Next) (resp dnsmodel.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				panicErr, ok := r.(error)
				if !ok {
					panicErr = fmt.Errorf("middleware: recovered panic: %v", r)
				}
				resp = h.resolve(q, panicErr)
				err = nil
			}
		}()

		resp, chainErr := next(q)
		if chainErr != nil {
			return h.resolve(q, chainErr), nil
		}
		return resp, nil
	}
}
