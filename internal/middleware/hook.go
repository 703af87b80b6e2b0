package middleware

import (
	"sync"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
)

// BeforeFirstQueryHook runs once, before the first query any server
// lifetime processes.
type BeforeFirstQueryHook func() error

// BeforeQueryHook runs before dispatch for every query. Returning a
// non-nil, non-error result short-circuits dispatch; the result is
// coerced to a Response the same way a matched rule's result is.
type BeforeQueryHook func(dnsmodel.Query) (any, error)

// AfterQueryHook runs after a Response has been produced, by a
// before_query short circuit or by the chain's terminal, and may
// transform it.
type AfterQueryHook func(dnsmodel.Response) (dnsmodel.Response, error)

// HookMiddleware runs the three hook families at their fixed points in
// the query chain. before_first_query is guarded by a mutex-latched
// "ran" flag set before the hooks run, so a failure still marks the set
// as having run and it is never retried.
type HookMiddleware struct {
	mu               sync.Mutex
	beforeFirstQuery []BeforeFirstQueryHook
	beforeQuery      []BeforeQueryHook
	afterQuery       []AfterQueryHook
	ran              bool
	failed           bool
}

// NewHookMiddleware builds an empty HookMiddleware.
func NewHookMiddleware() *HookMiddleware {
	return &HookMiddleware{}
}

// AddBeforeFirstQuery appends hooks to the before_first_query set.
func (h *HookMiddleware) AddBeforeFirstQuery(hooks ...BeforeFirstQueryHook) {
	h.beforeFirstQuery = append(h.beforeFirstQuery, hooks...)
}

// AddBeforeQuery appends hooks to the before_query set, run in order.
func (h *HookMiddleware) AddBeforeQuery(hooks ...BeforeQueryHook) {
	h.beforeQuery = append(h.beforeQuery, hooks...)
}

// AddAfterQuery appends hooks to the after_query set, run in order.
func (h *HookMiddleware) AddAfterQuery(hooks ...AfterQueryHook) {
	h.afterQuery = append(h.afterQuery, hooks...)
}

// Failed reports whether before_first_query ran and failed.
func (h *HookMiddleware) Failed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

func (h *HookMiddleware) runBeforeFirstQueryOnce() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return nil
	}
	h.ran = true
	for _, hook := range h.beforeFirstQuery {
		if err := hook(); err != nil {
			h.failed = true
			return err
		}
	}
	return nil
}

// Middleware returns the QueryMiddleware form of this hook set.
func (h *HookMiddleware) Middleware() QueryMiddleware {
	return func(q dnsmodel.Query, next Next) (dnsmodel.Response, error) {
		if err := h.runBeforeFirstQueryOnce(); err != nil {
			return dnsmodel.Response{}, err
		}

		var result any
		matched := false
		for _, hook := range h.beforeQuery {
			r, err := hook(q)
			if err != nil {
				return dnsmodel.Response{}, err
			}
			if r != nil {
				result = r
				matched = true
				break
			}
		}

		var resp dnsmodel.Response
		var err error
		if matched {
			resp, err = Coerce(result)
		} else {
			resp, err = next(q)
		}
		if err != nil {
			return dnsmodel.Response{}, err
		}

		for _, hook := range h.afterQuery {
			resp, err = hook(resp)
			if err != nil {
				return dnsmodel.Response{}, err
			}
		}
		return resp, nil
	}
}
