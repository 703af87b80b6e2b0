package rulerd

import (
	"log/slog"
	"sync"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/middleware"
	"github.com/hydraforge/rulerd/internal/rule"
)

// NameServer owns a rule container, its own query and raw middleware
// chains, an exception handler at the head of each, and the hook
// middleware family. It is the unit of composition: registering another
// NameServer as a rule makes that NameServer a sub-server, with its own
// chain scoped to the subtree.
type NameServer struct {
	rules *rule.Container

	queryExceptions *middleware.ExceptionHandler
	rawExceptions   *middleware.RawExceptionHandler
	hooks           *middleware.HookMiddleware

	mu          sync.Mutex
	sealed      bool
	userQueryMW []middleware.QueryMiddleware
	userRawMW   []middleware.RawMiddleware

	sealOnce    sync.Once
	sealedQuery middleware.Next
	sealedRaw   middleware.RawNext
}

// Option configures a NameServer at construction time.
type Option func(*NameServer)

// WithClassifyError installs the ClassifyError callback used by both the
// query- and raw-layer exception handlers to walk an error's declared
// kind ancestry.
func WithClassifyError(classify middleware.ClassifyError) Option {
	return func(n *NameServer) {
		n.queryExceptions = middleware.NewExceptionHandler(classify)
		n.rawExceptions = middleware.NewRawExceptionHandler(classify)
	}
}

// New builds a NameServer with an empty rule set, a default exception
// handler pair (SERVFAIL fallback, no registered kinds), and empty hooks.
func New(opts ...Option) *NameServer {
	n := &NameServer{
		rules:           rule.NewContainer(),
		queryExceptions: middleware.NewExceptionHandler(nil),
		rawExceptions:   middleware.NewRawExceptionHandler(nil),
		hooks:           middleware.NewHookMiddleware(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Hooks returns the server's hook middleware, for registering
// before_first_query / before_query / after_query hooks before the
// server starts serving.
func (n *NameServer) Hooks() *middleware.HookMiddleware {
	return n.hooks
}

// QueryExceptions returns the query-layer exception handler, for
// registering kind-specific handlers before the server starts serving.
func (n *NameServer) QueryExceptions() *middleware.ExceptionHandler {
	return n.queryExceptions
}

// RawExceptions returns the raw-layer exception handler.
func (n *NameServer) RawExceptions() *middleware.RawExceptionHandler {
	return n.rawExceptions
}

// Use appends a user query middleware. Panics if the chain has already
// been sealed by a call to QueryEntryPoint/RawEntryPoint/Serve, matching
// the chain is sealed after first use.
func (n *NameServer) Use(mw ...middleware.QueryMiddleware) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sealed {
		panic(middleware.ErrChainAlreadySealed)
	}
	n.userQueryMW = append(n.userQueryMW, mw...)
}

// UseRaw appends a user raw middleware. Same sealing rule as Use.
func (n *NameServer) UseRaw(mw ...middleware.RawMiddleware) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sealed {
		panic(middleware.ErrChainAlreadySealed)
	}
	n.userRawMW = append(n.userRawMW, mw...)
}

// Register adds a rule whose handler answers matched queries directly.
// input is classified by rule.Smart (see Blueprint.Register).
func (n *NameServer) Register(input any, handler rule.Handler, qtypes []dnswire.QType, caseSensitive bool) error {
	r, err := rule.Smart(input, qtypes, handler, caseSensitive)
	if err != nil {
		return err
	}
	n.rules.Add(r)
	slog.Debug("rule registered", "rule", r.String())
	return nil
}

// RegisterBlueprint registers bp's rules to be consulted inline whenever
// the outer input rule matches. Dispatch into bp reuses this NameServer's
// middleware and hooks: bp contributes rules only, not a chain.
func (n *NameServer) RegisterBlueprint(input any, bp *Blueprint, qtypes []dnswire.QType, caseSensitive bool) error {
	return n.Register(input, blueprintHandler(bp), qtypes, caseSensitive)
}

// RegisterSubServer installs sub as the handler of the matching rule. A
// sub-server runs its own full query chain (its own exception handler,
// user middleware, and hooks) scoped to the subtree.
func (n *NameServer) RegisterSubServer(input any, sub *NameServer, qtypes []dnswire.QType, caseSensitive bool) error {
	entry := sub.QueryEntryPoint()
	handler := func(q dnsmodel.Query) (any, error) {
		return entry(q)
	}
	return n.Register(input, handler, qtypes, caseSensitive)
}

func blueprintHandler(bp *Blueprint) rule.Handler {
	return func(q dnsmodel.Query) (any, error) {
		h, ok, err := bp.rules.Dispatch(q)
		if err != nil {
			return nil, err
		}
		if !ok {
			return dnsmodel.NXDomain(), nil
		}
		return h(q)
	}
}

// seal builds the sealed query and raw chains exactly once. Safe to call
// repeatedly; only the first call's wiring takes effect.
func (n *NameServer) seal() {
	n.sealOnce.Do(func() {
		n.mu.Lock()
		n.sealed = true
		queryMW := make([]middleware.QueryMiddleware, 0, len(n.userQueryMW)+2)
		queryMW = append(queryMW, n.queryExceptions.Middleware())
		queryMW = append(queryMW, n.userQueryMW...)
		queryMW = append(queryMW, n.hooks.Middleware())
		rawMW := make([]middleware.RawMiddleware, 0, len(n.userRawMW)+1)
		rawMW = append(rawMW, n.rawExceptions.Middleware())
		rawMW = append(rawMW, n.userRawMW...)
		n.mu.Unlock()

		terminal := middleware.RuleTerminal(n.rules)
		n.sealedQuery = middleware.NewQueryChain(queryMW...).Seal(terminal)
		rawTerminal := middleware.QueryAdaptor(n.sealedQuery)
		n.sealedRaw = middleware.NewRawChain(rawMW...).Seal(rawTerminal)
	})
}

// QueryEntryPoint returns this server's sealed query chain head. This is
// what a parent server's rule calls into when this NameServer is
// registered as a sub-server.
func (n *NameServer) QueryEntryPoint() middleware.Next {
	n.seal()
	return n.sealedQuery
}

// RawEntryPoint returns this server's sealed raw chain head: the entry
// point a transport hands a decoded *dnswire.Packet to.
func (n *NameServer) RawEntryPoint() middleware.RawNext {
	n.seal()
	return n.sealedRaw
}

// Rules exposes the server's own rule container (not including any
// sub-server's or blueprint's rules, which are only reachable through
// dispatch).
func (n *NameServer) Rules() []*rule.Rule {
	return n.rules.Rules()
}
