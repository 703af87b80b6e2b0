package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/rule"
)

func testQuery() dnsmodel.Query {
	return dnsmodel.NewQuery(dnswire.QTypeA, "example.com")
}

func TestCoerce(t *testing.T) {
	resp, err := Coerce(nil)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNoError, resp.ErrorCode)

	a, err := dnsmodel.NewA("example.com", 300, "192.0.2.1")
	require.NoError(t, err)

	resp, err = Coerce(a)
	require.NoError(t, err)
	assert.Len(t, resp.Answers, 1)

	resp, err = Coerce([]dnsmodel.Record{a, a})
	require.NoError(t, err)
	assert.Len(t, resp.Answers, 2)

	want := dnsmodel.NXDomain()
	resp, err = Coerce(want)
	require.NoError(t, err)
	assert.Equal(t, want, resp)

	_, err = Coerce(42)
	assert.Error(t, err)
}

func TestQueryChainWiring(t *testing.T) {
	var order []string
	mw1 := func(q dnsmodel.Query, next Next) (dnsmodel.Response, error) {
		order = append(order, "mw1-before")
		resp, err := next(q)
		order = append(order, "mw1-after")
		return resp, err
	}
	mw2 := func(q dnsmodel.Query, next Next) (dnsmodel.Response, error) {
		order = append(order, "mw2-before")
		resp, err := next(q)
		order = append(order, "mw2-after")
		return resp, err
	}
	terminal := func(q dnsmodel.Query) (dnsmodel.Response, error) {
		order = append(order, "terminal")
		return dnsmodel.NewResponse(), nil
	}

	chain := NewQueryChain(mw1, mw2)
	head := chain.Seal(terminal)

	_, err := head(testQuery())
	require.NoError(t, err)
	assert.Equal(t, []string{"mw1-before", "mw2-before", "terminal", "mw2-after", "mw1-after"}, order)
}

func TestQueryChainSealTwicePanics(t *testing.T) {
	chain := NewQueryChain()
	chain.Seal(func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil })

	assert.PanicsWithError(t, ErrChainAlreadySealed.Error(), func() {
		chain.Seal(func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil })
	})
}

var errBoom = errors.New("boom")

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

func TestExceptionHandlerDispatchesByKind(t *testing.T) {
	classify := func(err error) []ErrorKind {
		var nf notFoundError
		if errors.As(err, &nf) {
			return []ErrorKind{"not-found"}
		}
		return []ErrorKind{"generic"}
	}
	eh := NewExceptionHandler(classify)
	eh.Register("not-found", func(dnsmodel.Query, error) dnsmodel.Response {
		return dnsmodel.NXDomain()
	})

	mw := eh.Middleware()

	resp, err := mw(testQuery(), func(dnsmodel.Query) (dnsmodel.Response, error) {
		return dnsmodel.Response{}, notFoundError{}
	})
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNXDomain, resp.ErrorCode)

	resp, err = mw(testQuery(), func(dnsmodel.Query) (dnsmodel.Response, error) {
		return dnsmodel.Response{}, errBoom
	})
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, resp.ErrorCode, "unclassified error must hit the default handler")
}

func TestExceptionHandlerRecoversPanic(t *testing.T) {
	eh := NewExceptionHandler(nil)
	mw := eh.Middleware()

	resp, err := mw(testQuery(), func(dnsmodel.Query) (dnsmodel.Response, error) {
		panic(errBoom)
	})
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, resp.ErrorCode)
}

func TestHookMiddlewareBeforeFirstQueryRunsOnce(t *testing.T) {
	h := NewHookMiddleware()
	calls := 0
	h.AddBeforeFirstQuery(func() error {
		calls++
		return nil
	})
	mw := h.Middleware()
	terminal := func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil }

	_, err := mw(testQuery(), terminal)
	require.NoError(t, err)
	_, err = mw(testQuery(), terminal)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestHookMiddlewareBeforeFirstQueryFailureLatches(t *testing.T) {
	h := NewHookMiddleware()
	h.AddBeforeFirstQuery(func() error { return errBoom })
	mw := h.Middleware()
	terminalCalls := 0
	terminal := func(dnsmodel.Query) (dnsmodel.Response, error) {
		terminalCalls++
		return dnsmodel.NewResponse(), nil
	}

	_, err := mw(testQuery(), terminal)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, h.Failed())

	_, err = mw(testQuery(), terminal)
	require.NoError(t, err, "a second query must proceed normally even though before_first_query failed")
	assert.Equal(t, 1, terminalCalls)
}

func TestHookMiddlewareBeforeQueryShortCircuits(t *testing.T) {
	h := NewHookMiddleware()
	h.AddBeforeQuery(func(dnsmodel.Query) (any, error) {
		return dnsmodel.NXDomain(), nil
	})
	mw := h.Middleware()
	terminalCalled := false
	terminal := func(dnsmodel.Query) (dnsmodel.Response, error) {
		terminalCalled = true
		return dnsmodel.NewResponse(), nil
	}

	resp, err := mw(testQuery(), terminal)
	require.NoError(t, err)
	assert.False(t, terminalCalled)
	assert.Equal(t, dnswire.RCodeNXDomain, resp.ErrorCode)
}

func TestHookMiddlewareAfterQueryRunsOnBothPaths(t *testing.T) {
	h := NewHookMiddleware()
	h.AddAfterQuery(func(r dnsmodel.Response) (dnsmodel.Response, error) {
		r.ErrorCode = dnswire.RCodeRefused
		return r, nil
	})
	mw := h.Middleware()
	terminal := func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil }

	resp, err := mw(testQuery(), terminal)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, resp.ErrorCode)

	h.AddBeforeQuery(func(dnsmodel.Query) (any, error) {
		return dnsmodel.NewResponse(), nil
	})
	resp, err = mw(testQuery(), terminal)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, resp.ErrorCode, "after_query must also run on a before_query short circuit")
}

func TestRuleTerminalDispatchAndNXDomain(t *testing.T) {
	c := rule.NewContainer()
	rec, err := dnsmodel.NewA("example.com", 300, "192.0.2.1")
	require.NoError(t, err)
	c.Add(rule.NewStatic("example.com", func(dnsmodel.Query) (any, error) { return rec, nil }, nil, false))

	terminal := RuleTerminal(c)

	resp, err := terminal(testQuery())
	require.NoError(t, err)
	assert.Len(t, resp.Answers, 1)

	resp, err = terminal(dnsmodel.NewQuery(dnswire.QTypeA, "nope.example.com"))
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNXDomain, resp.ErrorCode)
}

func TestQueryAdaptorRejectsNonQueryOpcode(t *testing.T) {
	pkt := &dnswire.Packet{
		Header: dnswire.Header{ID: 1, Flags: uint16(dnswire.OpCodeStatus) << 11},
	}
	adaptor := QueryAdaptor(func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil })

	reply, err := adaptor(pkt)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNotImp, dnswire.RCodeFromFlags(reply.Header.Flags))
}

func TestQueryAdaptorRejectsMultiQuestion(t *testing.T) {
	pkt := &dnswire.Packet{
		Header:    dnswire.Header{ID: 1},
		Questions: []dnswire.Question{{Name: "a.com", Type: uint16(dnswire.TypeA)}, {Name: "b.com", Type: uint16(dnswire.TypeA)}},
	}
	adaptor := QueryAdaptor(func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil })

	reply, err := adaptor(pkt)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeRefused, dnswire.RCodeFromFlags(reply.Header.Flags))
}

func TestQueryAdaptorRejectsUnknownQType(t *testing.T) {
	pkt := &dnswire.Packet{
		Header:    dnswire.Header{ID: 1},
		Questions: []dnswire.Question{{Name: "a.com", Type: 9999}},
	}
	adaptor := QueryAdaptor(func(dnsmodel.Query) (dnsmodel.Response, error) { return dnsmodel.NewResponse(), nil })

	reply, err := adaptor(pkt)
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeFormErr, dnswire.RCodeFromFlags(reply.Header.Flags))
}

func TestQueryAdaptorHappyPath(t *testing.T) {
	pkt := &dnswire.Packet{
		Header:    dnswire.Header{ID: 42},
		Questions: []dnswire.Question{{Name: "example.com", Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}},
	}
	rec, err := dnsmodel.NewA("example.com", 300, "192.0.2.1")
	require.NoError(t, err)

	adaptor := QueryAdaptor(func(q dnsmodel.Query) (dnsmodel.Response, error) {
		assert.Equal(t, dnswire.QTypeA, q.Type)
		assert.Equal(t, "example.com", q.Name)
		return dnsmodel.NewResponse(dnsmodel.WithAnswer(rec)), nil
	})

	reply, err := adaptor(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), reply.Header.ID)
	require.Len(t, reply.Answers, 1)
	assert.Equal(t, dnswire.RCodeNoError, dnswire.RCodeFromFlags(reply.Header.Flags))
}
