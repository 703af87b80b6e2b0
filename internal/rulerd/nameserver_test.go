package rulerd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/middleware"
	"github.com/hydraforge/rulerd/internal/rule"
)

func q(name string) dnsmodel.Query {
	return dnsmodel.NewQuery(dnswire.QTypeA, name)
}

func TestNameServerFirstMatchDispatch(t *testing.T) {
	n := New()
	require.NoError(t, n.Register("example.com", func(dnsmodel.Query) (any, error) {
		rec, err := dnsmodel.NewA("example.com", 300, "1.2.3.4")
		return rec, err
	}, nil, false))
	require.NoError(t, n.Register("example.com", func(dnsmodel.Query) (any, error) {
		return nil, errors.New("should not be called")
	}, nil, false))

	resp, err := n.QueryEntryPoint()(q("example.com"))
	require.NoError(t, err)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, dnswire.RCodeNoError, resp.ErrorCode)
}

func TestNameServerUnmatchedQueryIsNXDomain(t *testing.T) {
	n := New()
	require.NoError(t, n.Register("example.com", func(dnsmodel.Query) (any, error) {
		return nil, nil
	}, nil, false))

	resp, err := n.QueryEntryPoint()(q("other.com"))
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeNXDomain, resp.ErrorCode)
}

func TestNameServerHandlerErrorBecomesServFail(t *testing.T) {
	n := New()
	require.NoError(t, n.Register("example.com", func(dnsmodel.Query) (any, error) {
		return nil, errors.New("boom")
	}, nil, false))

	resp, err := n.QueryEntryPoint()(q("example.com"))
	require.NoError(t, err)
	assert.Equal(t, dnswire.RCodeServFail, resp.ErrorCode)
}

func TestNameServerUseAfterSealPanics(t *testing.T) {
	n := New()
	n.QueryEntryPoint() // seals the chain

	assert.PanicsWithValue(t, middleware.ErrChainAlreadySealed, func() {
		n.Use(func(q dnsmodel.Query, next middleware.Next) (dnsmodel.Response, error) {
			return next(q)
		})
	})
}

func TestNameServerRegisterSubServer(t *testing.T) {
	parent := New()
	child := New()
	require.NoError(t, child.Register("api.example.com", func(dnsmodel.Query) (any, error) {
		rec, err := dnsmodel.NewA("api.example.com", 300, "10.0.0.1")
		return rec, err
	}, nil, false))

	zone := rule.RuleFactory(func(h rule.Handler, qtypes []dnswire.QType, caseSensitive bool) (*rule.Rule, error) {
		return rule.NewZone("example.com", h, qtypes, caseSensitive), nil
	})
	require.NoError(t, parent.RegisterSubServer(zone, child, nil, false))

	resp, err := parent.QueryEntryPoint()(q("api.example.com"))
	require.NoError(t, err)
	require.Len(t, resp.Answers, 1)
}
