package rule

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
)

func q(name string) dnsmodel.Query {
	return dnsmodel.NewQuery(dnswire.QTypeA, name)
}

func TestStaticRuleMatch(t *testing.T) {
	r := NewStatic("Example.com", nil, nil, false)
	ok, err := r.Matches(q("example.com"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Matches(q("www.example.com"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticRuleCaseSensitive(t *testing.T) {
	r := NewStatic("Example.com", nil, nil, true)
	ok, _ := r.Matches(q("example.com"))
	assert.False(t, ok, "case-sensitive static rule must not fold case")
}

func TestZoneRuleMatch(t *testing.T) {
	r := NewZone("example.com", nil, nil, false)

	ok, _ := r.Matches(q("example.com"))
	assert.True(t, ok)

	ok, _ = r.Matches(q("www.example.com"))
	assert.True(t, ok)

	ok, _ = r.Matches(q("notexample.com"))
	assert.False(t, ok)
}

func TestZoneRuleEmptyZoneMatchesRoot(t *testing.T) {
	r := NewZone("", nil, nil, false)

	ok, _ := r.Matches(q("anything.at.all"))
	assert.True(t, ok)

	ok, _ = r.Matches(q(""))
	assert.True(t, ok)
}

func TestRegexRuleFullMatch(t *testing.T) {
	pattern := regexp.MustCompile(`^host\d+\.example\.com$`)
	r, err := NewRegex(pattern, nil, nil, true)
	require.NoError(t, err)

	ok, _ := r.Matches(q("host1.example.com"))
	assert.True(t, ok)

	ok, _ = r.Matches(q("somehost1.example.com"))
	assert.False(t, ok, "full-match semantics must reject partial matches")
}

func TestRegexRuleCaseInsensitiveDoesNotLowercaseQuery(t *testing.T) {
	pattern := regexp.MustCompile(`^HOST\.example\.com$`)
	r, err := NewRegex(pattern, nil, nil, false)
	require.NoError(t, err)

	ok, _ := r.Matches(q("host.example.com"))
	assert.True(t, ok)
}

func TestWildcardSingleLabel(t *testing.T) {
	r := NewWildcard("*.example.com", nil, nil, false)

	ok, err := r.Matches(q("foo.example.com"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = r.Matches(q("foo.bar.example.com"))
	assert.False(t, ok, "single * must not span multiple labels")
}

func TestWildcardDoubleStarSpansLabels(t *testing.T) {
	r := NewWildcard("**.example.com", nil, nil, false)

	ok, _ := r.Matches(q("foo.example.com"))
	assert.True(t, ok)

	ok, _ = r.Matches(q("foo.bar.baz.example.com"))
	assert.True(t, ok)
}

func TestWildcardBaseDomainSubstitution(t *testing.T) {
	r := NewWildcard("www.{base_domain}", nil, nil, false)

	ok, err := r.Matches(q("www.example.com"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWildcardBaseDomainPublicSuffix(t *testing.T) {
	r := NewWildcard("_dmarc.{base_domain}", nil, nil, false)

	ok, err := r.Matches(q("_dmarc.example.com"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = r.Matches(q("_dmarc.example.co.uk"))
	assert.True(t, ok, "registrable domain under a multi-label public suffix")

	ok, _ = r.Matches(q("_dmarc.foo.example.com"))
	assert.False(t, ok, "base_domain is the registrable domain, not the full name")
}

func TestQTypeFiltering(t *testing.T) {
	r := NewStatic("example.com", nil, []dnswire.QType{dnswire.QTypeMX}, false)

	ok, _ := r.Matches(q("example.com"))
	assert.False(t, ok, "A query must be rejected when only MX is allowed")

	mxQuery := dnsmodel.NewQuery(dnswire.QTypeMX, "example.com")
	ok, _ = r.Matches(mxQuery)
	assert.True(t, ok)
}

func TestSmartClassification(t *testing.T) {
	r, err := Smart("example.com", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindStatic, r.Kind)

	r, err = Smart("*.example.com", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindWildcard, r.Kind)

	r, err = Smart("www.{base_domain}", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindWildcard, r.Kind)

	r, err = Smart(regexp.MustCompile(`^a$`), nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindRegex, r.Kind)

	_, err = Smart(42, nil, nil, false)
	assert.Error(t, err)
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, `static("example.com")`, NewStatic("example.com", nil, nil, false).String())
	assert.Equal(t, `zone("b2.com")`, NewZone("b2.com", nil, nil, false).String())
	assert.Equal(t, `wildcard("*.example.com")`, NewWildcard("*.example.com", nil, nil, false).String())

	r, err := NewRegex(regexp.MustCompile(`^a$`), nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, `regex("^a$")`, r.String())
}

func TestContainerDispatchFirstMatch(t *testing.T) {
	c := NewContainer()
	first := func(dnsmodel.Query) (any, error) { return "first", nil }
	second := func(dnsmodel.Query) (any, error) { return "second", nil }

	c.Add(NewZone("example.com", first, nil, false))
	c.Add(NewStatic("www.example.com", second, nil, false))

	handler, ok, err := c.Dispatch(q("www.example.com"))
	require.NoError(t, err)
	require.True(t, ok)

	result, err := handler(q("www.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "first", result, "zone rule registered first must win even though the static rule also matches")
}

func TestContainerDispatchNoMatch(t *testing.T) {
	c := NewContainer()
	c.Add(NewStatic("example.com", nil, nil, false))

	_, ok, err := c.Dispatch(q("nope.example.com"))
	require.NoError(t, err)
	assert.False(t, ok)
}
