// Package dnsmodel holds the decoded-query/decoded-response model that
// middleware and rule handlers operate on, plus the validating Record
// constructors. It sits above internal/dnswire: dnswire deals in raw bytes
// and RecordType constants, this package deals in the shapes application
// code actually writes rule handlers against.
package dnsmodel

import (
	"strings"

	"github.com/hydraforge/rulerd/internal/dnswire"
)

// Query is the decoded form of a single DNS question.
type Query struct {
	Type dnswire.QType
	Name string
}

// NewQuery builds a Query, normalizing name the same way the wire decoder
// does: lowercased, trailing dot stripped, root is "".
func NewQuery(qtype dnswire.QType, name string) Query {
	return Query{
		Type: dnswire.QType(strings.ToUpper(string(qtype))),
		Name: dnswire.NormalizeName(name),
	}
}

// FQDN returns the query name with a trailing dot, the conventional
// zone-file spelling; the root query renders as ".".
func (q Query) FQDN() string {
	if q.Name == "" {
		return "."
	}
	return q.Name + "."
}
