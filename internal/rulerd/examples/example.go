// Package examples registers a small sample NameServer under the name
// "example", so `rulerd --server example` has something to run without a
// separate application repository: a single static A record.
package examples

import (
	"github.com/hydraforge/rulerd/internal/dnsmodel"
	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/rulerd"
)

func init() {
	rulerd.Register("example", build)
}

func build() (*rulerd.NameServer, error) {
	n := rulerd.New()

	err := n.Register("example.com", staticA("1.2.3.4"), []dnswire.QType{dnswire.QTypeA}, false)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func staticA(addr string) func(dnsmodel.Query) (any, error) {
	return func(q dnsmodel.Query) (any, error) {
		return dnsmodel.NewA(q.Name, 300, addr)
	}
}
