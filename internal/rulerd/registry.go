package rulerd

import "fmt"

// Builder constructs a configured NameServer. Applications register one
// under a name with Register, typically from an init() func in their own
// package, and the CLI resolves --server NAME to it.
type Builder func() (*NameServer, error)

var registry = map[string]Builder{}

// Register installs builder under name. Re-registering a name replaces
// the earlier builder; intended to be called from package-level init()
// functions the way a plugin would register itself.
//
// Go has no dynamic import-by-string, so the --server flag names a key
// in this registry rather than a module path.
func Register(name string, builder Builder) {
	registry[name] = builder
}

// Lookup resolves name to its registered Builder.
func Lookup(name string) (Builder, error) {
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("rulerd: no server registered under %q", name)
	}
	return b, nil
}
