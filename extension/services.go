package extension

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modhost/container"
)

type bindKind int

const (
	bindSingleton bindKind = iota
	bindTransient
	bindInstance
	bindAlias
)

type serviceBinding struct {
	kind    bindKind
	name    string
	target  string
	factory container.Factory
	value   any
}

// Services collects service container bindings. The first binding of a
// name wins.
type Services struct {
	bindings []serviceBinding
}

// NewServices returns an empty binding set.
func NewServices() *Services {
	return &Services{}
}

// Singleton binds name to a factory built once.
func (s *Services) Singleton(name string, factory container.Factory) {
	s.bindings = append(s.bindings, serviceBinding{kind: bindSingleton, name: name, factory: factory})
}

// Bind binds name to a factory built on every resolution.
func (s *Services) Bind(name string, factory container.Factory) {
	s.bindings = append(s.bindings, serviceBinding{kind: bindTransient, name: name, factory: factory})
}

// Instance binds name to value.
func (s *Services) Instance(name string, value any) {
	s.bindings = append(s.bindings, serviceBinding{kind: bindInstance, name: name, value: value})
}

// Alias makes alias resolve to name.
func (s *Services) Alias(alias, name string) {
	s.bindings = append(s.bindings, serviceBinding{kind: bindAlias, name: alias, target: name})
}

// Names lists bound names in registration order, duplicates removed.
func (s *Services) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, b := range s.bindings {
		if !seen[b.name] {
			seen[b.name] = true
			names = append(names, b.name)
		}
	}
	return names
}

// Container builds a container holding every binding.
func (s *Services) Container() *container.Container {
	c := container.New()
	seen := make(map[string]bool)
	for _, b := range s.bindings {
		if seen[b.name] {
			continue
		}
		seen[b.name] = true
		switch b.kind {
		case bindSingleton:
			c.Singleton(b.name, b.factory)
		case bindTransient:
			c.Bind(b.name, b.factory)
		case bindInstance:
			c.Instance(b.name, b.value)
		case bindAlias:
			c.Alias(b.name, b.target)
		}
	}
	return c
}

func (s *Services) String() string {
	var b strings.Builder
	for _, sb := range s.bindings {
		switch sb.kind {
		case bindAlias:
			fmt.Fprintf(&b, "%s -> %s\n", sb.name, sb.target)
		default:
			fmt.Fprintf(&b, "%s\n", sb.name)
		}
	}
	return b.String()
}
