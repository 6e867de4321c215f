// Package collector implements the collector registry: named extension
// points whose aggregation objects are built from the contributions of the
// enabled modules, cached per epoch and rebuilt on recollect.
package collector

import (
	"fmt"
	"reflect"
)

// Definition describes one collector kind.
type Definition struct {
	Name        string
	Description string
	// TypeName is the Go type of the aggregation object, used as the
	// reverse-index key.
	TypeName string

	newFn    func() any
	finalize func(any) (any, error)
}

// New instantiates an empty aggregation object.
func (d *Definition) New() any {
	return d.newFn()
}

// Finalize runs the kind's finalizer, if any.
func (d *Definition) Finalize(v any) (any, error) {
	if d.finalize == nil {
		return v, nil
	}
	return d.finalize(v)
}

// Definer is anything that carries a collector definition.
type Definer interface {
	Definition() *Definition
}

// Definition implements Definer.
func (d *Definition) Definition() *Definition { return d }

// Type is a typed handle on a collector kind whose aggregation object is T.
type Type[T any] struct {
	def *Definition
}

// Definition implements Definer.
func (t Type[T]) Definition() *Definition { return t.def }

// Name returns the collector name.
func (t Type[T]) Name() string { return t.def.Name }

// DefineOption customizes a collector kind.
type DefineOption[T any] func(*Definition)

// WithFinalize sets a function applied to the aggregation object after every
// contribution has run. The returned value is what gets cached.
func WithFinalize[T any](fn func(T) (T, error)) DefineOption[T] {
	return func(d *Definition) {
		d.finalize = func(v any) (any, error) {
			t, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("%w: %s: got %T", ErrUnexpectedAggregate, d.Name, v)
			}
			return fn(t)
		}
	}
}

// Define declares a collector kind named name whose aggregation objects are
// created by newFn.
func Define[T any](name, description string, newFn func() T, opts ...DefineOption[T]) Type[T] {
	d := &Definition{
		Name:        name,
		Description: description,
		TypeName:    reflect.TypeFor[T]().String(),
		newFn:       func() any { return newFn() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return Type[T]{def: d}
}

func (d *Definition) validate() error {
	if d == nil || d.Name == "" || d.newFn == nil {
		return ErrInvalidDefinition
	}
	return nil
}
