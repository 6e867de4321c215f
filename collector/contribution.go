package collector

import (
	"cmp"
	"fmt"
	"slices"
)

// Contribution is one callback that populates a collector's aggregation
// object.
type Contribution struct {
	// Module is the name of the contributing module, empty for the internal
	// contributor.
	Module   string
	Kind     string
	Priority int

	apply func(any) error
}

// On builds a contribution to typ running fn with the given priority.
// Higher priorities run first.
func On[T any](typ Type[T], priority int, fn func(T) error) Contribution {
	kind := typ.Name()
	return Contribution{
		Kind:     kind,
		Priority: priority,
		apply: func(v any) error {
			t, ok := v.(T)
			if !ok {
				return fmt.Errorf("%w: %s: got %T", ErrUnexpectedAggregate, kind, v)
			}
			return fn(t)
		},
	}
}

// From tags c with its originating module.
func (c Contribution) From(module string) Contribution {
	c.Module = module
	return c
}

// Apply runs the contribution against an aggregation object.
func (c Contribution) Apply(v any) error {
	if c.apply == nil {
		return nil
	}
	return c.apply(v)
}

// Contributor is implemented by objects that contribute to collectors.
type Contributor interface {
	Contributions() []Contribution
}

// ContributorFunc adapts a function to Contributor.
type ContributorFunc func() []Contribution

// Contributions implements Contributor.
func (f ContributorFunc) Contributions() []Contribution { return f() }

// sortByPriority orders contributions by descending priority, keeping
// discovery order among equal priorities.
func sortByPriority(cs []Contribution) {
	slices.SortStableFunc(cs, func(a, b Contribution) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
}
