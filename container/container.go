// Package container is a small dependency injection container. Collector
// aggregation targets, installer hooks and contributed services are all built
// through it.
package container

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrCircularAlias       = errors.New("circular alias")
	ErrTargetNotPointer    = errors.New("target must be a non-nil pointer")
	ErrServiceIncompatible = errors.New("service cannot be assigned to target")
	ErrFactoryFailed       = errors.New("service factory failed")
)

// Factory builds a service instance. The container is passed so factories can
// resolve their own dependencies.
type Factory func(c *Container) (any, error)

type binding struct {
	factory   Factory
	singleton bool
	instance  any
	built     bool
}

// Container maps names to service bindings.
type Container struct {
	mu       sync.Mutex
	bindings map[string]*binding
	aliases  map[string]string
}

// New creates an empty container.
func New() *Container {
	return &Container{
		bindings: make(map[string]*binding),
		aliases:  make(map[string]string),
	}
}

// Singleton binds name to a factory whose result is memoized by Get.
func (c *Container) Singleton(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = &binding{factory: factory, singleton: true}
}

// Bind binds name to a factory invoked on every Get.
func (c *Container) Bind(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = &binding{factory: factory}
}

// Instance binds name to an existing value.
func (c *Container) Instance(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[name] = &binding{singleton: true, instance: value, built: true}
}

// Alias makes alias resolve to name.
func (c *Container) Alias(alias, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[alias] = name
}

// Forget removes a binding or alias.
func (c *Container) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, name)
	delete(c.aliases, name)
}

// Has reports whether name (or an alias of it) is bound.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	resolved, err := c.resolveAlias(name)
	if err != nil {
		return false
	}
	_, ok := c.bindings[resolved]
	return ok
}

// Names lists bound service names, sorted.
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.bindings))
	for n := range c.bindings {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Get returns the service bound to name. Singletons are built once.
func (c *Container) Get(name string) (any, error) {
	c.mu.Lock()
	resolved, err := c.resolveAlias(name)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	b, ok := c.bindings[resolved]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if b.singleton && b.built {
		v := b.instance
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Factories run unlocked so they can resolve other services.
	v, err := b.factory(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFactoryFailed, name, err)
	}

	if b.singleton {
		c.mu.Lock()
		if b.built {
			v = b.instance
		} else {
			b.instance, b.built = v, true
		}
		c.mu.Unlock()
	}
	return v, nil
}

// Make always builds a fresh instance, ignoring singleton memoization.
// Bindings created with Instance return their value.
func (c *Container) Make(name string) (any, error) {
	c.mu.Lock()
	resolved, err := c.resolveAlias(name)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	b, ok := c.bindings[resolved]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if b.factory == nil {
		return b.instance, nil
	}
	v, err := b.factory(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFactoryFailed, name, err)
	}
	return v, nil
}

// Resolve retrieves name and assigns it into target, which must be a non-nil
// pointer to an interface the service implements or to an assignable type.
func (c *Container) Resolve(name string, target any) error {
	service, err := c.Get(name)
	if err != nil {
		return err
	}
	return assign(name, service, target)
}

// Get is a typed shortcut for Container.Get.
func Get[T any](c *Container, name string) (T, error) {
	var zero T
	v, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service '%s' of type %T is not %T", ErrServiceIncompatible, name, v, zero)
	}
	return t, nil
}

func (c *Container) resolveAlias(name string) (string, error) {
	seen := map[string]bool{}
	for {
		target, ok := c.aliases[name]
		if !ok {
			return name, nil
		}
		if seen[name] {
			return "", fmt.Errorf("%w: %s", ErrCircularAlias, name)
		}
		seen[name] = true
		name = target
	}
}

func assign(name string, service, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}
	if service == nil {
		return fmt.Errorf("%w: service '%s' is nil", ErrServiceIncompatible, name)
	}

	serviceType := reflect.TypeOf(service)
	targetType := targetValue.Elem().Type()

	// Target is an interface that the service implements
	if targetType.Kind() == reflect.Interface && serviceType.Implements(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}

	// Direct assignment or pointer dereference
	if serviceType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	} else if serviceType.Kind() == reflect.Ptr && serviceType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service).Elem())
		return nil
	}

	return fmt.Errorf("%w: service '%s' of type %s cannot be assigned to %s",
		ErrServiceIncompatible, name, serviceType, targetType)
}
