package modhost

import (
	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
)

// Option configures an Application under construction.
type Option func(*builder) error

type binding struct {
	name    string
	factory container.Factory
}

type observerRegistration struct {
	observer Observer
	patterns []string
}

type builder struct {
	logger     Logger
	config     *AppConfig
	states     store.Store
	cache      cache.Store
	source     packages.Source
	container  *container.Container
	bindings   []binding
	collectors []collector.Definer
	declared   []collector.Definer
	observers  []observerRegistration
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(b *builder) error {
		if logger == nil {
			return ErrLoggerNotSet
		}
		b.logger = logger
		return nil
	}
}

// WithConfig sets the configuration used to open the collaborators that are
// not given explicitly.
func WithConfig(cfg *AppConfig) Option {
	return func(b *builder) error {
		b.config = cfg
		return nil
	}
}

// WithStateStore sets the state store.
func WithStateStore(s store.Store) Option {
	return func(b *builder) error {
		b.states = s
		return nil
	}
}

// WithCacheStore sets the collector cache store.
func WithCacheStore(c cache.Store) Option {
	return func(b *builder) error {
		b.cache = c
		return nil
	}
}

// WithPackageSource sets the installed package source.
func WithPackageSource(s packages.Source) Option {
	return func(b *builder) error {
		b.source = s
		return nil
	}
}

// WithContainer sets the container installer and contributor references
// are resolved from.
func WithContainer(c *container.Container) Option {
	return func(b *builder) error {
		b.container = c
		return nil
	}
}

// WithInstaller binds the installer hook object referenced by a module's
// extra.modhost.installer.
func WithInstaller(ref string, factory container.Factory) Option {
	return func(b *builder) error {
		b.bindings = append(b.bindings, binding{name: ref, factory: factory})
		return nil
	}
}

// WithContributor binds the contributor object referenced by a module's
// extra.modhost.collector.
func WithContributor(ref string, factory container.Factory) Option {
	return func(b *builder) error {
		b.bindings = append(b.bindings, binding{name: ref, factory: factory})
		return nil
	}
}

// WithCollector adds built-in collector kinds next to the extension ones.
func WithCollector(defs ...collector.Definer) Option {
	return func(b *builder) error {
		b.collectors = append(b.collectors, defs...)
		return nil
	}
}

// WithDeclaredCollector makes kinds known without activating them, so that
// persisted registrations of them can be restored.
func WithDeclaredCollector(defs ...collector.Definer) Option {
	return func(b *builder) error {
		b.declared = append(b.declared, defs...)
		return nil
	}
}

// WithObserver registers an observer for events matching patterns.
func WithObserver(observer Observer, patterns ...string) Option {
	return func(b *builder) error {
		b.observers = append(b.observers, observerRegistration{observer: observer, patterns: patterns})
		return nil
	}
}
