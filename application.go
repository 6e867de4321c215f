package modhost

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/extension"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// SetupKey is the state key marking a completed application setup.
const SetupKey = "app.installed"

// derived holds the services built from collector output. The whole struct
// is swapped on ClearCachedObjects.
type derived struct {
	router     chi.Router
	listeners  *extension.Listeners
	services   *container.Container
	commands   []*cobra.Command
	scheduler  *cron.Cron
	translator *extension.Translator
}

// Application is the composition root: it owns the module directory, the
// lifecycle manager, the collector registry and the event dispatcher, and
// lazily builds the services derived from collected contributions. It
// serves one request at a time.
type Application struct {
	config    *AppConfig
	logger    Logger
	states    store.Store
	cache     cache.Store
	container *container.Container

	directory *Directory
	registry  *collector.Registry
	events    *Dispatcher
	lifecycle *Lifecycle

	derived    atomic.Pointer[derived]
	cacheEpoch int64
	seenEpoch  bool

	jobCtx     context.Context
	cancelJobs context.CancelFunc
	closers    []func(context.Context) error
}

// NewApplication builds an Application. Collaborators that are not given
// are opened from the configuration, which defaults to in-memory engines.
func NewApplication(ctx context.Context, opts ...Option) (*Application, error) {
	b := &builder{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.logger == nil {
		b.logger = discardLogger()
	}
	if b.config == nil {
		b.config = DefaultConfig()
	}
	if b.container == nil {
		b.container = container.New()
	}

	a := &Application{
		config:    b.config,
		logger:    b.logger,
		container: b.container,
	}
	a.jobCtx, a.cancelJobs = context.WithCancel(context.Background())
	a.derived.Store(&derived{})

	if err := a.openCollaborators(ctx, b); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	for _, bnd := range b.bindings {
		a.container.Singleton(bnd.name, bnd.factory)
	}
	a.container.Instance(AppService, a)

	a.events = NewDispatcher(a.Listeners, a.logger)
	for _, o := range b.observers {
		a.events.RegisterObserver(o.observer, o.patterns...)
	}

	a.directory = NewDirectory(b.source, a.states, a.container, a.logger)

	registry, err := collector.New(collector.Options{
		Container: a.container,
		Cache:     a.cache,
		State:     a.states,
		Events:    a.events,
		Logger:    a.logger,
		Internal:  a.internalContributor(),
		Source:    a.moduleContributions,
		Builtins:  append(extension.Builtins(), b.collectors...),
		LockTTL:   a.config.Cache.LockTTL,
		OnReset:   a.ClearCachedObjects,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("create collector registry: %w", err)
	}
	if err := registry.Declare(b.declared...); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("declare collectors: %w", err)
	}
	a.registry = registry

	a.lifecycle = NewLifecycle(a.directory, a.events, a.Recollect, a.logger)
	return a, nil
}

func (a *Application) openCollaborators(ctx context.Context, b *builder) error {
	a.states = b.states
	if a.states == nil {
		s, err := store.Open(ctx, a.config.Store)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		a.states = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	}

	a.cache = b.cache
	if a.cache == nil {
		c, err := cache.New(ctx, &a.config.Cache)
		if err != nil {
			return fmt.Errorf("open cache store: %w", err)
		}
		a.cache = c
		a.closers = append(a.closers, func(ctx context.Context) error { return cache.Close(ctx, c) })
	}

	if b.source == nil {
		var sources []packages.Source
		if a.config.Packages.Installed != "" {
			sources = append(sources, packages.NewInstalledFile(a.config.Packages.Installed))
		}
		if a.config.Packages.Manifests != "" {
			sources = append(sources, packages.NewManifestDir(a.config.Packages.Manifests))
		}
		b.source = packages.Merge(sources...)
	}
	return nil
}

// moduleContributions lists the contributions of every enabled module in
// directory order. A module whose contributor cannot be resolved is skipped.
func (a *Application) moduleContributions(ctx context.Context) ([]collector.Contribution, error) {
	mods, err := a.directory.Modules(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []collector.Contribution
	for _, m := range mods {
		if !m.IsEnabled(ctx) {
			continue
		}
		c, err := m.Contributor(ctx)
		if err != nil {
			a.logger.Error("Failed to resolve module contributor", "module", m.Name(), "error", err)
			continue
		}
		if c == nil {
			continue
		}
		for _, contribution := range c.Contributions() {
			out = append(out, contribution.From(m.Name()))
		}
	}
	return out, nil
}

// Config returns the application configuration.
func (a *Application) Config() *AppConfig { return a.config }

// Logger returns the application logger.
func (a *Application) Logger() Logger { return a.logger }

// Directory returns the module directory.
func (a *Application) Directory() *Directory { return a.directory }

// Lifecycle returns the lifecycle manager the module mutators delegate to.
// It applies the same guards and hooks; it exists for tooling that already
// holds a *Module. Applications change module states through Install,
// Uninstall, Enable and Disable.
func (a *Application) Lifecycle() *Lifecycle { return a.lifecycle }

// Collectors returns the collector registry.
func (a *Application) Collectors() *collector.Registry { return a.registry }

// Events returns the event dispatcher.
func (a *Application) Events() *Dispatcher { return a.events }

// Container returns the container hook objects are resolved from.
func (a *Application) Container() *container.Container { return a.container }

// StateStore returns a read-only view of the state store. Module states
// only change through the module mutators.
func (a *Application) StateStore() store.Reader { return store.ReadOnly(a.states) }

// Module returns the module called name.
func (a *Application) Module(name string) *Module {
	return a.directory.Module(name)
}

// Modules returns every installed module sorted by name.
func (a *Application) Modules(ctx context.Context) ([]*Module, error) {
	return a.directory.Modules(ctx, false)
}

func (a *Application) existing(ctx context.Context, name string) (*Module, error) {
	m := a.directory.Module(name)
	if !m.Exists(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return m, nil
}

// Install installs the module called name. The error reports unknown
// modules only; a refused or failed transition returns false.
func (a *Application) Install(ctx context.Context, name string, opts ...TransitionOption) (bool, error) {
	m, err := a.existing(ctx, name)
	if err != nil {
		return false, err
	}
	return a.lifecycle.Install(ctx, m, opts...), nil
}

// Uninstall uninstalls the module called name.
func (a *Application) Uninstall(ctx context.Context, name string, opts ...TransitionOption) (bool, error) {
	m, err := a.existing(ctx, name)
	if err != nil {
		return false, err
	}
	return a.lifecycle.Uninstall(ctx, m, opts...), nil
}

// Enable enables the module called name.
func (a *Application) Enable(ctx context.Context, name string, opts ...TransitionOption) (bool, error) {
	m, err := a.existing(ctx, name)
	if err != nil {
		return false, err
	}
	return a.lifecycle.Enable(ctx, m, opts...), nil
}

// Disable disables the module called name.
func (a *Application) Disable(ctx context.Context, name string, opts ...TransitionOption) (bool, error) {
	m, err := a.existing(ctx, name)
	if err != nil {
		return false, err
	}
	return a.lifecycle.Disable(ctx, m, opts...), nil
}

// Recollect rebuilds every collector; see collector.Registry.Recollect.
func (a *Application) Recollect(ctx context.Context, fresh bool) bool {
	return a.registry.Recollect(ctx, fresh)
}

// ClearCachedObjects drops every derived service at once. A running
// scheduler is stopped.
func (a *Application) ClearCachedObjects() {
	old := a.derived.Swap(&derived{})
	if old != nil && old.scheduler != nil {
		old.scheduler.Stop()
	}
}

// cached returns the current derived services, dropping them first when
// another process has advanced the shared cache epoch.
func (a *Application) cached(ctx context.Context) *derived {
	if ep, ok := a.cache.(cache.Epocher); ok {
		n, err := ep.Epoch(ctx)
		if err != nil {
			a.logger.Warn("Failed to read cache epoch", "error", err)
		} else {
			if a.seenEpoch && n != a.cacheEpoch {
				a.ClearCachedObjects()
			}
			a.cacheEpoch, a.seenEpoch = n, true
		}
	}
	return a.derived.Load()
}

// Router returns the HTTP router built from the routes collector.
func (a *Application) Router(ctx context.Context) (chi.Router, error) {
	d := a.cached(ctx)
	if d.router != nil {
		return d.router, nil
	}
	routes, err := collector.Collect(ctx, a.registry, extension.RoutesKind)
	if err != nil {
		return nil, err
	}
	mux, err := routes.Router()
	if err != nil {
		return nil, err
	}
	d.router = mux
	return mux, nil
}

// Listeners returns the collected event listeners.
func (a *Application) Listeners(ctx context.Context) (*extension.Listeners, error) {
	d := a.cached(ctx)
	if d.listeners != nil {
		return d.listeners, nil
	}
	ls, err := collector.Collect(ctx, a.registry, extension.ListenersKind)
	if err != nil {
		return nil, err
	}
	d.listeners = ls
	return ls, nil
}

// Services returns the container built from the services collector.
func (a *Application) Services(ctx context.Context) (*container.Container, error) {
	d := a.cached(ctx)
	if d.services != nil {
		return d.services, nil
	}
	s, err := collector.Collect(ctx, a.registry, extension.ServicesKind)
	if err != nil {
		return nil, err
	}
	d.services = s.Container()
	return d.services, nil
}

// Commands returns the console commands contributed by modules.
func (a *Application) Commands(ctx context.Context) ([]*cobra.Command, error) {
	d := a.cached(ctx)
	if d.commands != nil {
		return d.commands, nil
	}
	c, err := collector.Collect(ctx, a.registry, extension.CommandsKind)
	if err != nil {
		return nil, err
	}
	d.commands = c.All()
	if d.commands == nil {
		d.commands = []*cobra.Command{}
	}
	return d.commands, nil
}

// Scheduler returns a stopped cron scheduler holding every contributed job.
// Jobs run with a context cancelled by Close.
func (a *Application) Scheduler(ctx context.Context) (*cron.Cron, error) {
	d := a.cached(ctx)
	if d.scheduler != nil {
		return d.scheduler, nil
	}
	s, err := collector.Collect(ctx, a.registry, extension.SchedulesKind)
	if err != nil {
		return nil, err
	}
	c, err := s.Cron(a.jobCtx, a.logger)
	if err != nil {
		return nil, err
	}
	d.scheduler = c
	return c, nil
}

// Translator returns the translator built from the translations collector.
func (a *Application) Translator(ctx context.Context) (*extension.Translator, error) {
	d := a.cached(ctx)
	if d.translator != nil {
		return d.translator, nil
	}
	t, err := collector.Collect(ctx, a.registry, extension.TranslationsKind)
	if err != nil {
		return nil, err
	}
	d.translator = t.Translator(a.config.Locale)
	return d.translator, nil
}

// IsSetUp reports whether Setup has completed.
func (a *Application) IsSetUp(ctx context.Context) bool {
	ok, err := store.ReadOr(ctx, a.states, SetupKey, false)
	if err != nil {
		a.logger.Error("Failed to read setup state", "error", err)
		return false
	}
	return ok
}

// Setup validates the module directory, installs and enables every
// application installer module with its dependencies and marks the
// application as set up.
func (a *Application) Setup(ctx context.Context) error {
	if err := a.directory.Validate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
	mods, err := a.directory.Modules(ctx, false)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	var failed []error
	for _, m := range mods {
		if !m.IsAppInstaller(ctx) || m.IsEnabled(ctx) {
			continue
		}
		if !a.lifecycle.Enable(ctx, m, WithRecursive(true), WithRecollect(false)) {
			failed = append(failed, fmt.Errorf("enable %s", m.Name()))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrSetupFailed, errors.Join(failed...))
	}

	if err := a.states.Write(ctx, SetupKey, true); err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
	a.events.Emit(ctx, EventSetup, false)
	if !a.Recollect(ctx, true) {
		a.logger.Warn("Recollect after setup failed")
	}
	a.logger.Info("Application set up")
	return nil
}

// Close stops the scheduler and closes the collaborators the application
// opened itself.
func (a *Application) Close(ctx context.Context) error {
	if a.cancelJobs != nil {
		a.cancelJobs()
	}
	if d := a.derived.Load(); d != nil && d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
