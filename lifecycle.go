package modhost

import (
	"context"
	"fmt"
)

type action int

const (
	actionInstall action = iota
	actionUninstall
	actionEnable
	actionDisable
)

func (a action) String() string {
	return [...]string{"install", "uninstall", "enable", "disable"}[a]
}

func (a action) event() string {
	return [...]string{EventModuleInstalled, EventModuleUninstalled, EventModuleEnabled, EventModuleDisabled}[a]
}

func (a action) target() State {
	return [...]State{StateInstalled, StateUninstalled, StateEnabled, StateInstalled}[a]
}

type transitionOptions struct {
	recollect bool
	recursive bool
}

// TransitionOption configures a lifecycle transition.
type TransitionOption func(*transitionOptions)

// WithRecollect controls whether a successful transition triggers a fresh
// recollect. It defaults to true.
func WithRecollect(recollect bool) TransitionOption {
	return func(o *transitionOptions) { o.recollect = recollect }
}

// WithRecursive makes the transition walk dependencies (install, enable) or
// dependants (disable, uninstall) first. It defaults to false.
func WithRecursive(recursive bool) TransitionOption {
	return func(o *transitionOptions) { o.recursive = recursive }
}

func newTransitionOptions(opts []TransitionOption) transitionOptions {
	o := transitionOptions{recollect: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Lifecycle performs guarded module state transitions. A transition runs the
// module's installer hook, persists the new state and emits
// "module.<action>ed.<name>". Failures are reported as false.
type Lifecycle struct {
	dir       *Directory
	events    *Dispatcher
	recollect func(ctx context.Context, fresh bool) bool
	logger    Logger
}

// NewLifecycle creates a Lifecycle. recollect may be nil.
func NewLifecycle(dir *Directory, events *Dispatcher, recollect func(ctx context.Context, fresh bool) bool, logger Logger) *Lifecycle {
	if logger == nil {
		logger = discardLogger()
	}
	if events == nil {
		events = NewDispatcher(nil, logger)
	}
	return &Lifecycle{dir: dir, events: events, recollect: recollect, logger: logger}
}

// Install installs m. Recursively, every dependency is first installed and
// enabled. A recursive install stops at the first failure without rolling
// back and without recollecting, so dependencies enabled before the failure
// contribute only after the next Recollect.
func (l *Lifecycle) Install(ctx context.Context, m *Module, opts ...TransitionOption) bool {
	o := newTransitionOptions(opts)
	return l.finish(ctx, o, l.install(ctx, m, o.recursive))
}

// Enable enables m. Recursively, dependencies are installed and enabled and
// m itself is installed first when needed. As with Install, a failure part
// way leaves earlier transitions in place and skips the recollect.
func (l *Lifecycle) Enable(ctx context.Context, m *Module, opts ...TransitionOption) bool {
	o := newTransitionOptions(opts)
	return l.finish(ctx, o, l.enable(ctx, m, o.recursive))
}

// Disable disables m. Recursively, every enabled dependant is disabled
// first, deepest first.
func (l *Lifecycle) Disable(ctx context.Context, m *Module, opts ...TransitionOption) bool {
	o := newTransitionOptions(opts)
	return l.finish(ctx, o, l.disable(ctx, m, o.recursive))
}

// Uninstall uninstalls m. Recursively, every dependant is disabled and
// uninstalled first and m is disabled when enabled.
func (l *Lifecycle) Uninstall(ctx context.Context, m *Module, opts ...TransitionOption) bool {
	o := newTransitionOptions(opts)
	return l.finish(ctx, o, l.uninstall(ctx, m, o.recursive))
}

// finish runs the single recollect of a top-level transition.
func (l *Lifecycle) finish(ctx context.Context, o transitionOptions, ok bool) bool {
	if ok && o.recollect && l.recollect != nil {
		if !l.recollect(ctx, true) {
			l.logger.Warn("Recollect after module transition failed")
		}
	}
	return ok
}

func (l *Lifecycle) install(ctx context.Context, m *Module, recursive bool) bool {
	if recursive && !l.prepareDependencies(ctx, m) {
		return false
	}
	return l.transition(ctx, m, actionInstall)
}

func (l *Lifecycle) enable(ctx context.Context, m *Module, recursive bool) bool {
	if recursive {
		if !l.prepareDependencies(ctx, m) {
			return false
		}
		if s, ok := m.state(ctx); ok && s == StateUninstalled && !l.transition(ctx, m, actionInstall) {
			return false
		}
	}
	return l.transition(ctx, m, actionEnable)
}

func (l *Lifecycle) disable(ctx context.Context, m *Module, recursive bool) bool {
	if recursive {
		dependants, err := l.dir.RecursiveDependants(ctx, m, nil)
		if err != nil {
			l.logger.Error("Failed to resolve dependants", "module", m.name, "error", err)
			return false
		}
		for _, d := range dependants {
			if d.IsEnabled(ctx) && !l.transition(ctx, d, actionDisable) {
				return false
			}
		}
	}
	return l.transition(ctx, m, actionDisable)
}

func (l *Lifecycle) uninstall(ctx context.Context, m *Module, recursive bool) bool {
	if recursive {
		dependants, err := l.dir.RecursiveDependants(ctx, m, nil)
		if err != nil {
			l.logger.Error("Failed to resolve dependants", "module", m.name, "error", err)
			return false
		}
		for _, d := range append(dependants, m) {
			if d.IsEnabled(ctx) && !l.transition(ctx, d, actionDisable) {
				return false
			}
			if d != m && d.IsInstalled(ctx) && !l.transition(ctx, d, actionUninstall) {
				return false
			}
		}
	}
	return l.transition(ctx, m, actionUninstall)
}

// prepareDependencies installs and enables every dependency of m, deepest
// first.
func (l *Lifecycle) prepareDependencies(ctx context.Context, m *Module) bool {
	deps, err := l.dir.RecursiveDependencies(ctx, m, nil)
	if err != nil {
		l.logger.Error("Failed to resolve dependencies", "module", m.name, "error", err)
		return false
	}
	for _, d := range deps {
		if !d.IsInstalled(ctx) && !l.transition(ctx, d, actionInstall) {
			return false
		}
		if !d.IsEnabled(ctx) && !l.transition(ctx, d, actionEnable) {
			return false
		}
	}
	return true
}

func (l *Lifecycle) guard(ctx context.Context, m *Module, a action) bool {
	switch a {
	case actionInstall:
		return m.CanBeInstalled(ctx)
	case actionUninstall:
		return m.CanBeUninstalled(ctx)
	case actionEnable:
		return m.CanBeEnabled(ctx)
	case actionDisable:
		return m.CanBeDisabled(ctx)
	}
	return false
}

// transition performs one guarded state change without recursion or
// recollect.
func (l *Lifecycle) transition(ctx context.Context, m *Module, a action) bool {
	if !l.guard(ctx, m, a) {
		l.logger.Debug("Module transition refused", "module", m.name, "action", a.String())
		return false
	}

	inst, err := m.Installer(ctx)
	if err == nil {
		err = runHook(ctx, inst, m, a)
	}
	if err != nil {
		runErrorHook(ctx, inst, m, a, err, l.logger)
		l.logger.Error("Module hook failed", "module", m.name, "action", a.String(), "error", err)
		l.events.EmitData(ctx, moduleEvent(EventModuleFailed, m), eventData(m, a, err), false)
		return false
	}

	if err := m.setState(ctx, a.target()); err != nil {
		l.logger.Error("Failed to persist module state", "module", m.name, "action", a.String(), "error", err)
		return false
	}

	l.events.EmitData(ctx, moduleEvent(a.event(), m), eventData(m, a, nil), false)
	l.logger.Info("Module transition complete", "module", m.name, "action", a.String(), "state", a.target().String())
	return true
}

func eventData(m *Module, a action, err error) map[string]string {
	data := map[string]string{"module": m.name, "action": a.String()}
	if err != nil {
		data["error"] = err.Error()
	}
	return data
}

// runHook calls the installer hook for a. Panics are returned as errors.
func runHook(ctx context.Context, inst Installer, m *Module, a action) (err error) {
	if inst == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s hook panicked: %v", a, p)
		}
	}()

	switch a {
	case actionInstall:
		if h, ok := inst.(InstallHook); ok {
			return h.Install(ctx, m)
		}
	case actionUninstall:
		if h, ok := inst.(UninstallHook); ok {
			return h.Uninstall(ctx, m)
		}
	case actionEnable:
		if h, ok := inst.(EnableHook); ok {
			return h.Enable(ctx, m)
		}
	case actionDisable:
		if h, ok := inst.(DisableHook); ok {
			return h.Disable(ctx, m)
		}
	}
	return nil
}

func runErrorHook(ctx context.Context, inst Installer, m *Module, a action, cause error, logger Logger) {
	if inst == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Module error hook panicked", "module", m.name, "action", a.String(), "panic", p)
		}
	}()

	switch a {
	case actionInstall:
		if h, ok := inst.(InstallErrorHook); ok {
			h.InstallError(ctx, m, cause)
		}
	case actionUninstall:
		if h, ok := inst.(UninstallErrorHook); ok {
			h.UninstallError(ctx, m, cause)
		}
	case actionEnable:
		if h, ok := inst.(EnableErrorHook); ok {
			h.EnableError(ctx, m, cause)
		}
	case actionDisable:
		if h, ok := inst.(DisableErrorHook); ok {
			h.DisableError(ctx, m, cause)
		}
	}
}
