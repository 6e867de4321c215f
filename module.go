package modhost

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
)

// ModuleType is the package type that marks a package as a module.
const ModuleType = "modhost-module"

// StatePrefix prefixes the persisted module state keys.
const StatePrefix = "modules."

// State is the persisted lifecycle state of a module.
type State int

const (
	StateUninstalled State = 0
	StateInstalled   State = 1
	StateEnabled     State = 2
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateEnabled:
		return "enabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Installer is a module's lifecycle hook object. It may implement any of
// the hook interfaces below; missing hooks are no-ops.
type Installer any

// InstallHook runs before a module is marked installed.
type InstallHook interface {
	Install(ctx context.Context, m *Module) error
}

// UninstallHook runs before a module is marked uninstalled.
type UninstallHook interface {
	Uninstall(ctx context.Context, m *Module) error
}

// EnableHook runs before a module is marked enabled.
type EnableHook interface {
	Enable(ctx context.Context, m *Module) error
}

// DisableHook runs before a module is marked disabled.
type DisableHook interface {
	Disable(ctx context.Context, m *Module) error
}

// InstallErrorHook receives the failure of the install hook.
type InstallErrorHook interface {
	InstallError(ctx context.Context, m *Module, err error)
}

// UninstallErrorHook receives the failure of the uninstall hook.
type UninstallErrorHook interface {
	UninstallError(ctx context.Context, m *Module, err error)
}

// EnableErrorHook receives the failure of the enable hook.
type EnableErrorHook interface {
	EnableError(ctx context.Context, m *Module, err error)
}

// DisableErrorHook receives the failure of the disable hook.
type DisableErrorHook interface {
	DisableError(ctx context.Context, m *Module, err error)
}

// Contributor is implemented by a module's collector contribution object.
type Contributor = collector.Contributor

// Module is a view over an installed package and its persisted state. It is
// owned by a Directory and never persisted itself.
type Module struct {
	name string
	dir  *Directory
}

// Name returns the fully qualified module name.
func (m *Module) Name() string {
	return m.name
}

func (m *Module) String() string {
	return m.name
}

// Exists reports whether an installed package of the module type backs m.
func (m *Module) Exists(ctx context.Context) bool {
	_, ok, err := m.dir.lookup(ctx, m.name)
	if err != nil {
		m.dir.logger.Warn("Failed to read packages", "module", m.name, "error", err)
	}
	return ok
}

// Package returns the module's package descriptor.
func (m *Module) Package(ctx context.Context) (packages.Package, error) {
	p, ok, err := m.dir.lookup(ctx, m.name)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("%w: %s", ErrModuleNotFound, m.name)
	}
	return p, nil
}

func (m *Module) extra(ctx context.Context) (packages.Extra, error) {
	p, err := m.Package(ctx)
	if err != nil {
		return packages.Extra{}, err
	}
	return p.ModhostExtra()
}

// AssetsDir returns the absolute assets directory, or "" when the module
// declares none.
func (m *Module) AssetsDir(ctx context.Context) (string, error) {
	p, err := m.Package(ctx)
	if err != nil {
		return "", err
	}
	e, err := p.ModhostExtra()
	if err != nil || e.Assets == "" {
		return "", err
	}
	if filepath.IsAbs(e.Assets) {
		return e.Assets, nil
	}
	return filepath.Join(p.Dir, e.Assets), nil
}

// IsAppInstaller reports whether the module only serves application setup.
func (m *Module) IsAppInstaller(ctx context.Context) bool {
	e, err := m.extra(ctx)
	return err == nil && e.AppInstaller
}

// State reads the persisted state. Unknown modules are Uninstalled.
func (m *Module) State(ctx context.Context) (State, error) {
	n, err := store.ReadInt(ctx, m.dir.states, StatePrefix+m.name, int(StateUninstalled))
	if err != nil {
		return StateUninstalled, fmt.Errorf("read state of %s: %w", m.name, err)
	}
	s := State(n)
	if s < StateUninstalled || s > StateEnabled {
		return StateUninstalled, fmt.Errorf("%w: %s = %d", ErrInvalidState, m.name, n)
	}
	return s, nil
}

func (m *Module) setState(ctx context.Context, s State) error {
	return m.dir.states.Write(ctx, StatePrefix+m.name, int(s))
}

// state is State with read errors logged and mapped to ok=false.
func (m *Module) state(ctx context.Context) (State, bool) {
	s, err := m.State(ctx)
	if err != nil {
		m.dir.logger.Error("Failed to read module state", "module", m.name, "error", err)
		return s, false
	}
	return s, true
}

// IsInstalled reports whether the module is Installed or Enabled.
func (m *Module) IsInstalled(ctx context.Context) bool {
	s, ok := m.state(ctx)
	return ok && s >= StateInstalled
}

// IsEnabled reports whether the module is Enabled.
func (m *Module) IsEnabled(ctx context.Context) bool {
	s, ok := m.state(ctx)
	return ok && s == StateEnabled
}

// Dependencies returns the modules m requires, sorted by name.
func (m *Module) Dependencies(ctx context.Context) ([]*Module, error) {
	return m.dir.dependencies(ctx, m)
}

// Dependents returns the modules requiring m, sorted by name.
func (m *Module) Dependents(ctx context.Context) ([]*Module, error) {
	return m.dir.dependents(ctx, m)
}

// Installer resolves the module's installer hook object from the container.
// It returns nil when the module declares none.
func (m *Module) Installer(ctx context.Context) (Installer, error) {
	e, err := m.extra(ctx)
	if err != nil || e.Installer == "" {
		return nil, err
	}
	v, err := m.dir.container.Get(e.Installer)
	if err != nil {
		return nil, fmt.Errorf("installer of %s: %w", m.name, err)
	}
	return v, nil
}

// Contributor resolves the module's collector contribution object from the
// container. It returns nil when the module declares none.
func (m *Module) Contributor(ctx context.Context) (Contributor, error) {
	e, err := m.extra(ctx)
	if err != nil || e.Collector == "" {
		return nil, err
	}
	v, err := m.dir.container.Get(e.Collector)
	if err != nil {
		return nil, fmt.Errorf("collector of %s: %w", m.name, err)
	}
	c, ok := v.(Contributor)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%T)", ErrNotContributor, e.Collector, v)
	}
	return c, nil
}

// CanBeInstalled reports whether m is Uninstalled and every dependency is
// installed.
func (m *Module) CanBeInstalled(ctx context.Context) bool {
	if s, ok := m.state(ctx); !ok || s != StateUninstalled || !m.Exists(ctx) {
		return false
	}
	return m.allDependencies(ctx, (*Module).IsInstalled)
}

// CanBeEnabled reports whether m is Installed and every dependency is
// enabled.
func (m *Module) CanBeEnabled(ctx context.Context) bool {
	if s, ok := m.state(ctx); !ok || s != StateInstalled || !m.Exists(ctx) {
		return false
	}
	return m.allDependencies(ctx, (*Module).IsEnabled)
}

// CanBeDisabled reports whether m is Enabled and no dependant is enabled.
func (m *Module) CanBeDisabled(ctx context.Context) bool {
	if s, ok := m.state(ctx); !ok || s != StateEnabled || !m.Exists(ctx) {
		return false
	}
	return m.noDependents(ctx, (*Module).IsEnabled)
}

// CanBeUninstalled reports whether m is Installed and no dependant is
// installed.
func (m *Module) CanBeUninstalled(ctx context.Context) bool {
	if s, ok := m.state(ctx); !ok || s != StateInstalled || !m.Exists(ctx) {
		return false
	}
	return m.noDependents(ctx, (*Module).IsInstalled)
}

func (m *Module) allDependencies(ctx context.Context, pred func(*Module, context.Context) bool) bool {
	deps, err := m.Dependencies(ctx)
	if err != nil {
		m.dir.logger.Warn("Failed to resolve dependencies", "module", m.name, "error", err)
		return false
	}
	for _, d := range deps {
		if !pred(d, ctx) {
			return false
		}
	}
	return true
}

func (m *Module) noDependents(ctx context.Context, pred func(*Module, context.Context) bool) bool {
	deps, err := m.Dependents(ctx)
	if err != nil {
		m.dir.logger.Warn("Failed to resolve dependants", "module", m.name, "error", err)
		return false
	}
	for _, d := range deps {
		if pred(d, ctx) {
			return false
		}
	}
	return true
}
