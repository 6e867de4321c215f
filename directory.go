package modhost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
)

// Directory discovers modules from the installed packages and computes
// their dependency relations.
type Directory struct {
	source    packages.Source
	states    store.Store
	container *container.Container
	logger    Logger

	pkgs    []packages.Package
	index   map[string]packages.Package
	loaded  bool
	modules []*Module
	byName  map[string]*Module
}

// NewDirectory creates a Directory.
func NewDirectory(source packages.Source, states store.Store, c *container.Container, logger Logger) *Directory {
	if logger == nil {
		logger = discardLogger()
	}
	if c == nil {
		c = container.New()
	}
	return &Directory{
		source:    source,
		states:    states,
		container: c,
		logger:    logger,
		byName:    make(map[string]*Module),
	}
}

// Packages returns every installed package. The list is read once unless
// clear is set.
func (d *Directory) Packages(ctx context.Context, clear bool) ([]packages.Package, error) {
	if d.loaded && !clear {
		return d.pkgs, nil
	}
	pkgs, err := d.source.Packages(ctx)
	if err != nil {
		return nil, fmt.Errorf("read installed packages: %w", err)
	}
	d.pkgs = pkgs
	d.index = make(map[string]packages.Package, len(pkgs))
	for _, p := range pkgs {
		d.index[p.Name] = p
	}
	d.modules = nil
	d.loaded = true
	return d.pkgs, nil
}

// Modules returns the module packages sorted by name.
func (d *Directory) Modules(ctx context.Context, clear bool) ([]*Module, error) {
	if _, err := d.Packages(ctx, clear); err != nil {
		return nil, err
	}
	if d.modules != nil {
		return d.modules, nil
	}
	var mods []*Module
	for _, p := range d.pkgs {
		if p.Type == ModuleType {
			mods = append(mods, d.Module(p.Name))
		}
	}
	slices.SortFunc(mods, func(a, b *Module) int { return strings.Compare(a.name, b.name) })
	d.modules = mods
	return mods, nil
}

// Module returns the module called name. It never fails; use Exists to
// check that the module is installed.
func (d *Directory) Module(name string) *Module {
	if m, ok := d.byName[name]; ok {
		return m
	}
	m := &Module{name: name, dir: d}
	d.byName[name] = m
	return m
}

func (d *Directory) lookup(ctx context.Context, name string) (packages.Package, bool, error) {
	if _, err := d.Packages(ctx, false); err != nil {
		return packages.Package{}, false, err
	}
	p, ok := d.index[name]
	if !ok || p.Type != ModuleType {
		return packages.Package{}, false, nil
	}
	return p, true, nil
}

// isPlatformRequirement reports requirements such as "php" or "ext-json"
// that never name a package.
func isPlatformRequirement(name string) bool {
	return !strings.Contains(name, "/")
}

func (d *Directory) dependencies(ctx context.Context, m *Module) ([]*Module, error) {
	p, err := m.Package(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(p.Require))
	for req := range p.Require {
		if isPlatformRequirement(req) {
			continue
		}
		dep, ok := d.index[req]
		if !ok {
			return nil, fmt.Errorf("%w: %s requires %s", ErrModuleDependencyMissing, m.name, req)
		}
		if dep.Type == ModuleType {
			names = append(names, req)
		}
	}
	slices.Sort(names)

	out := make([]*Module, len(names))
	for i, n := range names {
		out[i] = d.Module(n)
	}
	return out, nil
}

func (d *Directory) dependents(ctx context.Context, m *Module) ([]*Module, error) {
	if !m.Exists(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, m.name)
	}
	mods, err := d.Modules(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []*Module
	for _, other := range mods {
		p := d.index[other.name]
		if _, ok := p.Require[m.name]; ok {
			out = append(out, other)
		}
	}
	return out, nil
}

// RecursiveDependencies returns the transitive dependencies of m, deepest
// first, each once. filter selects the returned modules; the walk still
// passes through modules it rejects. m itself is never returned, which also
// makes the walk terminate on cycles.
func (d *Directory) RecursiveDependencies(ctx context.Context, m *Module, filter func(*Module) bool) ([]*Module, error) {
	return d.closure(ctx, m, filter, (*Module).Dependencies)
}

// RecursiveDependants returns the transitive dependants of m, deepest first,
// so that disabling in the returned order never strands an enabled
// dependant.
func (d *Directory) RecursiveDependants(ctx context.Context, m *Module, filter func(*Module) bool) ([]*Module, error) {
	return d.closure(ctx, m, filter, (*Module).Dependents)
}

func (d *Directory) closure(ctx context.Context, m *Module, filter func(*Module) bool, next func(*Module, context.Context) ([]*Module, error)) ([]*Module, error) {
	visited := map[string]bool{m.name: true}
	var out []*Module

	var visit func(*Module) error
	visit = func(cur *Module) error {
		edges, err := next(cur, ctx)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if visited[e.name] {
				continue
			}
			visited[e.name] = true
			if err := visit(e); err != nil {
				return err
			}
			if filter == nil || filter(e) {
				out = append(out, e)
			}
		}
		return nil
	}

	if err := visit(m); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate reports every missing module requirement and every dependency
// cycle among the installed modules.
func (d *Directory) Validate(ctx context.Context) error {
	mods, err := d.Modules(ctx, false)
	if err != nil {
		return err
	}

	var errs []error
	graph := make(map[string][]string, len(mods))
	for _, m := range mods {
		deps, err := m.Dependencies(ctx)
		if err != nil {
			errs = append(errs, err)
			deps = d.knownDependencies(m)
		}
		for _, dep := range deps {
			graph[m.name] = append(graph[m.name], dep.name)
		}
	}

	seen := make(map[string]bool)
	visited := make(map[string]bool)
	onStack := make(map[string]int)
	var stack []string

	var visit func(string)
	visit = func(node string) {
		visited[node] = true
		onStack[node] = len(stack)
		stack = append(stack, node)

		for _, dep := range graph[node] {
			if pos, ok := onStack[dep]; ok {
				cycle := append(slices.Clone(stack[pos:]), dep)
				key := canonicalCycle(cycle[:len(cycle)-1])
				if !seen[key] {
					seen[key] = true
					errs = append(errs, fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(cycle, " -> ")))
				}
				continue
			}
			if !visited[dep] {
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, node)
	}

	for _, m := range mods {
		if !visited[m.name] {
			visit(m.name)
		}
	}
	return errors.Join(errs...)
}

// knownDependencies lists the module requirements of m that exist, used to
// keep checking for cycles past a missing requirement.
func (d *Directory) knownDependencies(m *Module) []*Module {
	p := d.index[m.name]
	var out []*Module
	for req := range p.Require {
		if dep, ok := d.index[req]; ok && dep.Type == ModuleType {
			out = append(out, d.Module(req))
		}
	}
	slices.SortFunc(out, func(a, b *Module) int { return strings.Compare(a.name, b.name) })
	return out
}

// canonicalCycle keys a cycle by its rotation starting at the smallest
// member, so rotations of one cycle share a key while the same modules
// walked in another order do not.
func canonicalCycle(members []string) string {
	if len(members) == 0 {
		return ""
	}
	start := slices.Index(members, slices.Min(members))
	rotated := append(slices.Clone(members[start:]), members[:start]...)
	return strings.Join(rotated, ",")
}
