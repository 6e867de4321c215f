package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/store"
)

const (
	// StatePrefix prefixes the persisted collector table keys.
	StatePrefix = "collectors."

	// EventCollect is emitted after every recollect. EventCollect + "." + name
	// is emitted after each fresh aggregation of name.
	EventCollect = "system.collect"

	lockName       = "recollect"
	defaultLockTTL = 30 * time.Second
)

// Logger is the logging interface used by the registry.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Emitter receives registry events.
type Emitter interface {
	Emit(ctx context.Context, name string, cancelable bool) bool
}

// Source yields the contributions of every enabled module, in module
// directory order.
type Source func(ctx context.Context) ([]Contribution, error)

// Options configures a Registry. Zero fields get in-memory defaults.
type Options struct {
	Container *container.Container
	Cache     cache.Store
	State     store.Store
	Events    Emitter
	Logger    Logger

	// Internal is processed before every module contributor.
	Internal Contributor
	Source   Source

	// Builtins are always active and cannot be unregistered.
	Builtins []Definer

	LockTTL time.Duration

	// OnReset runs on every fresh recollect, after the caches are cleared.
	OnReset func()
}

// Info describes an active collector.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Builtin     bool   `json:"builtin" yaml:"builtin"`
}

type record struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Registry aggregates module contributions per collector kind. It is not
// safe for concurrent use; each process serves one request at a time and
// the cache store coordinates between processes.
type Registry struct {
	container *container.Container
	cache     cache.Store
	state     store.Store
	events    Emitter
	logger    Logger
	internal  Contributor
	source    Source
	lockTTL   time.Duration
	onReset   func()

	catalog      map[string]*Definition
	builtin      map[string]bool
	active       map[string]*Definition
	descriptions map[string]string
	byType       map[string]string
	loaded       bool

	included bool
	entries  map[string][]Contribution

	inProgress map[string]struct{}
	current    map[string]any
	locked     bool

	epoch      uint64
	cacheEpoch int64
	seenEpoch  bool
}

// New creates a Registry.
func New(opts Options) (*Registry, error) {
	r := &Registry{
		container:    opts.Container,
		cache:        opts.Cache,
		state:        opts.State,
		events:       opts.Events,
		logger:       opts.Logger,
		internal:     opts.Internal,
		source:       opts.Source,
		lockTTL:      opts.LockTTL,
		onReset:      opts.OnReset,
		catalog:      make(map[string]*Definition),
		builtin:      make(map[string]bool),
		active:       make(map[string]*Definition),
		descriptions: make(map[string]string),
		byType:       make(map[string]string),
		entries:      make(map[string][]Contribution),
		inProgress:   make(map[string]struct{}),
		current:      make(map[string]any),
	}
	if r.container == nil {
		r.container = container.New()
	}
	if r.cache == nil {
		r.cache = cache.NewMemoryCache(&cache.CacheConfig{})
	}
	if r.state == nil {
		r.state = store.NewMemory()
	}
	if r.events == nil {
		r.events = nopEmitter{}
	}
	if r.logger == nil {
		r.logger = nopLogger{}
	}
	if r.lockTTL <= 0 {
		r.lockTTL = defaultLockTTL
	}

	for _, d := range opts.Builtins {
		def := d.Definition()
		if err := def.validate(); err != nil {
			return nil, err
		}
		if err := r.activate(def, def.Description); err != nil {
			return nil, err
		}
		r.catalog[def.Name] = def
		r.builtin[def.Name] = true
	}
	return r, nil
}

// SetOnReset replaces the fresh-recollect hook.
func (r *Registry) SetOnReset(fn func()) {
	r.onReset = fn
}

// Declare makes kinds known to the registry without activating them. A
// declared kind becomes active once registered or when a persisted entry
// names it.
func (r *Registry) Declare(defs ...Definer) error {
	for _, d := range defs {
		def := d.Definition()
		if err := def.validate(); err != nil {
			return err
		}
		r.catalog[def.Name] = def
	}
	return nil
}

// Register activates def at runtime and persists it. An empty description
// falls back to the definition's own.
func (r *Registry) Register(ctx context.Context, d Definer, description string) error {
	def := d.Definition()
	if err := def.validate(); err != nil {
		return err
	}
	if err := r.load(ctx); err != nil {
		return err
	}
	if description == "" {
		description = def.Description
	}
	if err := r.activate(def, description); err != nil {
		return err
	}
	r.catalog[def.Name] = def

	if err := r.state.Write(ctx, StatePrefix+def.Name, record{Type: def.TypeName, Description: description}); err != nil {
		return fmt.Errorf("persist collector %s: %w", def.Name, err)
	}
	r.resetDiscovery()
	r.logger.Info("Registered collector", "collector", def.Name, "type", def.TypeName)
	return nil
}

// Unregister removes a runtime-registered collector. name may also be the
// aggregation type name.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	def, err := r.resolve(ctx, name)
	if err != nil {
		return err
	}
	if r.builtin[def.Name] {
		return fmt.Errorf("%w: %s", ErrBuiltinCollector, def.Name)
	}
	if err := r.state.Delete(ctx, StatePrefix+def.Name); err != nil {
		return fmt.Errorf("unpersist collector %s: %w", def.Name, err)
	}
	r.deactivate(def)
	if err := r.cache.Delete(ctx, def.Name); err != nil {
		r.logger.Warn("Failed to evict collector cache", "collector", def.Name, "error", err)
	}
	r.resetDiscovery()
	r.logger.Info("Unregistered collector", "collector", def.Name)
	return nil
}

// Collectors lists the active collectors sorted by name.
func (r *Registry) Collectors(ctx context.Context) ([]Info, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(r.active))
	for _, name := range r.names() {
		def := r.active[name]
		out = append(out, Info{
			Name:        name,
			Type:        def.TypeName,
			Description: r.descriptions[name],
			Builtin:     r.builtin[name],
		})
	}
	return out, nil
}

// Has reports whether name resolves to an active collector.
func (r *Registry) Has(ctx context.Context, name string) bool {
	_, err := r.resolve(ctx, name)
	return err == nil
}

// Epoch counts successful recollects in this process.
func (r *Registry) Epoch() uint64 {
	return r.epoch
}

// Collect returns the aggregation object of the collector called name,
// building and caching it on a miss. name may also be the aggregation type
// name. A re-entrant call for a collector that is being built returns the
// in-progress object.
func (r *Registry) Collect(ctx context.Context, name string, fresh bool) (any, error) {
	def, err := r.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	key := def.Name

	if _, busy := r.inProgress[key]; busy {
		return r.current[key], nil
	}

	built := false
	v, err := func() (any, error) {
		r.inProgress[key] = struct{}{}
		defer func() {
			delete(r.inProgress, key)
			delete(r.current, key)
		}()

		if err := r.syncEpoch(ctx); err != nil {
			return nil, err
		}
		if fresh {
			if err := r.cache.Delete(ctx, key); err != nil {
				return nil, fmt.Errorf("evict collector %s: %w", key, err)
			}
		}
		return r.cache.Load(ctx, key, func(ctx context.Context) (any, error) {
			built = true
			return r.build(ctx, def)
		})
	}()
	if err != nil {
		return nil, err
	}

	if built {
		r.events.Emit(ctx, EventCollect+"."+key, false)
	}
	return v, nil
}

// Collect is the typed form of Registry.Collect.
func Collect[T any](ctx context.Context, r *Registry, typ Type[T]) (T, error) {
	var zero T
	v, err := r.Collect(ctx, typ.Name(), false)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s: got %T", ErrUnexpectedAggregate, typ.Name(), v)
	}
	return t, nil
}

// Recollect clears the cache store and eagerly rebuilds every collector.
// With fresh, the persisted collector table is re-read and the reset hook
// runs. It reports false when the cache could not be cleared, the recollect
// lock could not be taken or a collector failed to build.
//
// A Recollect started by a listener of an outer one, in the same process,
// does not wait for the recollect lock. EventCollect is emitted after the
// lock is released.
func (r *Registry) Recollect(ctx context.Context, fresh bool) bool {
	ok, err := r.rebuild(ctx, fresh)
	if err != nil {
		r.logger.Error("Failed to recollect", "error", err)
		return false
	}

	r.events.Emit(ctx, EventCollect, false)
	r.logger.Debug("Recollected", "epoch", r.epoch, "fresh", fresh)
	return ok
}

func (r *Registry) rebuild(ctx context.Context, fresh bool) (bool, error) {
	if locker, ok := r.cache.(cache.Locker); ok && !r.locked {
		unlock, err := locker.Lock(ctx, lockName, r.lockTTL)
		if err != nil {
			return false, fmt.Errorf("acquire recollect lock: %w", err)
		}
		r.locked = true
		defer func() {
			r.locked = false
			unlock()
		}()
	}

	if err := r.cache.Clear(ctx); err != nil {
		return false, fmt.Errorf("clear collector cache: %w", err)
	}
	r.resetDiscovery()

	if fresh {
		r.resetTable()
		if err := r.load(ctx); err != nil {
			return false, fmt.Errorf("load collector table: %w", err)
		}
		if r.onReset != nil {
			r.onReset()
		}
	}
	r.epoch++

	ok := true
	for _, name := range r.names() {
		if _, err := r.Collect(ctx, name, false); err != nil {
			r.logger.Error("Failed to collect", "collector", name, "error", err)
			ok = false
		}
	}
	return ok, nil
}

func (r *Registry) build(ctx context.Context, def *Definition) (any, error) {
	if err := r.include(ctx); err != nil {
		return nil, err
	}

	obj, err := r.container.Make(containerKey(def.Name))
	if err != nil {
		return nil, fmt.Errorf("instantiate collector %s: %w", def.Name, err)
	}
	r.current[def.Name] = obj

	entries := r.entries[def.Name]
	for _, c := range entries {
		if err := apply(c, obj); err != nil {
			return nil, fmt.Errorf("%w: %s from %s: %w", ErrContributionFailed, def.Name, origin(c), err)
		}
	}

	final, err := def.Finalize(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s finalize: %w", ErrContributionFailed, def.Name, err)
	}
	r.logger.Debug("Collected", "collector", def.Name, "contributions", len(entries))
	return final, nil
}

func apply(c Contribution, obj any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Apply(obj)
}

func origin(c Contribution) string {
	if c.Module == "" {
		return "internal"
	}
	return c.Module
}

// include discovers every contribution once per epoch: the internal
// contributor first, then the module source.
func (r *Registry) include(ctx context.Context) error {
	if r.included {
		return nil
	}

	var all []Contribution
	if r.internal != nil {
		all = append(all, r.internal.Contributions()...)
	}
	if r.source != nil {
		cs, err := r.source(ctx)
		if err != nil {
			return fmt.Errorf("discover contributions: %w", err)
		}
		all = append(all, cs...)
	}

	entries := make(map[string][]Contribution)
	for _, c := range all {
		if _, ok := r.active[c.Kind]; !ok {
			r.logger.Warn("Skipping contribution to unknown collector", "collector", c.Kind, "module", origin(c))
			continue
		}
		entries[c.Kind] = append(entries[c.Kind], c)
	}
	for kind := range entries {
		sortByPriority(entries[kind])
	}

	r.entries = entries
	r.included = true
	return nil
}

func (r *Registry) resetDiscovery() {
	r.included = false
	r.entries = make(map[string][]Contribution)
}

// syncEpoch drops discovered contributions when another process has
// advanced the shared cache epoch.
func (r *Registry) syncEpoch(ctx context.Context) error {
	ep, ok := r.cache.(cache.Epocher)
	if !ok {
		return nil
	}
	n, err := ep.Epoch(ctx)
	if err != nil {
		return err
	}
	if r.seenEpoch && n != r.cacheEpoch {
		r.resetDiscovery()
	}
	r.cacheEpoch, r.seenEpoch = n, true
	return nil
}

func (r *Registry) resolve(ctx context.Context, name string) (*Definition, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if def, ok := r.active[name]; ok {
		return def, nil
	}
	if n, ok := r.byType[name]; ok {
		return r.active[n], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCollector, name)
}

// load merges the persisted collector table into the active set.
func (r *Registry) load(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	keys, err := r.state.Keys(ctx, StatePrefix)
	if err != nil {
		return fmt.Errorf("read collector table: %w", err)
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, StatePrefix)
		var rec record
		if _, err := r.state.Read(ctx, key, &rec); err != nil {
			return fmt.Errorf("read collector %s: %w", name, err)
		}
		def, ok := r.catalog[name]
		if !ok {
			r.logger.Warn("Persisted collector has no definition", "collector", name, "type", rec.Type)
			continue
		}
		if rec.Type != "" && rec.Type != def.TypeName {
			r.logger.Warn("Persisted collector type changed", "collector", name, "persisted", rec.Type, "type", def.TypeName)
		}
		if err := r.activate(def, rec.Description); err != nil {
			if errors.Is(err, ErrCollectorConflict) {
				r.logger.Warn("Skipping conflicting collector", "collector", name, "error", err)
				continue
			}
			return err
		}
	}
	r.loaded = true
	return nil
}

// resetTable drops every non built-in collector so the persisted table is
// read again.
func (r *Registry) resetTable() {
	for name, def := range r.active {
		if !r.builtin[name] {
			r.deactivate(def)
		}
	}
	r.loaded = false
}

func (r *Registry) activate(def *Definition, description string) error {
	if cur, ok := r.active[def.Name]; ok && cur.TypeName != def.TypeName {
		return fmt.Errorf("%w: %s is %s", ErrCollectorConflict, def.Name, cur.TypeName)
	}
	if other, ok := r.byType[def.TypeName]; ok && other != def.Name {
		return fmt.Errorf("%w: %s is collected by %s", ErrCollectorConflict, def.TypeName, other)
	}
	if description == "" {
		description = def.Description
	}

	r.active[def.Name] = def
	r.descriptions[def.Name] = description
	r.byType[def.TypeName] = def.Name

	r.container.Bind(def.TypeName, func(*container.Container) (any, error) {
		return def.New(), nil
	})
	r.container.Alias(containerKey(def.Name), def.TypeName)
	return nil
}

func (r *Registry) deactivate(def *Definition) {
	delete(r.active, def.Name)
	delete(r.descriptions, def.Name)
	delete(r.byType, def.TypeName)
	r.container.Forget(containerKey(def.Name))
	r.container.Forget(def.TypeName)
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func containerKey(name string) string {
	return "collector." + name
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, bool) bool { return true }

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}
