package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgets struct {
	items []string
}

func (w *widgets) add(s string) error {
	w.items = append(w.items, s)
	return nil
}

type gadgets struct {
	names map[string]int
}

var (
	widgetKind = Define("widgets", "Widget contributions", func() *widgets { return &widgets{} })
	gadgetKind = Define("gadgets", "Gadget contributions", func() *gadgets { return &gadgets{names: map[string]int{}} })
)

type recordingEmitter struct {
	events []string
}

func (e *recordingEmitter) Emit(_ context.Context, name string, _ bool) bool {
	e.events = append(e.events, name)
	return true
}

// countingSource returns a Source that counts how often discovery ran.
func countingSource(calls *int, cs func() []Contribution) Source {
	return func(context.Context) ([]Contribution, error) {
		*calls++
		return cs(), nil
	}
}

func newRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Builtins == nil {
		opts.Builtins = []Definer{widgetKind}
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestCollectIsCachedAndDiscoversOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0
	r := newRegistry(t, Options{
		Source: countingSource(&calls, func() []Contribution {
			return []Contribution{On(widgetKind, 0, func(w *widgets) error { return w.add("a") }).From("vendor/a")}
		}),
	})

	first, err := r.Collect(ctx, "widgets", false)
	require.NoError(t, err)
	second, err := r.Collect(ctx, "widgets", false)
	require.NoError(t, err)

	assert.Same(t, first.(*widgets), second.(*widgets))
	assert.Equal(t, []string{"a"}, first.(*widgets).items)
	assert.Equal(t, 1, calls)
}

func TestPriorityOrderIsStable(t *testing.T) {
	ctx := context.Background()
	record := func(label string) func(*widgets) error {
		return func(w *widgets) error { return w.add(label) }
	}
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(widgetKind, 5, record("5")),
				On(widgetKind, 10, record("10a")),
				On(widgetKind, 0, record("0")),
				On(widgetKind, 10, record("10b")),
			}, nil
		},
	})

	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"10a", "10b", "5", "0"}, w.items)
}

func TestInternalContributorRunsFirstOnTies(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, Options{
		Internal: ContributorFunc(func() []Contribution {
			return []Contribution{On(widgetKind, 0, func(w *widgets) error { return w.add("internal") })}
		}),
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(widgetKind, 0, func(w *widgets) error { return w.add("vendor/a") }).From("vendor/a"),
				On(widgetKind, 1, func(w *widgets) error { return w.add("vendor/b") }).From("vendor/b"),
			}, nil
		},
	})

	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor/b", "internal", "vendor/a"}, w.items)
}

func TestRecollectInvalidates(t *testing.T) {
	ctx := context.Background()
	enabled := []string{"vendor/a"}
	calls, resets := 0, 0
	events := &recordingEmitter{}

	r := newRegistry(t, Options{
		Events:  events,
		OnReset: func() { resets++ },
		Source: countingSource(&calls, func() []Contribution {
			var cs []Contribution
			for _, m := range enabled {
				name := m
				cs = append(cs, On(widgetKind, 0, func(w *widgets) error { return w.add(name) }).From(name))
			}
			return cs
		}),
	})

	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor/a"}, w.items)

	enabled = append(enabled, "vendor/b")
	w, err = Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor/a"}, w.items, "cached until recollect")

	require.True(t, r.Recollect(ctx, true))
	assert.Equal(t, 1, resets)
	assert.Equal(t, uint64(1), r.Epoch())
	assert.Equal(t, 2, calls)

	w, err = Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor/a", "vendor/b"}, w.items)
	assert.Equal(t, 2, calls)

	assert.Equal(t, []string{"system.collect.widgets", "system.collect.widgets", "system.collect"}, events.events)

	require.True(t, r.Recollect(ctx, false))
	assert.Equal(t, 1, resets, "reset hook only runs on fresh recollects")
}

func TestFreshCollectRebuilds(t *testing.T) {
	ctx := context.Background()
	calls := 0
	r := newRegistry(t, Options{
		Source: countingSource(&calls, func() []Contribution {
			return []Contribution{On(widgetKind, 0, func(w *widgets) error { return w.add("x") })}
		}),
	})

	first, err := r.Collect(ctx, "widgets", false)
	require.NoError(t, err)
	second, err := r.Collect(ctx, "widgets", true)
	require.NoError(t, err)

	assert.NotSame(t, first.(*widgets), second.(*widgets))
	assert.Equal(t, 1, calls, "fresh collect reuses discovered contributions")
}

func TestReentrantCollectReturnsInProgressObject(t *testing.T) {
	ctx := context.Background()
	var r *Registry
	var seen any
	r = newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(widgetKind, 10, func(w *widgets) error { return w.add("first") }),
				On(widgetKind, 0, func(w *widgets) error {
					v, err := r.Collect(ctx, "widgets", false)
					if err != nil {
						return err
					}
					seen = v
					return w.add("second")
				}),
			}, nil
		},
	})

	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Same(t, w, seen.(*widgets))
	assert.Equal(t, []string{"first", "second"}, w.items)
}

func TestCrossCollectorContribution(t *testing.T) {
	ctx := context.Background()
	var r *Registry
	r = newRegistry(t, Options{
		Builtins: []Definer{widgetKind, gadgetKind},
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(widgetKind, 0, func(w *widgets) error { return w.add("bolt") }),
				On(gadgetKind, 0, func(g *gadgets) error {
					w, err := Collect(ctx, r, widgetKind)
					if err != nil {
						return err
					}
					g.names["widgets"] = len(w.items)
					return nil
				}),
			}, nil
		},
	})

	g, err := Collect(ctx, r, gadgetKind)
	require.NoError(t, err)
	assert.Equal(t, 1, g.names["widgets"])
}

func TestUnknownCollector(t *testing.T) {
	r := newRegistry(t, Options{})
	_, err := r.Collect(context.Background(), "unknown-type", false)
	assert.ErrorIs(t, err, ErrUnknownCollector)
	assert.False(t, r.Has(context.Background(), "unknown-type"))
}

func TestCollectByTypeName(t *testing.T) {
	r := newRegistry(t, Options{})
	v, err := r.Collect(context.Background(), "*collector.widgets", false)
	require.NoError(t, err)
	assert.IsType(t, &widgets{}, v)
	assert.True(t, r.Has(context.Background(), "*collector.widgets"))
}

func TestContributionFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	broken := true
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(widgetKind, 0, func(w *widgets) error {
					if broken {
						return errors.New("boom")
					}
					return w.add("ok")
				}).From("vendor/flaky"),
			}, nil
		},
	})

	_, err := r.Collect(ctx, "widgets", false)
	require.ErrorIs(t, err, ErrContributionFailed)
	assert.Contains(t, err.Error(), "vendor/flaky")

	broken = false
	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, w.items)
}

func TestContributionPanicBecomesError(t *testing.T) {
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{On(widgetKind, 0, func(*widgets) error { panic("kaboom") })}, nil
		},
	})
	_, err := r.Collect(context.Background(), "widgets", false)
	require.ErrorIs(t, err, ErrContributionFailed)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestDiscoveryErrorPropagates(t *testing.T) {
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) { return nil, errors.New("directory unreadable") },
	})
	_, err := r.Collect(context.Background(), "widgets", false)
	assert.ErrorContains(t, err, "directory unreadable")
}

func TestContributionsToUnknownKindsAreSkipped(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{
				On(gadgetKind, 0, func(*gadgets) error { return errors.New("must not run") }),
				On(widgetKind, 0, func(w *widgets) error { return w.add("kept") }),
			}, nil
		},
	})
	w, err := Collect(ctx, r, widgetKind)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, w.items)
}

func TestFinalize(t *testing.T) {
	sorted := Define("sorted", "Sorted widgets", func() *widgets { return &widgets{} },
		WithFinalize(func(w *widgets) (*widgets, error) {
			if len(w.items) == 0 {
				return nil, errors.New("empty")
			}
			w.items = append(w.items, "sealed")
			return w, nil
		}))

	r := newRegistry(t, Options{
		Builtins: []Definer{sorted},
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{On(sorted, 0, func(w *widgets) error { return w.add("one") })}, nil
		},
	})
	w, err := Collect(context.Background(), r, sorted)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "sealed"}, w.items)
}

func TestRegisterAndUnregister(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	src := func(context.Context) ([]Contribution, error) {
		return []Contribution{On(gadgetKind, 0, func(g *gadgets) error { g.names["x"] = 1; return nil })}, nil
	}

	r := newRegistry(t, Options{State: state, Source: src})
	_, err := r.Collect(ctx, "gadgets", false)
	require.ErrorIs(t, err, ErrUnknownCollector)

	require.NoError(t, r.Register(ctx, gadgetKind, "Runtime gadgets"))
	g, err := Collect(ctx, r, gadgetKind)
	require.NoError(t, err)
	assert.Equal(t, 1, g.names["x"])

	var rec record
	ok, err := state.Read(ctx, "collectors.gadgets", &rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record{Type: "*collector.gadgets", Description: "Runtime gadgets"}, rec)

	infos, err := r.Collectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Info{
		{Name: "gadgets", Type: "*collector.gadgets", Description: "Runtime gadgets"},
		{Name: "widgets", Type: "*collector.widgets", Description: "Widget contributions", Builtin: true},
	}, infos)

	// A second process sharing the state store picks the entry up once the
	// kind is declared.
	other := newRegistry(t, Options{State: state, Source: src})
	require.NoError(t, other.Declare(gadgetKind))
	assert.True(t, other.Has(ctx, "gadgets"))

	require.NoError(t, r.Unregister(ctx, "*collector.gadgets"))
	assert.False(t, r.Has(ctx, "gadgets"))
	ok, err = state.Read(ctx, "collectors.gadgets", &rec)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, r.Unregister(ctx, "widgets"), ErrBuiltinCollector)
	assert.ErrorIs(t, r.Unregister(ctx, "gadgets"), ErrUnknownCollector)
}

func TestRegisterConflict(t *testing.T) {
	clash := Define("widgets", "Other widgets", func() *gadgets { return &gadgets{} })
	r := newRegistry(t, Options{})
	assert.ErrorIs(t, r.Register(context.Background(), clash, ""), ErrCollectorConflict)
}

func TestPersistedEntryWithoutDefinitionIsIgnored(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	require.NoError(t, state.Write(ctx, "collectors.ghosts", record{Type: "*app.Ghosts"}))

	r := newRegistry(t, Options{State: state})
	infos, err := r.Collectors(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "widgets", infos[0].Name)
}

func TestFreshRecollectRereadsTable(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemory()
	r := newRegistry(t, Options{State: state})
	require.NoError(t, r.Declare(gadgetKind))
	assert.False(t, r.Has(ctx, "gadgets"))

	require.NoError(t, state.Write(ctx, "collectors.gadgets", record{Type: "*collector.gadgets", Description: "late"}))
	assert.False(t, r.Has(ctx, "gadgets"), "table is read once per epoch")

	require.True(t, r.Recollect(ctx, true))
	assert.True(t, r.Has(ctx, "gadgets"))
}

func TestInvalidDefinition(t *testing.T) {
	_, err := New(Options{Builtins: []Definer{&Definition{Name: "bare"}}})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

type failingCache struct {
	cache.Store
}

func (failingCache) Clear(context.Context) error { return errors.New("disk full") }

func TestRecollectFailsWhenCacheCannotClear(t *testing.T) {
	events := &recordingEmitter{}
	r := newRegistry(t, Options{
		Cache:  failingCache{Store: cache.NewMemoryCache(&cache.CacheConfig{})},
		Events: events,
	})
	assert.False(t, r.Recollect(context.Background(), true))
	assert.Empty(t, events.events)
}

func TestRecollectFailsWhileLockHeld(t *testing.T) {
	mem := cache.NewMemoryCache(&cache.CacheConfig{})
	unlock, err := mem.Lock(context.Background(), "recollect", time.Second)
	require.NoError(t, err)
	defer unlock()

	r := newRegistry(t, Options{Cache: mem})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, r.Recollect(ctx, false))
}

func TestRecollectReportsBuildFailures(t *testing.T) {
	r := newRegistry(t, Options{
		Source: func(context.Context) ([]Contribution, error) {
			return []Contribution{On(widgetKind, 0, func(*widgets) error { return fmt.Errorf("nope") })}, nil
		},
	})
	assert.False(t, r.Recollect(context.Background(), false))
	assert.Equal(t, uint64(1), r.Epoch())
}

// reentrantEmitter recollects once from inside the delivery of trigger.
type reentrantEmitter struct {
	r       *Registry
	trigger string
	fired   bool
	nested  bool
	events  []string
}

func (e *reentrantEmitter) Emit(ctx context.Context, name string, _ bool) bool {
	e.events = append(e.events, name)
	if name == e.trigger && !e.fired {
		e.fired = true
		e.nested = e.r.Recollect(ctx, false)
	}
	return true
}

func TestNestedRecollectDoesNotWaitForLock(t *testing.T) {
	for _, trigger := range []string{EventCollect, EventCollect + ".widgets"} {
		t.Run(trigger, func(t *testing.T) {
			events := &reentrantEmitter{trigger: trigger}
			r := newRegistry(t, Options{
				Cache:  cache.NewMemoryCache(&cache.CacheConfig{}),
				Events: events,
				Source: func(context.Context) ([]Contribution, error) {
					return []Contribution{On(widgetKind, 0, func(w *widgets) error { return w.add("a") })}, nil
				},
			})
			events.r = r

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.True(t, r.Recollect(ctx, false))
			require.NoError(t, ctx.Err())
			assert.True(t, events.nested)
			assert.Equal(t, uint64(2), r.Epoch())

			w, err := Collect(ctx, r, widgetKind)
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, w.items)

			// The lock is free again afterwards.
			unlock, err := r.cache.(cache.Locker).Lock(ctx, lockName, time.Second)
			require.NoError(t, err)
			unlock()
		})
	}
}
