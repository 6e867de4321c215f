package modhost

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"
)

func modulePkg(name string, requires ...string) packages.Package {
	req := make(map[string]string, len(requires))
	for _, r := range requires {
		req[r] = "*"
	}
	return packages.Package{Name: name, Type: ModuleType, Require: req}
}

func withExtra(p packages.Package, extra map[string]any) packages.Package {
	p.Extra = map[string]any{packages.ExtraKey: extra}
	return p
}

// recordingInstaller records every hook call as "<action>:<module>".
type recordingInstaller struct {
	mu     sync.Mutex
	calls  []string
	errors []string
	fail   map[string]error
	panics map[string]bool
}

func newRecordingInstaller() *recordingInstaller {
	return &recordingInstaller{fail: map[string]error{}, panics: map[string]bool{}}
}

func (r *recordingInstaller) hook(action string, m *Module) error {
	r.mu.Lock()
	r.calls = append(r.calls, action+":"+m.Name())
	r.mu.Unlock()
	if r.panics[action] {
		panic(action + " exploded")
	}
	return r.fail[action]
}

func (r *recordingInstaller) failed(action string, m *Module, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Sprintf("%s:%s:%v", action, m.Name(), err))
}

func (r *recordingInstaller) Install(_ context.Context, m *Module) error   { return r.hook("install", m) }
func (r *recordingInstaller) Uninstall(_ context.Context, m *Module) error { return r.hook("uninstall", m) }
func (r *recordingInstaller) Enable(_ context.Context, m *Module) error    { return r.hook("enable", m) }
func (r *recordingInstaller) Disable(_ context.Context, m *Module) error   { return r.hook("disable", m) }

func (r *recordingInstaller) InstallError(_ context.Context, m *Module, err error) {
	r.failed("install", m, err)
}

func (r *recordingInstaller) EnableError(_ context.Context, m *Module, err error) {
	r.failed("enable", m, err)
}

func (r *recordingInstaller) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fixture is an application over a static package list with in-memory
// stores and an observer recording every event type.
type fixture struct {
	app    *Application
	source *packages.Static
	states *store.Memory

	mu     sync.Mutex
	events []string
}

func newFixture(t *testing.T, pkgs []packages.Package, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{source: packages.NewStatic(pkgs...), states: store.NewMemory()}
	recorder := NewFunctionalObserver("test.recorder", func(_ context.Context, e cloudevents.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e.Type())
		return nil
	})

	base := []Option{
		WithPackageSource(f.source),
		WithStateStore(f.states),
		WithCacheStore(cache.NewMemoryCache(&cache.CacheConfig{})),
		WithObserver(recorder),
	}
	app, err := NewApplication(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	f.app = app
	return f
}

func (f *fixture) module(name string) *Module {
	return f.app.Module(name)
}

func (f *fixture) setState(t *testing.T, name string, s State) {
	t.Helper()
	require.NoError(t, f.states.Write(context.Background(), StatePrefix+name, int(s)))
}

func (f *fixture) state(t *testing.T, name string) State {
	t.Helper()
	s, err := f.module(name).State(context.Background())
	require.NoError(t, err)
	return s
}

// recorded returns the recorded event types matching prefix.
func (f *fixture) recorded(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// recollects counts completed recollects.
func (f *fixture) recollects() int {
	n := 0
	for _, e := range f.recorded("system.collect") {
		if e == "system.collect" {
			n++
		}
	}
	return n
}

func (f *fixture) resetEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

func installerBinding(ref string, inst *recordingInstaller) Option {
	return WithInstaller(ref, func(*container.Container) (any, error) { return inst, nil })
}

func contributorBinding(ref string, contributions func() []collector.Contribution) Option {
	return WithContributor(ref, func(*container.Container) (any, error) {
		return collector.ContributorFunc(contributions), nil
	})
}
