package modhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/container"
	"github.com/GoCodeAlone/modhost/extension"
	"github.com/GoCodeAlone/modhost/packages"
	"github.com/GoCodeAlone/modhost/store"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cucumber/godog"
)

var (
	errApplicationNotCreated = errors.New("application was not created in background")
	errExpectedSuccess       = errors.New("expected the transition to succeed")
	errExpectedRefusal       = errors.New("expected the transition to be refused")
	errUnexpectedState       = errors.New("unexpected module state")
	errExpectedNotFound      = errors.New("expected a module not found error")
	errUnexpectedResponse    = errors.New("unexpected response")
	errUnexpectedRecollects  = errors.New("unexpected number of recollects")
)

type page struct {
	path     string
	priority int
}

// lifecycleBDDContext holds the state of one scenario.
type lifecycleBDDContext struct {
	app        *Application
	states     store.Store
	modules    []string
	pages      map[string][]page
	recollects int
	ok         bool
	err        error
	response   string
}

func (c *lifecycleBDDContext) reset() {
	if c.app != nil {
		_ = c.app.Close(context.Background())
	}
	*c = lifecycleBDDContext{pages: make(map[string][]page)}
}

func (c *lifecycleBDDContext) contributions(module string) func() []collector.Contribution {
	return func() []collector.Contribution {
		var out []collector.Contribution
		for _, p := range c.pages[module] {
			out = append(out, collector.On(extension.RoutesKind, p.priority, func(r *extension.Routes) error {
				r.Get(p.path, func(w http.ResponseWriter, _ *http.Request) {
					_, _ = fmt.Fprint(w, module)
				})
				return nil
			}))
		}
		return out
	}
}

func (c *lifecycleBDDContext) theInstalledModules(table *godog.Table) error {
	var pkgs []packages.Package
	opts := []Option{}
	for _, row := range table.Rows[1:] {
		name, requires := row.Cells[0].Value, strings.TrimSpace(row.Cells[1].Value)
		var p packages.Package
		if requires == "" {
			p = modulePkg(name)
		} else {
			p = modulePkg(name, strings.Split(requires, ",")...)
		}
		ref := name + ".collector"
		pkgs = append(pkgs, withExtra(p, map[string]any{"collector": ref}))
		contribute := c.contributions(name)
		opts = append(opts, WithContributor(ref, func(*container.Container) (any, error) {
			return collector.ContributorFunc(contribute), nil
		}))
		c.modules = append(c.modules, name)
	}

	c.states = store.NewMemory()
	counter := NewFunctionalObserver("bdd.recollects", func(context.Context, cloudevents.Event) error {
		c.recollects++
		return nil
	})
	opts = append(opts,
		WithPackageSource(packages.NewStatic(pkgs...)),
		WithStateStore(c.states),
		WithCacheStore(cache.NewMemoryCache(&cache.CacheConfig{})),
		WithObserver(counter, collector.EventCollect),
	)

	app, err := NewApplication(context.Background(), opts...)
	if err != nil {
		return err
	}
	c.app = app
	return nil
}

func (c *lifecycleBDDContext) moduleIsEnabled(name string) error {
	if c.app == nil {
		return errApplicationNotCreated
	}
	return c.states.Write(context.Background(), StatePrefix+name, int(StateEnabled))
}

func (c *lifecycleBDDContext) everyModuleIsEnabled() error {
	for _, name := range c.modules {
		if err := c.moduleIsEnabled(name); err != nil {
			return err
		}
	}
	c.app.Recollect(context.Background(), true)
	c.recollects = 0
	return nil
}

func (c *lifecycleBDDContext) moduleServes(name, path string, priority int) error {
	c.pages[name] = append(c.pages[name], page{path: path, priority: priority})
	return nil
}

func (c *lifecycleBDDContext) iTransition(recursive, action, name string) error {
	if c.app == nil {
		return errApplicationNotCreated
	}
	ops := map[string]func(context.Context, string, ...TransitionOption) (bool, error){
		"install":   c.app.Install,
		"uninstall": c.app.Uninstall,
		"enable":    c.app.Enable,
		"disable":   c.app.Disable,
	}
	c.recollects = 0
	c.ok, c.err = ops[action](context.Background(), name, WithRecursive(recursive != ""))
	return nil
}

func (c *lifecycleBDDContext) theTransitionShouldSucceed() error {
	if c.err != nil {
		return c.err
	}
	if !c.ok {
		return errExpectedSuccess
	}
	return nil
}

func (c *lifecycleBDDContext) theTransitionShouldBeRefused() error {
	if c.err != nil {
		return c.err
	}
	if c.ok {
		return errExpectedRefusal
	}
	return nil
}

func (c *lifecycleBDDContext) moduleShouldBe(name, state string) error {
	s, err := c.app.Module(name).State(context.Background())
	if err != nil {
		return err
	}
	if s.String() != state {
		return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedState, name, s, state)
	}
	return nil
}

func (c *lifecycleBDDContext) theModuleShouldNotBeFound() error {
	if !errors.Is(c.err, ErrModuleNotFound) {
		return fmt.Errorf("%w, got %v", errExpectedNotFound, c.err)
	}
	return nil
}

func (c *lifecycleBDDContext) theCollectorsShouldHaveBeenRebuilt(times int) error {
	if c.recollects != times {
		return fmt.Errorf("%w: got %d, want %d", errUnexpectedRecollects, c.recollects, times)
	}
	return nil
}

func (c *lifecycleBDDContext) iRequest(path string) error {
	router, err := c.app.Router(context.Background())
	if err != nil {
		return err
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		return fmt.Errorf("%w: status %d", errUnexpectedResponse, rec.Code)
	}
	c.response = rec.Body.String()
	return nil
}

func (c *lifecycleBDDContext) theResponseShouldComeFrom(module string) error {
	if c.response != module {
		return fmt.Errorf("%w: got %q, want %q", errUnexpectedResponse, c.response, module)
	}
	return nil
}

// InitializeLifecycleScenario registers the module lifecycle steps.
func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	testCtx := &lifecycleBDDContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.Step(`^the installed modules:$`, testCtx.theInstalledModules)
	ctx.Step(`^"([^"]*)" is enabled$`, testCtx.moduleIsEnabled)
	ctx.Step(`^every module is enabled$`, testCtx.everyModuleIsEnabled)
	ctx.Step(`^"([^"]*)" serves "([^"]*)" with priority (-?\d+)$`, testCtx.moduleServes)

	ctx.Step(`^I (recursively )?(install|uninstall|enable|disable) "([^"]*)"$`, testCtx.iTransition)
	ctx.Step(`^the transition should succeed$`, testCtx.theTransitionShouldSucceed)
	ctx.Step(`^the transition should be refused$`, testCtx.theTransitionShouldBeRefused)
	ctx.Step(`^"([^"]*)" should be (uninstalled|installed|enabled)$`, testCtx.moduleShouldBe)
	ctx.Step(`^the module should not be found$`, testCtx.theModuleShouldNotBeFound)
	ctx.Step(`^the collectors should have been rebuilt (\d+) times?$`, testCtx.theCollectorsShouldHaveBeenRebuilt)

	ctx.Step(`^I request "([^"]*)"$`, testCtx.iRequest)
	ctx.Step(`^the response should come from "([^"]*)"$`, testCtx.theResponseShouldComeFrom)
}

func TestModuleLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
