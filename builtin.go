package modhost

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/GoCodeAlone/modhost/cache"
	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/extension"
	"github.com/GoCodeAlone/modhost/health"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// HealthPath is the framework's health route.
const HealthPath = "/_modhost/health"

// AppService is the service name the application is bound to.
const AppService = "app"

var frameworkMessages = map[string]string{
	"module.install.success":   "Module %s installed",
	"module.install.failed":    "Module %s could not be installed",
	"module.uninstall.success": "Module %s uninstalled",
	"module.uninstall.failed":  "Module %s could not be uninstalled",
	"module.enable.success":    "Module %s enabled",
	"module.enable.failed":     "Module %s could not be enabled",
	"module.disable.success":   "Module %s disabled",
	"module.disable.failed":    "Module %s could not be disabled",
	"module.not_found":         "Module %s does not exist",
	"app.not_set_up":           "The application is not set up, run the setup command first",
	"app.setup.success":        "Application set up",
	"collect.success":          "Collectors rebuilt",
	"collect.failed":           "Collectors could not be rebuilt",
}

// internalContributor registers the framework defaults. It always runs
// before module contributors.
func (a *Application) internalContributor() collector.Contributor {
	return collector.ContributorFunc(func() []collector.Contribution {
		return []collector.Contribution{
			collector.On(extension.RoutesKind, 0, func(r *extension.Routes) error {
				r.Get(HealthPath, a.serveHealth).Named("modhost.health")
				return nil
			}),
			collector.On(extension.ListenersKind, 0, func(l *extension.Listeners) error {
				l.On(collector.EventCollect, 0, func(_ context.Context, e cloudevents.Event) error {
					a.logger.Debug("Collectors rebuilt", "event", e.ID(), "epoch", a.registry.Epoch())
					return nil
				})
				return nil
			}),
			collector.On(extension.ServicesKind, 0, func(s *extension.Services) error {
				s.Instance(AppService, a)
				return nil
			}),
			collector.On(extension.TranslationsKind, 0, func(t *extension.Translations) error {
				t.Add(extension.DefaultLocale, frameworkMessages)
				return nil
			}),
			collector.On(extension.HealthKind, 0, func(h *health.Aggregator) error {
				a.registerHealthChecks(h)
				return nil
			}),
		}
	})
}

func (a *Application) registerHealthChecks(h *health.Aggregator) {
	h.Register(health.NewBasicChecker("state", "Module state store is readable", func(ctx context.Context) error {
		_, err := a.states.Keys(ctx, StatePrefix)
		return err
	}))
	h.Register(health.NewBasicChecker("packages", "Installed package metadata is readable", func(ctx context.Context) error {
		_, err := a.directory.Packages(ctx, false)
		return err
	}))
	if ep, ok := a.cache.(cache.Epocher); ok {
		c := health.NewBasicChecker("cache", "Shared collector cache is reachable", func(ctx context.Context) error {
			_, err := ep.Epoch(ctx)
			return err
		})
		c.Optional = true
		h.Register(c)
	}
}

type healthReport struct {
	Status  health.Status   `json:"status"`
	SetUp   bool            `json:"setUp"`
	Epoch   uint64          `json:"epoch"`
	Enabled []string        `json:"enabled"`
	Checks  []health.Result `json:"checks"`
}

// serveHealth runs the collected health checks. Only a critical status
// answers 503.
func (a *Application) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := healthReport{Status: health.StatusHealthy, SetUp: a.IsSetUp(ctx), Epoch: a.registry.Epoch(), Enabled: []string{}}

	if checks, err := collector.Collect(ctx, a.registry, extension.HealthKind); err != nil {
		a.logger.Error("Failed to collect health checks", "error", err)
		report.Status = health.StatusCritical
	} else {
		res := checks.CheckAll(ctx)
		report.Status, report.Checks = res.Status, res.Checks
	}

	if mods, err := a.directory.Modules(ctx, false); err == nil {
		for _, m := range mods {
			if m.IsEnabled(ctx) {
				report.Enabled = append(report.Enabled, m.Name())
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
