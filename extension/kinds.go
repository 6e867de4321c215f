// Package extension defines the built-in collector kinds and the services
// built from their aggregation objects.
package extension

import (
	"time"

	"github.com/GoCodeAlone/modhost/collector"
	"github.com/GoCodeAlone/modhost/health"
)

// HealthCheckTimeout bounds a single health check.
var HealthCheckTimeout = 5 * time.Second

// Built-in collector kinds.
var (
	RoutesKind       = collector.Define("routes", "HTTP routes", NewRoutes)
	ListenersKind    = collector.Define("listeners", "Event listeners", NewListeners)
	ServicesKind     = collector.Define("services", "Service container bindings", NewServices)
	CommandsKind     = collector.Define("commands", "Console commands", NewCommands)
	SchedulesKind    = collector.Define("schedules", "Scheduled jobs", NewSchedules)
	TranslationsKind = collector.Define("translations", "Translation catalogs", NewTranslations)
	HealthKind       = collector.Define("health", "Health checks", NewHealth)
)

// NewHealth creates the health aggregation object. Each check is bounded by
// HealthCheckTimeout.
func NewHealth() *health.Aggregator {
	return health.NewAggregator(HealthCheckTimeout)
}

// Builtins lists every built-in kind.
func Builtins() []collector.Definer {
	return []collector.Definer{RoutesKind, ListenersKind, ServicesKind, CommandsKind, SchedulesKind, TranslationsKind, HealthKind}
}
