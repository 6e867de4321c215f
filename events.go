package modhost

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/GoCodeAlone/modhost/extension"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSource is the CloudEvents source of every framework event.
const EventSource = "modhost"

// Event names. Module events are suffixed with "." and the module name.
const (
	EventModuleInstalled   = "module.installed"
	EventModuleUninstalled = "module.uninstalled"
	EventModuleEnabled     = "module.enabled"
	EventModuleDisabled    = "module.disabled"
	EventModuleFailed      = "module.failed"
	EventSetup             = "app.setup"
)

// ErrStopPropagation stops delivery of a cancelable event when returned by
// a listener or observer.
var ErrStopPropagation = extension.ErrStopPropagation

// Observer receives events outside of the listeners collector.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer calling handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerEntry struct {
	observer Observer
	patterns []string
}

// Dispatcher delivers events synchronously to registered observers and to
// the listeners collected from modules.
type Dispatcher struct {
	observers []observerEntry
	listeners func(ctx context.Context) (*extension.Listeners, error)
	logger    Logger
}

// NewDispatcher creates a Dispatcher. listeners may be nil.
func NewDispatcher(listeners func(ctx context.Context) (*extension.Listeners, error), logger Logger) *Dispatcher {
	if logger == nil {
		logger = discardLogger()
	}
	return &Dispatcher{listeners: listeners, logger: logger}
}

// RegisterObserver subscribes observer to events matching any of patterns,
// or to every event when none are given. Registering the same observer ID
// again replaces its patterns.
func (d *Dispatcher) RegisterObserver(observer Observer, patterns ...string) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	d.UnregisterObserver(observer)
	d.observers = append(d.observers, observerEntry{observer: observer, patterns: patterns})
}

// UnregisterObserver removes observer. Unknown observers are ignored.
func (d *Dispatcher) UnregisterObserver(observer Observer) {
	d.observers = slices.DeleteFunc(d.observers, func(e observerEntry) bool {
		return e.observer.ObserverID() == observer.ObserverID()
	})
}

// Emit delivers the event called name. With cancelable, a handler returning
// ErrStopPropagation stops delivery and Emit returns false.
func (d *Dispatcher) Emit(ctx context.Context, name string, cancelable bool) bool {
	return d.EmitData(ctx, name, nil, cancelable)
}

// EmitData is Emit with a JSON payload.
func (d *Dispatcher) EmitData(ctx context.Context, name string, data any, cancelable bool) bool {
	event := newEvent(name, data)

	type handler struct {
		id       string
		priority int
		handle   func(context.Context, cloudevents.Event) error
	}
	var handlers []handler

	if d.listeners != nil {
		ls, err := d.listeners(ctx)
		if err != nil {
			d.logger.Warn("Failed to collect listeners", "event", name, "error", err)
		}
		if ls != nil {
			for _, l := range ls.For(name) {
				handlers = append(handlers, handler{id: l.Pattern, priority: l.Priority, handle: l.Handle})
			}
		}
	}
	for _, o := range d.observers {
		for _, p := range o.patterns {
			if extension.Match(p, name) {
				handlers = append(handlers, handler{id: o.observer.ObserverID(), handle: o.observer.OnEvent})
				break
			}
		}
	}
	slices.SortStableFunc(handlers, func(a, b handler) int { return cmp.Compare(b.priority, a.priority) })

	for _, h := range handlers {
		err := h.handle(ctx, event)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStopPropagation) {
			if cancelable {
				d.logger.Debug("Event propagation stopped", "event", name, "handler", h.id)
				return false
			}
			continue
		}
		d.logger.Error("Event handler failed", "event", name, "handler", h.id, "error", err)
	}
	return true
}

func newEvent(name string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(eventID())
	event.SetSource(EventSource)
	event.SetType(name)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

func eventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// moduleEvent builds "<base>.<module>".
func moduleEvent(base string, m *Module) string {
	return base + "." + m.name
}
