package extension

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// ErrStopPropagation stops delivery of a cancelable event.
var ErrStopPropagation = errors.New("stop propagation")

// Listener handles one event.
type Listener func(ctx context.Context, event cloudevents.Event) error

// ListenerEntry is a registered listener.
type ListenerEntry struct {
	Pattern  string
	Priority int
	Handle   Listener
}

// Listeners collects event listeners.
type Listeners struct {
	entries []ListenerEntry
}

// NewListeners returns an empty listener set.
func NewListeners() *Listeners {
	return &Listeners{}
}

// On registers fn for events matching pattern. A trailing '*' matches any
// suffix.
func (l *Listeners) On(pattern string, priority int, fn Listener) {
	l.entries = append(l.entries, ListenerEntry{Pattern: pattern, Priority: priority, Handle: fn})
}

// For returns the listeners matching name, highest priority first.
func (l *Listeners) For(name string) []ListenerEntry {
	var out []ListenerEntry
	for _, e := range l.entries {
		if Match(e.Pattern, name) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b ListenerEntry) int { return cmp.Compare(b.Priority, a.Priority) })
	return out
}

// Len returns the number of registered listeners.
func (l *Listeners) Len() int {
	return len(l.entries)
}

func (l *Listeners) String() string {
	var b strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&b, "%4d %s\n", e.Priority, e.Pattern)
	}
	return b.String()
}

// Match reports whether the event name matches pattern.
func Match(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}
