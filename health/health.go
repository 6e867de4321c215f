// Package health aggregates named checks into one status report.
package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrHealthCheckNotFound = errors.New("health check not found")

// Status is the outcome of a check or of a whole report.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Checker is one health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// BasicChecker adapts a function to Checker. A failing optional check only
// degrades the report to a warning.
type BasicChecker struct {
	name        string
	description string
	checkFunc   func(context.Context) error
	Optional    bool
}

// NewBasicChecker creates a required check.
func NewBasicChecker(name, description string, checkFunc func(context.Context) error) *BasicChecker {
	return &BasicChecker{name: name, description: description, checkFunc: checkFunc}
}

// Name implements Checker.
func (c *BasicChecker) Name() string { return c.name }

// Description returns the human-readable purpose of the check.
func (c *BasicChecker) Description() string { return c.description }

// Check implements Checker.
func (c *BasicChecker) Check(ctx context.Context) error { return c.checkFunc(ctx) }

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of every registered check. Its status is the worst
// check status.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Result  `json:"checks"`
}

// Aggregator runs registered checks in registration order.
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewAggregator creates an Aggregator. A positive timeout bounds each check.
func NewAggregator(timeout time.Duration) *Aggregator {
	return &Aggregator{timeout: timeout}
}

// Register adds checker, replacing a registered check of the same name in
// place.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.index(checker.Name()); i >= 0 {
		a.checkers[i] = checker
		return
	}
	a.checkers = append(a.checkers, checker)
}

// Unregister removes the check called name.
func (a *Aggregator) Unregister(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.index(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}
	a.checkers = slices.Delete(a.checkers, i, i+1)
	return nil
}

// Names lists the registered checks in order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		out[i] = c.Name()
	}
	return out
}

func (a *Aggregator) index(name string) int {
	return slices.IndexFunc(a.checkers, func(c Checker) bool { return c.Name() == name })
}

// CheckAll runs every check.
func (a *Aggregator) CheckAll(ctx context.Context) *Report {
	a.mu.RLock()
	checkers := slices.Clone(a.checkers)
	a.mu.RUnlock()

	report := &Report{Status: StatusHealthy, Timestamp: time.Now(), Checks: make([]Result, 0, len(checkers))}
	for _, c := range checkers {
		r := a.run(ctx, c)
		if r.Status.rank() > report.Status.rank() {
			report.Status = r.Status
		}
		report.Checks = append(report.Checks, r)
	}
	return report
}

// CheckOne runs the check called name.
func (a *Aggregator) CheckOne(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := a.index(name)
	var c Checker
	if i >= 0 {
		c = a.checkers[i]
	}
	a.mu.RUnlock()
	if c == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrHealthCheckNotFound, name)
	}
	return a.run(ctx, c), nil
}

func (a *Aggregator) run(ctx context.Context, c Checker) (r Result) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	r = Result{Name: c.Name(), Status: StatusHealthy}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.Status = StatusCritical
			r.Error = fmt.Sprintf("panic: %v", p)
		}
		r.Duration = time.Since(start)
	}()

	if err := c.Check(ctx); err != nil {
		r.Status = StatusCritical
		if b, ok := c.(*BasicChecker); ok && b.Optional {
			r.Status = StatusWarning
		}
		r.Error = err.Error()
	}
	return r
}

func (a *Aggregator) String() string {
	return strings.Join(a.Names(), "\n")
}
