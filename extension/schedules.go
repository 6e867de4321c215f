package extension

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modhost/collector"
	"github.com/robfig/cron/v3"
)

// Job is a contributed scheduled job.
type Job struct {
	Spec string
	Name string
	Run  func(ctx context.Context) error
}

// Schedules collects scheduled jobs.
type Schedules struct {
	jobs []Job
}

// NewSchedules returns an empty job set.
func NewSchedules() *Schedules {
	return &Schedules{}
}

// Add registers run under a standard five-field cron spec or a descriptor
// such as "@every 1m".
func (s *Schedules) Add(spec, name string, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Spec: spec, Name: name, Run: run})
}

// Jobs returns the registered jobs.
func (s *Schedules) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Cron builds a stopped cron scheduler running every job with ctx. Job
// errors and panics are logged.
func (s *Schedules) Cron(ctx context.Context, logger collector.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	for _, job := range s.jobs {
		if _, err := c.AddFunc(job.Spec, func() {
			if err := job.Run(ctx); err != nil {
				logger.Error("Scheduled job failed", "job", job.Name, "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
	}
	return c, nil
}

func (s *Schedules) String() string {
	var b strings.Builder
	for _, j := range s.jobs {
		fmt.Fprintf(&b, "%-16s %s\n", j.Spec, j.Name)
	}
	return b.String()
}

// cronLogger adapts collector.Logger to cron.Logger.
type cronLogger struct {
	logger collector.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
