// Package schedule runs periodic jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const DefaultTimezone = "America/Sao_Paulo"

type Scheduler struct {
	cron *cron.Cron
}

// New creates a stopped scheduler evaluating specs in loc. A job that is
// still running when its next tick fires is skipped.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	l := slogLogger{}
	return &Scheduler{cron: cron.New(
		cron.WithLogger(l),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)}
}

// LoadLocation falls back to UTC for an unknown zone.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", "timezone", name, "error", err.Error())
		return time.UTC
	}
	return loc
}

// Add registers job under spec (standard 5-field cron). The job gets ctx.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		job(ctx)
		slog.Debug("scheduled job finished", "job", name, "took", time.Since(start).String())
	})
	if err != nil {
		return errors.Wrapf(err, "schedule %s (%q)", name, spec)
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// Next returns the next activation time of every job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

type slogLogger struct{}

func attrs(keysAndValues []any) []any {
	out := make([]any, 0, len(keysAndValues))
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return out
}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, attrs(keysAndValues)...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(attrs(keysAndValues), "error", err.Error())...)
}
