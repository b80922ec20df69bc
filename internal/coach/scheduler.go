package coach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/myrjola/formcoach/internal/errors"
)

// Schedule holds the cron specs of the background jobs.
type Schedule struct {
	Patterns string
	Optimize string
}

// DefaultSchedule recomputes patterns daily and optimizes the database hourly.
func DefaultSchedule() Schedule {
	return Schedule{Patterns: "@daily", Optimize: "@hourly"}
}

// jobTimeout bounds a single background job run.
const jobTimeout = 5 * time.Minute

// TraceRecorder captures an execution trace, see flightrecorder.Service.
type TraceRecorder interface {
	Capture(ctx context.Context, reason string) (string, error)
}

// Scheduler runs the periodic pattern analysis and database maintenance.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	ctx      context.Context //nolint:containedctx // parent of the job contexts.
	recorder TraceRecorder
}

// NewScheduler registers the jobs of schedule. Jobs run with contexts derived from ctx once Start is called.
func NewScheduler(ctx context.Context, service *Service, schedule Schedule) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), service: service, logger: service.logger, ctx: ctx, recorder: nil}
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"recompute-patterns", schedule.Patterns, service.RecomputeAllPatterns},
		{"optimize-database", schedule.Optimize, service.db.Optimize},
	}
	for _, j := range jobs {
		if err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return nil, fmt.Errorf("schedule %s with %q: %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

// wrap runs job with a timeout and logs its outcome. Panics are logged instead of crashing the process.
func (s *Scheduler) wrap(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.LogAttrs(ctx, slog.LevelError, "scheduled job panicked", slog.String("job", name),
					errors.SlogError(errors.DecoratePanic(r)))
			}
		}()
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "scheduled job failed", slog.String("job", name),
				errors.SlogError(err))
			if errors.Is(err, context.DeadlineExceeded) {
				s.captureTrace(name)
			}
			return
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "scheduled job done", slog.String("job", name),
			slog.Duration("duration", time.Since(start)))
	}
}

// RecordTraces makes jobs that overrun their timeout capture an execution trace with r.
func (s *Scheduler) RecordTraces(r TraceRecorder) {
	s.recorder = r
}

func (s *Scheduler) captureTrace(job string) {
	if s.recorder == nil {
		return
	}
	ctx := context.WithoutCancel(s.ctx)
	if _, err := s.recorder.Capture(ctx, job); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "trace capture failed", slog.String("job", job),
			errors.SlogError(err))
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. Running jobs are not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunNow runs every job once synchronously.
func (s *Scheduler) RunNow() {
	for _, e := range s.cron.Entries() {
		e.Job.Run()
	}
}
