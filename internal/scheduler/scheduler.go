// Package scheduler runs named jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is invoked on every scheduled run.
type JobFunc func(ctx context.Context) error

// Recorder receives job instrumentation. A nil Recorder disables it.
type Recorder interface {
	RecordJob(job, status string, d time.Duration)
}

// Scheduler drives cron jobs. A job still running when its next slot arrives is skipped.
type Scheduler struct {
	cron     *cron.Cron
	recorder Recorder
	logger   zerolog.Logger
	ctx      context.Context
	jobs     []string
}

// New constructs a Scheduler evaluating specs in loc. A nil loc uses UTC.
func New(loc *time.Location, recorder Recorder, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	adapter := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		recorder: recorder,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Add registers a job under a standard five-field cron spec or descriptor such as @hourly.
func (s *Scheduler) Add(name, spec string, job JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, name)
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info().Time("next", e.Next).Msg("job scheduled")
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// RunNow executes a job synchronously outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, job JobFunc) error {
	return s.execute(ctx, name, job)
}

func (s *Scheduler) run(name string, job JobFunc) {
	if err := s.execute(s.ctx, name, job); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("job execution failed")
	}
}

func (s *Scheduler) execute(ctx context.Context, name string, job JobFunc) error {
	start := time.Now()
	s.logger.Info().Str("job", name).Msg("executing scheduled job")
	err := job(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.recorder != nil {
		s.recorder.RecordJob(name, status, time.Since(start))
	}
	return err
}

// cronLogger adapts zerolog to the cron logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
