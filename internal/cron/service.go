package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
)

const cycleJobName = "coop-daily-cycle"

// ServiceParams configure the cron service. Interval, when positive, replaces
// the daily RunHour:RunMinute schedule.
type ServiceParams struct {
	Logger    *logger.Logger
	Registry  *Registry
	Lock      Lock
	Metrics   *metrics.CronJobMetrics
	RunHour   uint
	RunMinute uint
	Interval  time.Duration
	Location  *time.Location
}

// Service executes registered cron jobs once per cycle, in registration order.
type Service struct {
	logg      *logger.Logger
	registry  *Registry
	lock      Lock
	metrics   *metrics.CronJobMetrics
	runHour   uint
	runMinute uint
	interval  time.Duration
	location  *time.Location
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.RunHour > 23 || params.RunMinute > 59 {
		return nil, fmt.Errorf("invalid run time %02d:%02d", params.RunHour, params.RunMinute)
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:      params.Logger,
		registry:  registry,
		lock:      params.Lock,
		metrics:   params.Metrics,
		runHour:   params.RunHour,
		runMinute: params.RunMinute,
		interval:  params.Interval,
		location:  location,
	}, nil
}

func (s *Service) definition() gocron.JobDefinition {
	if s.interval > 0 {
		return gocron.DurationJob(s.interval)
	}
	return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(s.runHour, s.runMinute, 0)))
}

// Run schedules the cycle and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(s.location))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	job, err := scheduler.NewJob(
		s.definition(),
		gocron.NewTask(func() {
			if err := s.RunCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}),
		gocron.WithName(cycleJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("schedule cycle: %w", err)
	}
	scheduler.Start()
	if next, err := job.NextRun(); err == nil {
		s.logg.Info(s.logg.WithField(ctx, "next_run", next), "cron cycle scheduled")
	}

	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	if err := scheduler.Shutdown(); err != nil {
		s.logg.Error(context.Background(), "scheduler shutdown failed", err)
	}
	return ctx.Err()
}

// RunCycle runs every registered job once under the distributed lock. A failing
// job does not stop the jobs after it; the failures are returned combined. The
// lease is renewed before each job after the first, and a lost lease ends the
// cycle.
func (s *Service) RunCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(s.logg.WithField(ctx, "jobs", s.registry.Names()), "scheduled run starting")
	var errs error
	for i, job := range s.registry.Jobs() {
		if i > 0 {
			if err := s.lock.Extend(ctx); err != nil {
				s.logg.Error(s.logg.WithField(ctx, "next_job", job.Name()), "cron lease lost; abandoning cycle", err)
				errs = multierr.Append(errs, err)
				break
			}
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "failed_jobs", len(multierr.Errors(errs))), "scheduled run complete")
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := s.safeRun(jobCtx, job)
	finished := time.Now()
	duration := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), duration, finished, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}

func (s *Service) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
