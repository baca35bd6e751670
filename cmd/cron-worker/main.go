package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cooperative-backend/internal/cron"
	"github.com/angelmondragon/cooperative-backend/internal/engine"
	"github.com/angelmondragon/cooperative-backend/pkg/bootstrap"
	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
)

var (
	runOnce  bool
	onlyJobs string
)

func main() {
	flag.BoolVar(&runOnce, "once", false, "run a single cycle and exit instead of scheduling")
	flag.StringVar(&onlyJobs, "jobs", "", "comma-separated job names to run (default: all)")
	flag.Parse()
	bootstrap.Main("cron-worker", schedule, bootstrap.WithRedis())
}

func schedule(ctx context.Context, p *bootstrap.Process) error {
	cfg, logg := p.Config, p.Logger

	eng, err := engine.Build(engine.Params{
		Config:  cfg,
		DB:      p.DB,
		Metrics: metrics.NewEngineMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logg, eng)
	if err == nil && onlyJobs != "" {
		registry, err = registry.Subset(strings.Split(onlyJobs, ",")...)
	}
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}

	lock, err := cron.NewRedisLock(p.Redis, p.Redis.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	hour, minute, err := cfg.Cron.RunAtClock()
	if err != nil {
		return err
	}
	loc, err := cfg.Cron.Location()
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:    logg,
		Registry:  registry,
		Lock:      lock,
		Metrics:   metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		RunHour:   hour,
		RunMinute: minute,
		Interval:  cfg.Cron.Interval,
		Location:  loc,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"runAt":    cfg.Cron.RunAt,
		"timezone": loc.String(),
		"jobs":     registry.Names(),
	})
	if runOnce {
		return service.RunCycle(ctx)
	}
	return service.Run(ctx)
}

// buildRegistry registers the daily jobs in execution order: the sweep ages
// missed weeks before the enforcement pass reads them.
func buildRegistry(cfg *config.Config, logg *logger.Logger, eng *engine.Engine) (*cron.Registry, error) {
	sweep, err := cron.NewContributionSweepJob(cron.ContributionSweepJobParams{Logger: logg, Sweeper: eng.Sweeper})
	if err != nil {
		return nil, err
	}
	enforce, err := cron.NewEnforcementJob(cron.EnforcementJobParams{Logger: logg, Enforcer: eng.Enforcement})
	if err != nil {
		return nil, err
	}
	retry, err := cron.NewReferralRetryJob(cron.ReferralRetryJobParams{
		Logger:    logg,
		Referrals: eng.Referrals,
		BatchSize: cfg.Cron.CascadeRetryBatch,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.RetentionParams{
		Logger:    logg,
		Purge:     eng.OutboxRepo.DeletePublishedBefore,
		Retention: cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.RetentionParams{
		Logger:    logg,
		Purge:     eng.Notifications.PurgeRead,
		Retention: cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(sweep, enforce, retry, outboxRetention, cleanup)
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
