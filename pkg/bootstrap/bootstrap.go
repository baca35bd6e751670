// Package bootstrap brings up the shared runtime every binary needs: config,
// logging, tracing, the database and optionally redis. It tears them down in
// reverse order on exit.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db"
	"github.com/angelmondragon/cooperative-backend/pkg/instance"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/migrate"
	"github.com/angelmondragon/cooperative-backend/pkg/redis"
	"github.com/angelmondragon/cooperative-backend/pkg/tracing"
)

// Process is a started binary.
type Process struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

type settings struct {
	redis bool
}

// Option tunes Start.
type Option func(*settings)

// WithRedis also dials redis and exposes it as Process.Redis.
func WithRedis() Option {
	return func(s *settings) { s.redis = true }
}

// Start loads .env and config, then brings dependencies up in order. On
// failure anything already opened is closed again.
func Start(ctx context.Context, name string, opts ...Option) (proc *Process, err error) {
	var set settings
	for _, opt := range opts {
		opt(&set)
	}

	boot := logger.New(logger.Options{ServiceName: name})
	if loadErr := godotenv.Load(); loadErr != nil {
		boot.Debug(ctx, ".env not loaded; using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = name

	logg := logger.New(logger.Options{
		ServiceName: name,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	proc = &Process{Name: name, Config: cfg, Logger: logg}
	defer func() {
		if err != nil && proc != nil {
			_ = proc.Close()
			proc = nil
		}
	}()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, name, logg)
	if err != nil {
		return proc, fmt.Errorf("tracing: %w", err)
	}
	proc.OnClose("tracing", shutdownTracing)

	proc.DB, err = db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return proc, fmt.Errorf("database: %w", err)
	}
	proc.OnClose("database", func(context.Context) error { return proc.DB.Close() })

	if err = migrate.MaybeRunDev(ctx, cfg, logg, proc.DB); err != nil {
		return proc, fmt.Errorf("dev migrations: %w", err)
	}

	if set.redis {
		proc.Redis, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return proc, fmt.Errorf("redis: %w", err)
		}
		proc.OnClose("redis", func(context.Context) error { return proc.Redis.Close() })
	}
	return proc, nil
}

// OnClose registers fn to run at shutdown, before everything registered earlier.
func (p *Process) OnClose(name string, fn func(context.Context) error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers newest first. Each runs once; failures are
// logged and returned combined.
func (p *Process) Close() error {
	ctx := context.Background()
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(ctx); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", c.name), "close failed", err)
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	p.closers = nil
	return errs
}

// signalContext is cancelled on SIGINT or SIGTERM and carries the process
// identity as log fields.
func (p *Process) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx = p.Logger.WithFields(ctx, map[string]any{
		"env":         p.Config.App.Env,
		"serviceKind": p.Name,
		"instance":    instance.GetID(),
	})
	return ctx, stop
}

// RunFunc is the body of a binary. It should return when ctx is cancelled.
type RunFunc func(ctx context.Context, p *Process) error

// Execute starts the process, runs fn until it returns or a shutdown signal
// arrives, then closes everything. It returns the exit code.
func Execute(ctx context.Context, name string, fn RunFunc, opts ...Option) int {
	proc, err := Start(ctx, name, opts...)
	if err != nil {
		logger.New(logger.Options{ServiceName: name}).Error(ctx, "startup failed", err)
		return 1
	}

	runCtx, stop := proc.signalContext(ctx)
	defer stop()
	proc.Logger.Info(runCtx, "starting")

	code := 0
	if err := fn(runCtx, proc); err != nil && !errors.Is(err, context.Canceled) {
		proc.Logger.Error(runCtx, "stopped unexpectedly", err)
		code = 1
	} else {
		proc.Logger.Info(runCtx, "shutting down gracefully")
	}
	if err := proc.Close(); err != nil {
		code = 1
	}
	return code
}

// Main is Execute followed by os.Exit.
func Main(name string, fn RunFunc, opts ...Option) {
	os.Exit(Execute(context.Background(), name, fn, opts...))
}
