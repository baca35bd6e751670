package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cmd, "cmd", "up", "up|down|status|version|create|validate")
	fs.StringVar(&o.dir, "dir", migrate.DefaultDir, "migrations directory; the default reads the embedded set")
	fs.StringVar(&o.name, "name", "", "migration name for -cmd=create")
	fs.StringVar(&o.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch o.cmd {
	case "up", "down", "status", "validate":
	case "create":
		if o.name == "" {
			return o, errors.New("-cmd=create needs -name")
		}
	case "version":
		if o.version == "" {
			return o, errors.New("-cmd=version needs -version")
		}
	default:
		return o, fmt.Errorf("unknown -cmd %q", o.cmd)
	}
	return o, nil
}

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	// create and validate only touch files, so they run without config.
	switch opts.cmd {
	case "create":
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, "created migration:", path)
		return nil
	case "validate":
		fsys, err := migrate.Source(opts.dir)
		if err != nil {
			return err
		}
		if err := migrate.ValidateFS(fsys); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "migrations valid")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dir": opts.dir})

	client, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		return err
	}
	defer client.Close()

	// goose files target Postgres; a local sqlite file is bootstrapped from the models.
	if cfg.FeatureFlags.UseSQLite {
		if opts.cmd != "up" {
			return fmt.Errorf("-cmd=%s is not supported with COOP_USE_SQLITE", opts.cmd)
		}
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("sqlite schema bootstrap: %w", err)
		}
		logg.Info(logg.WithField(ctx, "sqlite_path", cfg.DB.SQLitePath), "sqlite schema bootstrapped")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	var report *migrate.Report
	if opts.cmd == "version" {
		report, err = migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	} else {
		report, err = migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	}
	if err != nil {
		logg.Error(ctx, "goose failed", err)
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"applied":        report.Applied,
		"rolled_back":    report.RolledBack,
		"pending":        report.Pending,
		"schema_version": report.Version,
	}), "migrate finished")
	return nil
}
