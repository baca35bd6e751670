package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location of the SQL files. Binaries read the
// embedded copy unless another directory is requested.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Report summarises a goose invocation.
type Report struct {
	Applied    []int64
	RolledBack []int64
	Pending    []int64
	Version    int64
}

// Source returns the migration set for dir. An empty dir or DefaultDir selects
// the embedded set.
func Source(dir string) (fs.FS, error) {
	if dir == "" || dir == DefaultDir {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes up, down or status against db. The provider is not closed
// because that would close the caller's pool.
func Run(ctx context.Context, db *sql.DB, dir string, command string) (*Report, error) {
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		report.Applied = versions(results)
		if err != nil {
			return report, fmt.Errorf("goose up: %w", err)
		}
	case "down":
		result, err := provider.Down(ctx)
		if result != nil && result.Source != nil {
			report.RolledBack = []int64{result.Source.Version}
		}
		if err != nil {
			return report, fmt.Errorf("goose down: %w", err)
		}
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			if st.State == goose.StatePending {
				report.Pending = append(report.Pending, st.Source.Version)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported migrate command %q", command)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return report, fmt.Errorf("get db version: %w", err)
	}
	report.Version = version
	return report, nil
}

// MigrateToVersion moves the schema up or down to targetVersion (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) (*Report, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	report := &Report{Version: current}
	switch {
	case current == target:
		return report, nil
	case current < target:
		results, err := provider.UpTo(ctx, target)
		report.Applied = versions(results)
		if err != nil {
			return report, fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		results, err := provider.DownTo(ctx, target)
		report.RolledBack = versions(results)
		if err != nil {
			return report, fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	report.Version = target
	return report, nil
}

func versions(results []*goose.MigrationResult) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil || r.Error != nil {
			continue
		}
		out = append(out, r.Source.Version)
	}
	return out
}
