package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

const (
	defaultOutboxRetention       = 30 * 24 * time.Hour
	defaultNotificationRetention = 90 * 24 * time.Hour
)

// PurgeFunc deletes rows older than cutoff and reports how many went.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionParams configures a time-window purge.
type RetentionParams struct {
	Logger    *logger.Logger
	Purge     PurgeFunc
	Retention time.Duration
}

type retentionJob struct {
	name      string
	logg      *logger.Logger
	purge     PurgeFunc
	retention time.Duration
	now       func() time.Time
}

func newRetentionJob(name string, fallback time.Duration, p RetentionParams) (*retentionJob, error) {
	if p.Logger == nil {
		return nil, fmt.Errorf("%s: logger required", name)
	}
	if p.Purge == nil {
		return nil, fmt.Errorf("%s: purge func required", name)
	}
	keep := p.Retention
	if keep <= 0 {
		keep = fallback
	}
	return &retentionJob{name: name, logg: p.Logger, purge: p.Purge, retention: keep, now: time.Now}, nil
}

// NewOutboxRetentionJob drops published outbox rows once they age out.
func NewOutboxRetentionJob(p RetentionParams) (Job, error) {
	return newRetentionJob("outbox-retention", defaultOutboxRetention, p)
}

// NewNotificationCleanupJob drops read notifications once they age out.
// Unread notifications are never touched.
func NewNotificationCleanupJob(p RetentionParams) (Job, error) {
	return newRetentionJob("notification-cleanup", defaultNotificationRetention, p)
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	ctx = j.logg.WithFields(ctx, map[string]any{
		"job":          j.name,
		"cutoff":       cutoff,
		"rows_deleted": n,
	})
	j.logg.Info(ctx, "retention purge finished")
	return nil
}
