package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

const defaultReferralRetryBatch = 200

type stalledRetrier interface {
	RetryStalled(ctx context.Context, limit int) (*referrals.RetryResult, error)
}

type ReferralRetryJobParams struct {
	Logger    *logger.Logger
	Referrals stalledRetrier
	BatchSize int
}

// NewReferralRetryJob re-runs the bonus cascade for pending referrals whose
// referee has already contributed.
func NewReferralRetryJob(params ReferralRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReferralRetryBatch
	}
	return &referralRetryJob{logg: params.Logger, referrals: params.Referrals, batch: batch}, nil
}

type referralRetryJob struct {
	logg      *logger.Logger
	referrals stalledRetrier
	batch     int
}

func (j *referralRetryJob) Name() string { return "referral-cascade-retry" }

func (j *referralRetryJob) Run(ctx context.Context) error {
	res, err := j.referrals.RetryStalled(ctx, j.batch)
	if res != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned": res.Scanned,
			"paid":    res.Paid,
			"failed":  res.Failed,
		})
		j.logg.Info(logCtx, "referral retry pass complete")
	}
	if err != nil {
		return fmt.Errorf("referral retry: %w", err)
	}
	return nil
}
