package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type sweepRunner interface {
	Run(ctx context.Context) (*automation.SweepResult, error)
}

type ContributionSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper sweepRunner
}

// NewContributionSweepJob collects due contributions, ages missed weeks and
// applies enforcement to the affected subscriptions.
func NewContributionSweepJob(params ContributionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &contributionSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type contributionSweepJob struct {
	logg    *logger.Logger
	sweeper sweepRunner
}

func (j *contributionSweepJob) Name() string { return "contribution-sweep" }

func (j *contributionSweepJob) Run(ctx context.Context) error {
	res, err := j.sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("contribution sweep: %w", err)
	}
	if res.Failed > 0 {
		return fmt.Errorf("contribution sweep: %d failures", res.Failed)
	}
	return nil
}
