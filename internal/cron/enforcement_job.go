package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type enforcer interface {
	Enforce(ctx context.Context) (*enforcement.Result, error)
}

type EnforcementJobParams struct {
	Logger   *logger.Logger
	Enforcer enforcer
}

// NewEnforcementJob runs the default policy over every active subscription.
// Register it after the sweep job so it sees the weeks the sweep aged.
func NewEnforcementJob(params EnforcementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Enforcer == nil {
		return nil, fmt.Errorf("enforcement service required")
	}
	return &enforcementJob{logg: params.Logger, enforcer: params.Enforcer}, nil
}

type enforcementJob struct {
	logg     *logger.Logger
	enforcer enforcer
}

func (j *enforcementJob) Name() string { return "enforcement" }

func (j *enforcementJob) Run(ctx context.Context) error {
	res, err := j.enforcer.Enforce(ctx)
	if err != nil {
		return fmt.Errorf("enforcement: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"evaluated": res.SubscriptionsEvaluated,
		"defaulted": res.NewlyDefaulted,
	})
	j.logg.Info(logCtx, "enforcement job complete")
	return nil
}
