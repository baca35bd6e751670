// Package engine composes the settlement, referral, enforcement and sweep
// services over one database handle. Every binary that mutates member
// balances builds its services here so they share the same policy and sinks.
package engine

import (
	"time"

	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/internal/contributions"
	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/metrics"
	"github.com/angelmondragon/cooperative-backend/pkg/outbox"
)

// Params configures Build.
type Params struct {
	Config  *config.Config
	DB      *db.Client
	Metrics *metrics.EngineMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

// Engine holds the wired domain services.
type Engine struct {
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
	Notifications notifications.Service
	Ledger        ledger.Service
	Contributions contributions.Service
	Referrals     referrals.Service
	Enforcement   enforcement.Service
	Sweeper       automation.Sweeper
}

// Build wires every domain service against params.DB.
func Build(params Params) (*Engine, error) {
	if params.Config == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "config required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database client required")
	}
	cfg := params.Config
	conn := params.DB.DB()

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, params.Logger)

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), params.Logger)
	if err != nil {
		return nil, err
	}

	members := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(members, params.DB, emitter)
	if err != nil {
		return nil, err
	}

	policy, err := contributions.NewWindowPolicy(cfg.Contributions)
	if err != nil {
		return nil, err
	}

	contributionsSvc, err := contributions.NewService(contributions.Deps{
		DB:            params.DB,
		Repo:          contributions.NewRepository(conn),
		Members:       members,
		Ledger:        ledgerSvc,
		Notifications: notificationsSvc,
		Outbox:        emitter,
		Policy:        policy,
		Metrics:       params.Metrics,
		Logger:        params.Logger,
		Now:           params.Now,
	})
	if err != nil {
		return nil, err
	}

	referralsSvc, err := referrals.NewService(referrals.Deps{
		DB:      params.DB,
		Repo:    referrals.NewRepository(conn),
		Members: members,
		Ledger:  ledgerSvc,
		Outbox:  emitter,
		Config:  cfg.Referrals,
		Metrics: params.Metrics,
		Logger:  params.Logger,
		Now:     params.Now,
	})
	if err != nil {
		return nil, err
	}

	enforcementSvc, err := enforcement.NewService(enforcement.Deps{
		DB:            params.DB,
		Repo:          enforcement.NewRepository(conn),
		Notifications: notificationsSvc,
		Outbox:        emitter,
		Threshold:     cfg.Contributions.DefaultThreshold,
		Metrics:       params.Metrics,
		Logger:        params.Logger,
		Now:           params.Now,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := automation.NewSweeper(automation.Deps{
		DB:              params.DB,
		Repo:            automation.NewRepository(conn),
		Settler:         contributionsSvc,
		Enforcer:        enforcementSvc,
		Notifications:   notificationsSvc,
		Outbox:          emitter,
		Concurrency:     cfg.Cron.SweepConcurrency,
		MissGracePeriod: cfg.Contributions.MissGracePeriod,
		Metrics:         params.Metrics,
		Logger:          params.Logger,
		Now:             params.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Outbox:        emitter,
		OutboxRepo:    outboxRepo,
		Notifications: notificationsSvc,
		Ledger:        ledgerSvc,
		Contributions: contributionsSvc,
		Referrals:     referralsSvc,
		Enforcement:   enforcementSvc,
		Sweeper:       sweeper,
	}, nil
}
