package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/api/responses"
	"github.com/angelmondragon/cooperative-backend/api/validators"
	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

const (
	defaultRetryBatch = 200
	maxRetryBatch     = 1000
)

// Enforcer runs enforcement passes and reports member standing.
type Enforcer interface {
	Enforce(ctx context.Context) (*enforcement.Result, error)
	CheckUserEnforcement(ctx context.Context, memberID uuid.UUID) (*enforcement.MemberStanding, error)
}

// ReferralRetrier re-runs the cascade for stalled referrals.
type ReferralRetrier interface {
	RetryStalled(ctx context.Context, limit int) (*referrals.RetryResult, error)
}

// TriggerSweep runs one automation sweep synchronously and returns its summary.
func TriggerSweep(sweeper automation.Sweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper unavailable"))
			return
		}
		result, err := sweeper.Run(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"processed": result.Processed,
				"succeeded": result.Succeeded,
				"missed":    result.MissedCount,
			})
			logg.Info(ctx, "admin.sweep.completed")
		}
		responses.WriteSuccess(w, result)
	}
}

// TriggerEnforcement runs a full enforcement pass over active subscriptions.
func TriggerEnforcement(enforcer Enforcer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if enforcer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enforcement unavailable"))
			return
		}
		result, err := enforcer.Enforce(r.Context())
		if err != nil && result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "admin.enforcement.partial")
		}
		responses.WriteSuccess(w, result)
	}
}

// MemberEnforcement reports the enforcement standing of one member.
func MemberEnforcement(enforcer Enforcer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, err := uuidParam(r, "memberID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		standing, err := enforcer.CheckUserEnforcement(r.Context(), memberID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, standing)
	}
}

// RetryReferrals re-runs the bonus cascade for up to ?limit stalled referrals.
func RetryReferrals(svc ReferralRetrier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", defaultRetryBatch, 1, maxRetryBatch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RetryStalled(r.Context(), limit)
		if err != nil && result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "admin.referral_retry.partial")
		}
		responses.WriteSuccess(w, result)
	}
}
