package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/api/middleware"
	"github.com/angelmondragon/cooperative-backend/api/responses"
	"github.com/angelmondragon/cooperative-backend/api/validators"
	"github.com/angelmondragon/cooperative-backend/internal/contributions"
	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/money"
)

const (
	maxReferenceLen   = 128
	maxDescriptionLen = 255
)

// Settler settles contributions and generates schedules.
type Settler interface {
	Settle(ctx context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*contributions.Result, error)
	GenerateSchedule(ctx context.Context, subscriptionID uuid.UUID) (*contributions.ScheduleResult, error)
}

// Ledger records funding events and reconciles balances.
type Ledger interface {
	Deposit(ctx context.Context, input ledger.DepositInput) (*ledger.DepositResult, error)
	Reconcile(ctx context.Context, memberID uuid.UUID) (*ledger.Reconciliation, error)
}

type settleRequest struct {
	MemberID string `json:"memberId" validate:"required,uuid"`
	Mode     string `json:"mode" validate:"required,settlement_mode"`
}

type depositRequest struct {
	MemberID    string `json:"memberId" validate:"required,uuid"`
	AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"required,max=128,ledger_ref"`
	Description string `json:"description" validate:"max=255"`
}

type depositResponse struct {
	TransactionID uuid.UUID `json:"transactionId"`
	MemberID      uuid.UUID `json:"memberId"`
	AmountCents   int64     `json:"amountCents"`
	Amount        string    `json:"amount"`
	Reference     string    `json:"reference"`
	Duplicate     bool      `json:"duplicate"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SettleContribution settles the member's current week in the requested mode.
func SettleContribution(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settleRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		memberID, err := uuid.Parse(req.MemberID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid memberId"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithMemberID(ctx, memberID.String())
			ctx = logg.WithField(ctx, "mode", req.Mode)
		}

		result, err := svc.Settle(ctx, memberID, enums.SettlementMode(req.Mode))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Deferred {
			status = http.StatusAccepted
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"operator":    middleware.OperatorFromContext(ctx),
				"week_number": result.WeekNumber,
				"deferred":    result.Deferred,
			})
			logg.Info(ctx, "admin.settlement.completed")
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// RecordDeposit credits a gateway-confirmed funding event to the member.
func RecordDeposit(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req depositRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		memberID, err := uuid.Parse(req.MemberID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid memberId"))
			return
		}

		result, err := svc.Deposit(r.Context(), ledger.DepositInput{
			MemberID:    memberID,
			AmountCents: req.AmountCents,
			Reference:   validators.SanitizeString(req.Reference, maxReferenceLen),
			Description: validators.SanitizeString(req.Description, maxDescriptionLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		txn := result.Transaction
		responses.WriteSuccessStatus(w, status, depositResponse{
			TransactionID: txn.ID,
			MemberID:      txn.MemberID,
			AmountCents:   txn.AmountCents,
			Amount:        money.Format(txn.AmountCents),
			Reference:     txn.Reference,
			Duplicate:     result.Duplicate,
			CreatedAt:     txn.CreatedAt,
		})
	}
}

// MemberReconciliation compares stored balances with the transaction log.
func MemberReconciliation(svc Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, err := uuidParam(r, "memberID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.Reconcile(r.Context(), memberID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !report.Balanced && logg != nil {
			logg.Warn(logg.WithMemberID(r.Context(), memberID.String()), "admin.reconciliation.drift")
		}
		responses.WriteSuccess(w, report)
	}
}

// GenerateSchedule creates the pending weekly rows for a subscription.
func GenerateSchedule(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriptionID, err := uuidParam(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.GenerateSchedule(r.Context(), subscriptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
