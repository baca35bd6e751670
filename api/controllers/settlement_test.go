package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cooperative-backend/internal/contributions"
	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type stubSettler struct {
	memberID uuid.UUID
	mode     enums.SettlementMode
	result   *contributions.Result
	err      error
	schedule *contributions.ScheduleResult
}

func (s *stubSettler) Settle(_ context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*contributions.Result, error) {
	s.memberID = memberID
	s.mode = mode
	return s.result, s.err
}

func (s *stubSettler) GenerateSchedule(_ context.Context, subscriptionID uuid.UUID) (*contributions.ScheduleResult, error) {
	if s.schedule == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	s.schedule.SubscriptionID = subscriptionID
	return s.schedule, nil
}

type stubLedger struct {
	input  ledger.DepositInput
	result *ledger.DepositResult
	report *ledger.Reconciliation
	err    error
}

func (s *stubLedger) Deposit(_ context.Context, input ledger.DepositInput) (*ledger.DepositResult, error) {
	s.input = input
	return s.result, s.err
}

func (s *stubLedger) Reconcile(_ context.Context, memberID uuid.UUID) (*ledger.Reconciliation, error) {
	if s.report == nil {
		return nil, s.err
	}
	s.report.MemberID = memberID
	return s.report, nil
}

func TestSettleContributionCreated(t *testing.T) {
	memberID := uuid.New()
	settler := &stubSettler{result: &contributions.Result{MemberID: memberID, WeekNumber: 3, AmountChargedCents: 1200}}
	body := `{"memberId":"` + memberID.String() + `","mode":"manual"}`

	rec := httptest.NewRecorder()
	SettleContribution(settler, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, memberID, settler.memberID)
	assert.Equal(t, enums.SettlementModeManual, settler.mode)
	var got contributions.Result
	decodeData(t, rec, &got)
	assert.Equal(t, 3, got.WeekNumber)
}

func TestSettleContributionDeferredIsAccepted(t *testing.T) {
	settler := &stubSettler{result: &contributions.Result{Deferred: true}}
	body := `{"memberId":"` + uuid.NewString() + `","mode":"automated"}`

	rec := httptest.NewRecorder()
	SettleContribution(settler, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSettleContributionErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "unknown mode", body: `{"memberId":"` + uuid.NewString() + `","mode":"scheduled"}`, status: http.StatusBadRequest},
		{name: "bad member", body: `{"memberId":"x","mode":"manual"}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"memberId":"` + uuid.NewString() + `","mode":"manual","extra":1}`, status: http.StatusBadRequest},
		{
			name:   "insufficient funds",
			body:   `{"memberId":"` + uuid.NewString() + `","mode":"manual"}`,
			err:    pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, contributions.ErrInsufficientFunds, "insufficient available balance"),
			status: http.StatusPaymentRequired,
		},
		{
			name:   "window closed",
			body:   `{"memberId":"` + uuid.NewString() + `","mode":"manual"}`,
			err:    pkgerrors.Wrap(pkgerrors.CodeStateConflict, contributions.ErrWindowClosed, "contribution window is closed"),
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "already contributed",
			body:   `{"memberId":"` + uuid.NewString() + `","mode":"manual"}`,
			err:    pkgerrors.Wrap(pkgerrors.CodeConflict, contributions.ErrAlreadyContributed, "contribution already recorded for this week"),
			status: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settler := &stubSettler{err: tt.err}
			rec := httptest.NewRecorder()
			SettleContribution(settler, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRecordDeposit(t *testing.T) {
	memberID := uuid.New()
	txn := models.Transaction{ID: uuid.New(), MemberID: memberID, AmountCents: 250000, Reference: "gw-1"}
	svc := &stubLedger{result: &ledger.DepositResult{Transaction: txn}}
	body := `{"memberId":"` + memberID.String() + `","amountCents":250000,"reference":"  gw-1 ","description":"card top-up"}`

	rec := httptest.NewRecorder()
	RecordDeposit(svc, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "gw-1", svc.input.Reference)
	assert.Equal(t, int64(250000), svc.input.AmountCents)
	var got depositResponse
	decodeData(t, rec, &got)
	assert.Equal(t, txn.ID, got.TransactionID)
	assert.Equal(t, "NGN 2,500.00", got.Amount)
	assert.False(t, got.Duplicate)
}

func TestRecordDepositDuplicateIsOK(t *testing.T) {
	svc := &stubLedger{result: &ledger.DepositResult{Duplicate: true}}
	body := `{"memberId":"` + uuid.NewString() + `","amountCents":100,"reference":"gw-2"}`

	rec := httptest.NewRecorder()
	RecordDeposit(svc, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordDepositRejectsNonPositive(t *testing.T) {
	body := `{"memberId":"` + uuid.NewString() + `","amountCents":-5,"reference":"gw-3"}`
	rec := httptest.NewRecorder()
	RecordDeposit(&stubLedger{}, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemberReconciliation(t *testing.T) {
	memberID := uuid.New()
	svc := &stubLedger{report: &ledger.Reconciliation{AvailableCents: 100, ExpectedAvailableCents: 100, Balanced: true}}
	req := addRouteParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"memberID": memberID.String()})

	rec := httptest.NewRecorder()
	MemberReconciliation(svc, logger.Nop())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got ledger.Reconciliation
	decodeData(t, rec, &got)
	assert.Equal(t, memberID, got.MemberID)
	assert.True(t, got.Balanced)
}

func TestGenerateSchedule(t *testing.T) {
	subscriptionID := uuid.New()
	settler := &stubSettler{schedule: &contributions.ScheduleResult{DurationWeeks: 4, Created: 4}}
	req := addRouteParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"subscriptionID": subscriptionID.String()})

	rec := httptest.NewRecorder()
	GenerateSchedule(settler, logger.Nop())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got contributions.ScheduleResult
	decodeData(t, rec, &got)
	assert.Equal(t, subscriptionID, got.SubscriptionID)
	assert.Equal(t, int64(4), got.Created)
}
