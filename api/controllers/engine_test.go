package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type stubSweeper struct {
	result *automation.SweepResult
	err    error
	calls  int
}

func (s *stubSweeper) Run(context.Context) (*automation.SweepResult, error) {
	s.calls++
	return s.result, s.err
}

type stubEnforcer struct {
	result   *enforcement.Result
	err      error
	standing *enforcement.MemberStanding
	checked  uuid.UUID
}

func (s *stubEnforcer) Enforce(context.Context) (*enforcement.Result, error) {
	return s.result, s.err
}

func (s *stubEnforcer) CheckUserEnforcement(_ context.Context, memberID uuid.UUID) (*enforcement.MemberStanding, error) {
	s.checked = memberID
	if s.standing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
	}
	return s.standing, nil
}

type stubRetrier struct {
	limit  int
	result *referrals.RetryResult
	err    error
}

func (s *stubRetrier) RetryStalled(_ context.Context, limit int) (*referrals.RetryResult, error) {
	s.limit = limit
	return s.result, s.err
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestTriggerSweepReturnsSummary(t *testing.T) {
	sweeper := &stubSweeper{result: &automation.SweepResult{Processed: 3, Succeeded: 2, Deferred: 1}}
	rec := httptest.NewRecorder()
	TriggerSweep(sweeper, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got automation.SweepResult
	decodeData(t, rec, &got)
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, 1, got.Deferred)
	assert.Equal(t, 1, sweeper.calls)
}

func TestTriggerSweepPropagatesError(t *testing.T) {
	sweeper := &stubSweeper{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	rec := httptest.NewRecorder()
	TriggerSweep(sweeper, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTriggerEnforcementReturnsPartialResult(t *testing.T) {
	defaulted := uuid.New()
	enforcer := &stubEnforcer{
		result: &enforcement.Result{SubscriptionsEvaluated: 4, NewlyDefaulted: 1, DefaultedIDs: []uuid.UUID{defaulted}, Failed: 1},
		err:    errors.New("one subscription failed"),
	}
	rec := httptest.NewRecorder()
	TriggerEnforcement(enforcer, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got enforcement.Result
	decodeData(t, rec, &got)
	assert.Equal(t, []uuid.UUID{defaulted}, got.DefaultedIDs)
	assert.Equal(t, 1, got.Failed)
}

func TestMemberEnforcement(t *testing.T) {
	memberID := uuid.New()
	enforcer := &stubEnforcer{standing: &enforcement.MemberStanding{
		MemberID:    memberID,
		MissedWeeks: 1,
		Threshold:   2,
		Status:      enums.EnforcementStatusAtRisk,
	}}

	req := addRouteParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"memberID": memberID.String()})
	rec := httptest.NewRecorder()
	MemberEnforcement(enforcer, logger.Nop())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, memberID, enforcer.checked)
	var got enforcement.MemberStanding
	decodeData(t, rec, &got)
	assert.Equal(t, enums.EnforcementStatusAtRisk, got.Status)
}

func TestMemberEnforcementRejectsBadID(t *testing.T) {
	req := addRouteParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"memberID": "nope"})
	rec := httptest.NewRecorder()
	MemberEnforcement(&stubEnforcer{}, logger.Nop())(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryReferralsLimit(t *testing.T) {
	retrier := &stubRetrier{result: &referrals.RetryResult{Scanned: 2, Paid: 2}}
	rec := httptest.NewRecorder()
	RetryReferrals(retrier, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/?limit=50", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, retrier.limit)

	rec = httptest.NewRecorder()
	RetryReferrals(retrier, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRetryBatch, retrier.limit)

	rec = httptest.NewRecorder()
	RetryReferrals(retrier, logger.Nop())(rec, httptest.NewRequest(http.MethodPost, "/?limit=5000", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
