package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cooperative-backend/internal/automation"
	"github.com/angelmondragon/cooperative-backend/internal/contributions"
	"github.com/angelmondragon/cooperative-backend/internal/enforcement"
	"github.com/angelmondragon/cooperative-backend/internal/ledger"
	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/internal/referrals"
	"github.com/angelmondragon/cooperative-backend/pkg/config"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

const testToken = "operator-secret"

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubSweeper struct{ calls int }

func (s *stubSweeper) Run(context.Context) (*automation.SweepResult, error) {
	s.calls++
	return &automation.SweepResult{}, nil
}

type stubEnforcer struct{}

func (stubEnforcer) Enforce(context.Context) (*enforcement.Result, error) {
	return &enforcement.Result{}, nil
}

func (stubEnforcer) CheckUserEnforcement(_ context.Context, memberID uuid.UUID) (*enforcement.MemberStanding, error) {
	return &enforcement.MemberStanding{MemberID: memberID, Status: enums.EnforcementStatusGoodStanding}, nil
}

type stubSettler struct{}

func (stubSettler) Settle(_ context.Context, memberID uuid.UUID, mode enums.SettlementMode) (*contributions.Result, error) {
	return &contributions.Result{MemberID: memberID, Mode: mode}, nil
}

func (stubSettler) GenerateSchedule(_ context.Context, subscriptionID uuid.UUID) (*contributions.ScheduleResult, error) {
	return &contributions.ScheduleResult{SubscriptionID: subscriptionID}, nil
}

type stubLedger struct{}

func (stubLedger) Deposit(context.Context, ledger.DepositInput) (*ledger.DepositResult, error) {
	return &ledger.DepositResult{}, nil
}

func (stubLedger) Reconcile(_ context.Context, memberID uuid.UUID) (*ledger.Reconciliation, error) {
	return &ledger.Reconciliation{MemberID: memberID, Balanced: true}, nil
}

type stubReferrals struct{}

func (stubReferrals) RetryStalled(context.Context, int) (*referrals.RetryResult, error) {
	return &referrals.RetryResult{}, nil
}

type stubNotifications struct{}

func (stubNotifications) List(context.Context, notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{}, nil
}

func (stubNotifications) MarkRead(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (stubNotifications) UnreadCount(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (stubNotifications) MarkAllRead(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Env: "test"},
		Admin: config.AdminConfig{APIToken: testToken},
	}
}

func newTestRouter(cfg *config.Config, dbP stubPinger, sweeper *stubSweeper, reg *prometheus.Registry) http.Handler {
	if sweeper == nil {
		sweeper = &stubSweeper{}
	}
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	return NewRouter(
		cfg,
		logger.Nop(),
		dbP,
		nil,
		gatherer,
		sweeper,
		stubEnforcer{},
		stubSettler{},
		stubLedger{},
		stubReferrals{},
		stubNotifications{},
	)
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{}, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestHealthReadyReportsDatabaseFailure(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{err: errors.New("connection refused")}, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}

	router = newTestRouter(testConfig(), stubPinger{}, nil, nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "coop_router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := newTestRouter(testConfig(), stubPinger{}, nil, reg)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "coop_router_test_total 1") {
		t.Fatalf("metric missing from exposition: %s", resp.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	sweeper := &stubSweeper{}
	router := newTestRouter(testConfig(), stubPinger{}, sweeper, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/admin/v1/sweeps", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
	if sweeper.calls != 0 {
		t.Fatal("sweep must not run without credentials")
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, adminRequest(http.MethodPost, "/api/admin/v1/sweeps", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", resp.Code)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep got %d", sweeper.calls)
	}
}

func TestAdminRoutesDisabledWithoutConfiguredToken(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.APIToken = ""
	router := newTestRouter(cfg, stubPinger{}, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, adminRequest(http.MethodPost, "/api/admin/v1/enforcement", ""))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAdminRoutesResolve(t *testing.T) {
	router := newTestRouter(testConfig(), stubPinger{}, nil, nil)
	memberID := uuid.NewString()
	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodPost, "/api/admin/v1/enforcement", "", http.StatusOK},
		{http.MethodPost, "/api/admin/v1/referrals/retry", "", http.StatusOK},
		{http.MethodPost, "/api/admin/v1/contributions/settle", `{"memberId":"` + memberID + `","mode":"manual"}`, http.StatusCreated},
		{http.MethodPost, "/api/admin/v1/ledger/deposits", `{"memberId":"` + memberID + `","amountCents":500,"reference":"gw-9"}`, http.StatusCreated},
		{http.MethodPost, "/api/admin/v1/subscriptions/" + uuid.NewString() + "/schedule", "", http.StatusOK},
		{http.MethodGet, "/api/admin/v1/members/" + memberID + "/enforcement", "", http.StatusOK},
		{http.MethodGet, "/api/admin/v1/members/" + memberID + "/reconciliation", "", http.StatusOK},
		{http.MethodGet, "/api/admin/v1/members/" + memberID + "/notifications", "", http.StatusOK},
		{http.MethodGet, "/api/admin/v1/members/" + memberID + "/notifications/unread-count", "", http.StatusOK},
		{http.MethodPost, "/api/admin/v1/members/" + memberID + "/notifications/read-all", "", http.StatusOK},
		{http.MethodPost, "/api/admin/v1/members/" + memberID + "/notifications/" + uuid.NewString() + "/read", "", http.StatusOK},
	}

	for _, tt := range tests {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, adminRequest(tt.method, tt.path, tt.body))
		if resp.Code != tt.status {
			t.Fatalf("%s %s: expected %d got %d (%s)", tt.method, tt.path, tt.status, resp.Code, resp.Body.String())
		}
	}
}
