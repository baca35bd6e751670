package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/cooperative-backend/internal/notifications"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/pagination"
)

type testNotificationsService struct {
	markReadFn    func(ctx context.Context, memberID, notificationID uuid.UUID) error
	markAllReadFn func(ctx context.Context, memberID uuid.UUID) (int64, error)
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	unread        int64
}

func (s *testNotificationsService) UnreadCount(ctx context.Context, memberID uuid.UUID) (int64, error) {
	return s.unread, nil
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &notifications.ListResult{}, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, memberID, notificationID uuid.UUID) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, memberID, notificationID)
	}
	return nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, memberID uuid.UUID) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, memberID)
	}
	return 0, nil
}

func TestListNotificationsParsesQuery(t *testing.T) {
	memberID := uuid.New()
	var got notifications.ListParams
	svc := &testNotificationsService{
		listFn: func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			got = params
			return &notifications.ListResult{NextCursor: "next"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/members/"+memberID.String()+"/notifications?limit=10&unreadOnly=true&cursor=abc", nil)
	req = addRouteParams(req, map[string]string{"memberID": memberID.String()})
	resp := httptest.NewRecorder()
	ListNotifications(svc, logger.Nop())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got.MemberID != memberID || got.Limit != 10 || !got.UnreadOnly || got.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", got)
	}
}

func TestListNotificationsDefaultsLimit(t *testing.T) {
	memberID := uuid.New()
	var got notifications.ListParams
	svc := &testNotificationsService{
		listFn: func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			got = params
			return &notifications.ListResult{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/members/"+memberID.String()+"/notifications", nil)
	req = addRouteParams(req, map[string]string{"memberID": memberID.String()})
	ListNotifications(svc, logger.Nop())(httptest.NewRecorder(), req)

	if got.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit got %d", got.Limit)
	}
}

func TestListNotificationsRejectsBadLimit(t *testing.T) {
	memberID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/members/"+memberID.String()+"/notifications?limit=0", nil)
	req = addRouteParams(req, map[string]string{"memberID": memberID.String()})
	resp := httptest.NewRecorder()
	ListNotifications(&testNotificationsService{}, logger.Nop())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	memberID := uuid.New()
	notificationID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markReadFn: func(ctx context.Context, mid, nid uuid.UUID) error {
			called = true
			if mid != memberID {
				t.Fatalf("unexpected member %s", mid)
			}
			if nid != notificationID {
				t.Fatalf("unexpected notification %s", nid)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = addRouteParams(req, map[string]string{
		"memberID":       memberID.String(),
		"notificationID": notificationID.String(),
	})
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, logger.Nop())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
	var envelope struct {
		Data map[string]bool `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !envelope.Data["read"] {
		t.Fatal("response missing read flag")
	}
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = addRouteParams(req, map[string]string{
		"memberID":       uuid.NewString(),
		"notificationID": "invalid",
	})
	resp := httptest.NewRecorder()
	MarkNotificationRead(&testNotificationsService{}, logger.Nop())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkAllNotificationsReadSuccess(t *testing.T) {
	memberID := uuid.New()
	svc := &testNotificationsService{
		markAllReadFn: func(ctx context.Context, mid uuid.UUID) (int64, error) {
			if mid != memberID {
				t.Fatalf("unexpected member %s", mid)
			}
			return 5, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = addRouteParams(req, map[string]string{"memberID": memberID.String()})
	resp := httptest.NewRecorder()
	MarkAllNotificationsRead(svc, logger.Nop())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["updated"] != 5 {
		t.Fatalf("expected updated=5 got %v", envelope.Data["updated"])
	}
}

func addRouteParams(req *http.Request, params map[string]string) *http.Request {
	routeCtx := chi.NewRouteContext()
	for key, value := range params {
		routeCtx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestUnreadNotificationCount(t *testing.T) {
	memberID := uuid.New()
	svc := &testNotificationsService{unread: 4}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/members/"+memberID.String()+"/notifications/unread-count", nil)
	req = addRouteParams(req, map[string]string{"memberID": memberID.String()})
	resp := httptest.NewRecorder()
	UnreadNotificationCount(svc, logger.Nop())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var body struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["unread"] != 4 {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
