package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cooperative-backend/pkg/db/models"
	"github.com/angelmondragon/cooperative-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
	"github.com/angelmondragon/cooperative-backend/pkg/pagination"
	"github.com/angelmondragon/cooperative-backend/pkg/types"
)

// Message is one in-app notification for a member.
type Message struct {
	MemberID uuid.UUID
	Type     enums.NotificationType
	Title    string
	Body     string
}

// Sink records notifications. NotifyTx joins the caller's transaction so the
// notification commits with the state change that produced it.
type Sink interface {
	Notify(ctx context.Context, msg Message)
	NotifyTx(ctx context.Context, tx *gorm.DB, msg Message) error
}

// Service defines notification write, list and read operations.
type Service interface {
	Sink
	Send(ctx context.Context, msg Message) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	UnreadCount(ctx context.Context, memberID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, memberID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, memberID uuid.UUID) (int64, error)
	PurgeRead(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	MemberID   uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult is one page of notifications.
type ListResult = types.Page[models.Notification]

// NewService wires notifications dependencies.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

// Notify is fire-and-forget: failures are logged, never returned.
func (s *service) Notify(ctx context.Context, msg Message) {
	if err := s.Send(ctx, msg); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"member_id":         msg.MemberID.String(),
			"notification_type": msg.Type,
		})
		s.logg.Error(logCtx, "notification dropped", err)
	}
}

func (s *service) Send(ctx context.Context, msg Message) error {
	return s.create(ctx, s.repo, msg)
}

func (s *service) NotifyTx(ctx context.Context, tx *gorm.DB, msg Message) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	return s.create(ctx, s.repo.WithTx(tx), msg)
}

func (s *service) create(ctx context.Context, repo Repository, msg Message) error {
	if msg.MemberID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	if !msg.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}
	row := &models.Notification{
		MemberID: msg.MemberID,
		Type:     msg.Type,
		Title:    strings.TrimSpace(msg.Title),
		Message:  strings.TrimSpace(msg.Body),
	}
	if err := repo.Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.MemberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}

	query := listNotificationsParams{
		MemberID:   params.MemberID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.Decode(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = next.Encode()
	}
	return &ListResult{Items: rows, NextCursor: cursor}, nil
}

func (s *service) UnreadCount(ctx context.Context, memberID uuid.UUID) (int64, error) {
	if memberID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	n, err := s.repo.CountUnread(ctx, memberID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}
	return n, nil
}

func (s *service) MarkRead(ctx context.Context, memberID, notificationID uuid.UUID) error {
	if memberID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, memberID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, memberID uuid.UUID) (int64, error) {
	if memberID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	count, err := s.repo.MarkAllRead(ctx, memberID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.DeleteReadBefore(ctx, cutoff.UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge read notifications")
	}
	return count, nil
}
