package services

import (
	"context"
	"encoding/json"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
	"relay-chat/internal/repository"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

// DedupWindow is how long an identical (user, type, title) notification
// suppresses repeats, preventing storms from rapid repeated events.
const DedupWindow = 5 * time.Minute

// UnreadCache caches the per-user unread count between recomputes.
type UnreadCache interface {
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	SetUnreadCount(ctx context.Context, userID string, count int64) error
}

// CreateNotificationInput is the fanout request for one recipient.
type CreateNotificationInput struct {
	UserID  uuid.UUID
	Title   string
	Message string
	Type    string
	Data    map[string]string
}

// CountUpdate is the lightweight badge event pushed on every count change.
type CountUpdate struct {
	UserID uuid.UUID `json:"user_id"`
	Unread int64     `json:"unread"`
}

// NotificationService creates notifications for offline recipients and keeps
// live badge counters in sync.
type NotificationService struct {
	repo   repository.NotificationRepository
	cache  UnreadCache
	pusher Pusher
	log    *logger.Logger
}

func NewNotificationService(repo repository.NotificationRepository, cache UnreadCache, pusher Pusher, log *logger.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		cache:  cache,
		pusher: pusher,
		log:    log,
	}
}

// Create stores a notification unless an identical one exists inside the
// dedup window, in which case the call is a no-op and returns nil.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*notification.Notification, error) {
	if input.UserID == uuid.Nil || input.Title == "" || input.Type == "" {
		return nil, relay_errors.ErrInvalidInput
	}

	dup, err := s.repo.HasRecentDuplicate(ctx, input.UserID, input.Type, input.Title, DedupWindow)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	data := "{}"
	if len(input.Data) > 0 {
		if raw, err := json.Marshal(input.Data); err == nil {
			data = string(raw)
		}
	}

	n := &notification.Notification{
		ID:        uuid.New(),
		UserID:    input.UserID,
		Title:     input.Title,
		Message:   input.Message,
		Type:      input.Type,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.pusher != nil {
		if _, err := s.pusher.Push(ctx, n.UserID, events.EventNotificationNew, n); err != nil {
			s.log.Warnf("notification: push new to %s failed: %v", n.UserID, err)
		}
	}
	s.refreshUnread(ctx, n.UserID)
	return n, nil
}

// MarkRead flips a notification read and rebroadcasts the badge count.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		return err
	}
	s.refreshUnread(ctx, userID)
	return nil
}

// Delete removes a notification on explicit user action.
func (s *NotificationService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return err
	}
	s.refreshUnread(ctx, userID)
	return nil
}

// List pages a user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error) {
	return s.repo.ListForUser(ctx, userID, page, limit)
}

// UnreadCount serves the badge count from cache, recomputing on miss.
func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s.cache != nil {
		if n, err := s.cache.GetUnreadCount(ctx, userID.String()); err == nil && n >= 0 {
			return n, nil
		}
	}
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		_ = s.cache.SetUnreadCount(ctx, userID.String(), count)
	}
	return count, nil
}

// refreshUnread recomputes, caches and broadcasts the unread count so badge
// counters stay live without a full reload.
func (s *NotificationService) refreshUnread(ctx context.Context, userID uuid.UUID) {
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		s.log.Warnf("notification: unread recount for %s failed: %v", userID, err)
		return
	}
	if s.cache != nil {
		_ = s.cache.SetUnreadCount(ctx, userID.String(), count)
	}
	if s.pusher != nil {
		_, _ = s.pusher.Push(ctx, userID, events.EventNotificationCount, CountUpdate{UserID: userID, Unread: count})
	}
}
