package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

type mockNotificationRepo struct {
	created      []notification.Notification
	hasDuplicate bool
	unread       int64
}

func (m *mockNotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	m.created = append(m.created, *n)
	m.unread++
	return nil
}

func (m *mockNotificationRepo) HasRecentDuplicate(context.Context, uuid.UUID, string, string, time.Duration) (bool, error) {
	return m.hasDuplicate, nil
}

func (m *mockNotificationRepo) UnreadCount(context.Context, uuid.UUID) (int64, error) {
	return m.unread, nil
}

func (m *mockNotificationRepo) MarkRead(context.Context, uuid.UUID, uuid.UUID) error {
	if m.unread > 0 {
		m.unread--
	}
	return nil
}

func (m *mockNotificationRepo) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (m *mockNotificationRepo) ListForUser(context.Context, uuid.UUID, int, int) ([]notification.Notification, int64, error) {
	return m.created, int64(len(m.created)), nil
}

type mockUnreadCache struct {
	counts map[string]int64
}

func newMockUnreadCache() *mockUnreadCache {
	return &mockUnreadCache{counts: make(map[string]int64)}
}

func (m *mockUnreadCache) GetUnreadCount(_ context.Context, userID string) (int64, error) {
	if n, ok := m.counts[userID]; ok {
		return n, nil
	}
	return -1, nil
}

func (m *mockUnreadCache) SetUnreadCount(_ context.Context, userID string, count int64) error {
	m.counts[userID] = count
	return nil
}

func newNotificationFixture() (*NotificationService, *mockNotificationRepo, *mockUnreadCache, *mockPusher) {
	repo := &mockNotificationRepo{}
	cache := newMockUnreadCache()
	pusher := &mockPusher{delivered: true}
	svc := NewNotificationService(repo, cache, pusher, logger.New("development"))
	return svc, repo, cache, pusher
}

func TestCreateStoresAndPushes(t *testing.T) {
	svc, repo, cache, pusher := newNotificationFixture()
	userID := uuid.New()

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		UserID:  userID,
		Title:   "New message from a friend",
		Message: "hey",
		Type:    notification.TypeMessage,
		Data:    map[string]string{"message_id": uuid.New().String()},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n == nil {
		t.Fatal("expected a stored notification")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(repo.created))
	}

	var sawNew, sawCount bool
	for _, push := range pusher.pushes {
		switch push.event {
		case events.EventNotificationNew:
			sawNew = true
		case events.EventNotificationCount:
			sawCount = true
		}
	}
	if !sawNew || !sawCount {
		t.Fatalf("expected new + count pushes, got %+v", pusher.pushes)
	}
	if got := cache.counts[userID.String()]; got != 1 {
		t.Fatalf("expected cached unread count 1, got %d", got)
	}
}

func TestCreateSuppressesDuplicateInWindow(t *testing.T) {
	svc, repo, _, pusher := newNotificationFixture()
	repo.hasDuplicate = true

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		UserID: uuid.New(),
		Title:  "New message from a friend",
		Type:   notification.TypeMessage,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n != nil {
		t.Fatalf("expected a no-op for an in-window duplicate, got %+v", n)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no stored row, got %d", len(repo.created))
	}
	if len(pusher.pushes) != 0 {
		t.Fatalf("expected no pushes, got %d", len(pusher.pushes))
	}
}

func TestCreateRejectsIncompleteInput(t *testing.T) {
	svc, _, _, _ := newNotificationFixture()

	cases := []struct {
		name  string
		input CreateNotificationInput
	}{
		{"missing user", CreateNotificationInput{Title: "t", Type: notification.TypeMessage}},
		{"missing title", CreateNotificationInput{UserID: uuid.New(), Type: notification.TypeMessage}},
		{"missing type", CreateNotificationInput{UserID: uuid.New(), Title: "t"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.input); !errors.Is(err, relay_errors.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestMarkReadRebroadcastsCount(t *testing.T) {
	svc, repo, cache, pusher := newNotificationFixture()
	userID := uuid.New()
	repo.unread = 3

	if err := svc.MarkRead(context.Background(), uuid.New(), userID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := cache.counts[userID.String()]; got != 2 {
		t.Fatalf("expected cached unread count 2, got %d", got)
	}
	last := pusher.pushes[len(pusher.pushes)-1]
	if last.event != events.EventNotificationCount {
		t.Fatalf("expected a count push, got %s", last.event)
	}
	if update, ok := last.payload.(CountUpdate); !ok || update.Unread != 2 {
		t.Fatalf("unexpected count payload %+v", last.payload)
	}
}

func TestUnreadCountFillsCacheOnMiss(t *testing.T) {
	svc, repo, cache, _ := newNotificationFixture()
	userID := uuid.New()
	repo.unread = 7

	count, err := svc.UnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7, got %d", count)
	}
	if got := cache.counts[userID.String()]; got != 7 {
		t.Fatalf("expected cache fill 7, got %d", got)
	}

	// A cached value short-circuits the repo.
	repo.unread = 99
	count, err = svc.UnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("UnreadCount cached: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected cached 7, got %d", count)
	}
}
