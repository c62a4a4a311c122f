package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relay-chat/internal/domain/conversation"
	"relay-chat/internal/domain/message"
	"relay-chat/internal/domain/notification"
)

type MessageRepository interface {
	// CreateIfAbsent inserts the message unless a row with the same id
	// already exists. Returns true when this call inserted the row.
	CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	UpdateContent(ctx context.Context, id, senderID uuid.UUID, content string) error
	SoftDelete(ctx context.Context, id, senderID uuid.UUID) error
	// GetUndeliveredForUser returns messages whose delivery status for the
	// user is still `sent`, oldest first, for replay on reconnect.
	GetUndeliveredForUser(ctx context.Context, userID uuid.UUID, limit int) ([]message.Message, error)
}

type ConversationRepository interface {
	FindDirect(ctx context.Context, a, b uuid.UUID) (conversation.Conversation, error)
	FindGroup(ctx context.Context, groupID uuid.UUID) (conversation.Conversation, error)
	// Create inserts a conversation; translates a unique-pair collision into
	// relay_errors.ErrAlreadyExists so the resolver can re-read the winner.
	Create(ctx context.Context, c *conversation.Conversation) error
	GetGroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// GetContactIDs returns the distinct direct-chat peers of a user, used
	// for presence-change broadcast.
	GetContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

type DeliveryRepository interface {
	// Upsert applies a monotonic status transition for (messageID, userID).
	// A lower-ranked status never overwrites a higher-ranked one.
	Upsert(ctx context.Context, messageID, userID uuid.UUID, status string) error
	StatusOf(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error)
	Get(ctx context.Context, messageID, userID uuid.UUID) (message.DeliveryStatus, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	// HasRecentDuplicate reports whether an identical (user, type, title)
	// notification was created within the window.
	HasRecentDuplicate(ctx context.Context, userID uuid.UUID, nType, title string, window time.Duration) (bool, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]notification.Notification, int64, error)
}
