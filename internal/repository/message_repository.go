package repository

import (
	"context"
	"errors"
	"time"

	"relay-chat/internal/domain/message"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

// CreateIfAbsent inserts the message unless its id already exists. Redelivered
// queue envelopes hit the conflict path and leave the original row untouched.
func (r *PostgresMessageRepository) CreateIfAbsent(ctx context.Context, m *message.Message) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, relay_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

// UpdateContent edits a message. Only the sender may edit, enforced in the
// predicate so a forged edit is indistinguishable from a missing row.
func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id, senderID uuid.UUID, content string) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND sender_id = ? AND deleted_at IS NULL", id, senderID).
		Updates(map[string]interface{}{
			"content":   content,
			"edited_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return relay_errors.ErrNotFound
	}
	return nil
}

// SoftDelete marks a message deleted without removing the row; delivery
// status and reply records keep referencing it.
func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id, senderID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND sender_id = ? AND deleted_at IS NULL", id, senderID).
		Update("deleted_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return relay_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetUndeliveredForUser(ctx context.Context, userID uuid.UUID, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var messages []message.Message
	err := r.db.WithContext(ctx).
		Joins("JOIN delivery_statuses ds ON ds.message_id = messages.id").
		Where("ds.user_id = ? AND ds.status = ? AND messages.deleted_at IS NULL", userID, message.StatusSent).
		Order("messages.created_at ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
