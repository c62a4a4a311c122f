package repository

import (
	"context"
	"errors"

	"relay-chat/internal/domain/conversation"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) FindDirect(ctx context.Context, a, b uuid.UUID) (conversation.Conversation, error) {
	pa, pb := conversation.CanonicalPair(a, b)
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Where("type = ? AND participant_a = ? AND participant_b = ?", conversation.TypeDirect, pa, pb).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, relay_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

func (r *PostgresConversationRepository) FindGroup(ctx context.Context, groupID uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Where("type = ? AND group_id = ?", conversation.TypeGroup, groupID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, relay_errors.ErrNotFound
		}
		return conversation.Conversation{}, err
	}
	return c, nil
}

// Create inserts a conversation. Two senders racing to create the same
// direct pair both reach this insert; the unique index on the canonical pair
// lets exactly one win and the loser gets ErrAlreadyExists to re-read.
func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	res := r.db.WithContext(ctx).Create(c)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return relay_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresConversationRepository) GetGroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&conversation.GroupMember{}).
		Where("group_id = ?", groupID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresConversationRepository) GetContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var rows []conversation.Conversation
	err := r.db.WithContext(ctx).
		Where("type = ? AND (participant_a = ? OR participant_b = ?)", conversation.TypeDirect, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	contacts := make([]uuid.UUID, 0, len(rows))
	for _, c := range rows {
		if c.ParticipantA.Valid && c.ParticipantA.UUID != userID {
			contacts = append(contacts, c.ParticipantA.UUID)
		}
		if c.ParticipantB.Valid && c.ParticipantB.UUID != userID {
			contacts = append(contacts, c.ParticipantB.UUID)
		}
	}
	return contacts, nil
}

func (r *PostgresConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", conversationID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if c.Type == conversation.TypeDirect {
		return (c.ParticipantA.Valid && c.ParticipantA.UUID == userID) ||
			(c.ParticipantB.Valid && c.ParticipantB.UUID == userID), nil
	}

	var count int64
	err = r.db.WithContext(ctx).
		Model(&conversation.GroupMember{}).
		Where("group_id = ? AND user_id = ?", c.GroupID.UUID, userID).
		Count(&count).Error
	return count > 0, err
}
