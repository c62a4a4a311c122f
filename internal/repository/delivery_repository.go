package repository

import (
	"context"
	"errors"

	"relay-chat/internal/domain/message"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresDeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

// Upsert applies a monotonic transition. The guard lives in the ON CONFLICT
// predicate, so concurrent markDelivered/markRead calls for the same pair
// resolve in the database: the higher-ranked status always sticks.
func (r *PostgresDeliveryRepository) Upsert(ctx context.Context, messageID, userID uuid.UUID, status string) error {
	if message.StatusRank(status) < 0 {
		return relay_errors.ErrInvalidTransition
	}
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO delivery_statuses (message_id, user_id, status, updated_at)
		VALUES (?, ?, ?, now())
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE (CASE delivery_statuses.status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'read' THEN 2 ELSE -1 END)
		    < (CASE EXCLUDED.status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 WHEN 'read' THEN 2 ELSE -1 END)`,
		messageID, userID, status).Error
}

func (r *PostgresDeliveryRepository) StatusOf(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error) {
	var rows []message.DeliveryStatus
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	statuses := make(map[uuid.UUID]string, len(rows))
	for _, row := range rows {
		statuses[row.UserID] = row.Status
	}
	return statuses, nil
}

func (r *PostgresDeliveryRepository) Get(ctx context.Context, messageID, userID uuid.UUID) (message.DeliveryStatus, error) {
	var ds message.DeliveryStatus
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		First(&ds).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.DeliveryStatus{}, relay_errors.ErrNotFound
		}
		return message.DeliveryStatus{}, err
	}
	return ds, nil
}
