package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"relay-chat/internal/domain/notification"
	"relay-chat/internal/queue"
	"relay-chat/internal/services"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

// NotificationCreator is the slice of the notification service the consumer
// drives.
type NotificationCreator interface {
	Create(ctx context.Context, input services.CreateNotificationInput) (*notification.Notification, error)
}

// NotificationConsumer drains the notifications stream into stored
// notifications, one per qualifying offline recipient.
type NotificationConsumer struct {
	service NotificationCreator
	log     *logger.Logger
}

func NewNotificationConsumer(service NotificationCreator, log *logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{service: service, log: log}
}

// Handle processes one notification job. Malformed payloads dead-letter;
// storage faults retry.
func (c *NotificationConsumer) Handle(ctx context.Context, payload []byte) error {
	var job queue.NotificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("%w: malformed notification job: %v", queue.ErrDeadLetter, err)
	}
	if job.UserID == uuid.Nil || job.Type == "" || job.Title == "" {
		return fmt.Errorf("%w: incomplete notification job", queue.ErrDeadLetter)
	}

	created, err := c.service.Create(ctx, services.CreateNotificationInput{
		UserID:  job.UserID,
		Title:   job.Title,
		Message: job.Message,
		Type:    job.Type,
		Data:    job.Data,
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if created == nil {
		c.log.Infof("worker: notification for %s deduped", job.UserID)
	}
	return nil
}
