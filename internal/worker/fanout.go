package worker

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"relay-chat/internal/domain/message"
	"relay-chat/internal/domain/notification"
	"relay-chat/internal/events"
	"relay-chat/internal/queue"

	"github.com/google/uuid"
)

const notificationPreviewLen = 120

// fanout dispatches the persisted message to each recipient independently.
// One recipient's failure never aborts the others and never fails the job:
// the message row is already durable, so per-recipient problems are logged
// and recovered by replay or the notification path.
func (w *PersistenceWorker) fanout(ctx context.Context, msg message.Message, recipients []uuid.UUID) {
	for _, recipient := range recipients {
		w.fanoutRecipient(ctx, msg, recipient)
	}
}

func (w *PersistenceWorker) fanoutRecipient(ctx context.Context, msg message.Message, recipient uuid.UUID) {
	if err := w.delivery.MarkSent(ctx, msg.ID, recipient); err != nil {
		w.log.Errorf("worker: mark sent %s/%s: %v", msg.ID, recipient, err)
	}

	delivered, err := w.pusher.Push(ctx, recipient, events.EventPrivateMessage, msg)
	if err != nil {
		w.log.Warnf("worker: live delivery %s to %s: %v", msg.ID, recipient, err)
	}
	if delivered {
		return
	}

	if err := w.enqueueNotification(ctx, msg, recipient); err != nil {
		w.log.Errorf("worker: notification enqueue %s for %s: %v", msg.ID, recipient, err)
	}
}

// enqueueNotification queues a notification (and an email digest job) for an
// offline recipient.
func (w *PersistenceWorker) enqueueNotification(ctx context.Context, msg message.Message, recipient uuid.UUID) error {
	preview := msg.Content
	if len(preview) > notificationPreviewLen {
		// Back off to a rune boundary so the cut never splits a multibyte
		// character.
		cut := notificationPreviewLen
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}

	job := queue.NotificationJob{
		Type:    notification.TypeMessage,
		UserID:  recipient,
		Title:   "New message from " + msg.SenderID.String(),
		Message: preview,
		Data: map[string]string{
			"message_id":      msg.ID.String(),
			"conversation_id": msg.ConversationID.String(),
			"sender_id":       msg.SenderID.String(),
		},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := w.queue.Publish(ctx, queue.ClassNotifications, payload); err != nil {
		return err
	}

	email := queue.EmailJob{
		Type:    "offline_message",
		To:      recipient.String(),
		Subject: "You have a new message",
		TemplateData: map[string]string{
			"sender_id": msg.SenderID.String(),
			"preview":   preview,
		},
	}
	emailPayload, err := json.Marshal(email)
	if err != nil {
		return err
	}
	return w.queue.Publish(ctx, queue.ClassEmail, emailPayload)
}
