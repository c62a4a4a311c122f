package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"relay-chat/internal/domain/message"
	"relay-chat/internal/queue"
	"relay-chat/internal/repository"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

// Resolver finds or creates the canonical conversation for an envelope.
type Resolver interface {
	ResolveDirect(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error)
	ResolveGroup(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error)
}

// DeliverySink records the initial `sent` status per recipient.
type DeliverySink interface {
	MarkSent(ctx context.Context, messageID, userID uuid.UUID) error
}

// Pusher delivers a live payload and reports whether anyone received it.
type Pusher interface {
	Push(ctx context.Context, userID uuid.UUID, event string, payload interface{}) (bool, error)
}

// PersistenceWorker consumes message envelopes from the ingress queue and
// walks each job through: resolve conversation, persist message, fan out to
// recipients, acknowledge. Handlers are idempotent under redelivery: the
// message insert dedupes on the server-assigned id, delivery rows upsert
// monotonically, and notification creation dedupes in its own window.
type PersistenceWorker struct {
	resolver      Resolver
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	delivery      DeliverySink
	pusher        Pusher
	queue         queue.Queue
	log           *logger.Logger
}

func NewPersistenceWorker(
	resolver Resolver,
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	delivery DeliverySink,
	pusher Pusher,
	q queue.Queue,
	log *logger.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		resolver:      resolver,
		messages:      messages,
		conversations: conversations,
		delivery:      delivery,
		pusher:        pusher,
		queue:         q,
		log:           log,
	}
}

// Handle processes one dequeued envelope. A nil return acknowledges the job;
// queue.ErrDeadLetter skips retries; any other error leaves the job pending
// for backoff redelivery.
func (w *PersistenceWorker) Handle(ctx context.Context, payload []byte) error {
	var job queue.MessageJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("%w: malformed envelope: %v", queue.ErrDeadLetter, err)
	}
	if err := validateJob(job); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrDeadLetter, err)
	}

	conversationID, err := w.resolveConversation(ctx, job)
	if err != nil {
		// Transient storage fault: retried with backoff, dead-lettered after
		// the attempt budget. The envelope is never silently lost.
		return fmt.Errorf("resolve conversation: %w", err)
	}

	msg := buildMessage(job, conversationID)
	inserted, err := w.messages.CreateIfAbsent(ctx, &msg)
	if err != nil {
		return fmt.Errorf("persist message %s: %w", job.MessageID, err)
	}
	if !inserted {
		w.log.Infof("worker: message %s already persisted, re-running fanout", job.MessageID)
	}

	recipients, err := w.recipients(ctx, job)
	if err != nil {
		// The message row is durable. Failing the job now would reprocess a
		// persisted message forever, so log and acknowledge; replay on the
		// recipients' next connect covers them.
		w.log.Errorf("worker: recipient lookup for %s: %v", job.MessageID, err)
		return nil
	}

	w.fanout(ctx, msg, recipients)
	return nil
}

func (w *PersistenceWorker) resolveConversation(ctx context.Context, job queue.MessageJob) (uuid.UUID, error) {
	if job.RecipientID != nil {
		return w.resolver.ResolveDirect(ctx, job.SenderID, *job.RecipientID)
	}
	return w.resolver.ResolveGroup(ctx, *job.GroupID)
}

func (w *PersistenceWorker) recipients(ctx context.Context, job queue.MessageJob) ([]uuid.UUID, error) {
	if job.RecipientID != nil {
		return []uuid.UUID{*job.RecipientID}, nil
	}
	members, err := w.conversations.GetGroupMemberIDs(ctx, *job.GroupID)
	if err != nil {
		return nil, err
	}
	recipients := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		if member != job.SenderID {
			recipients = append(recipients, member)
		}
	}
	return recipients, nil
}

func validateJob(job queue.MessageJob) error {
	if job.MessageID == uuid.Nil {
		return fmt.Errorf("missing message id")
	}
	if job.SenderID == uuid.Nil {
		return fmt.Errorf("missing sender id")
	}
	if job.Content == "" {
		return fmt.Errorf("empty content")
	}
	if (job.RecipientID == nil) == (job.GroupID == nil) {
		return fmt.Errorf("exactly one of recipient id or group id required")
	}
	return nil
}

func buildMessage(job queue.MessageJob, conversationID uuid.UUID) message.Message {
	msg := message.Message{
		ID:             job.MessageID,
		ConversationID: conversationID,
		SenderID:       job.SenderID,
		Type:           job.Type,
		Content:        job.Content,
		CreatedAt:      job.EnqueuedAt,
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if job.RecipientID != nil {
		msg.RecipientID = uuid.NullUUID{UUID: *job.RecipientID, Valid: true}
	}
	if job.GroupID != nil {
		msg.GroupID = uuid.NullUUID{UUID: *job.GroupID, Valid: true}
	}
	if job.ClientTempID != "" {
		msg.ClientTempID = sql.NullString{String: job.ClientTempID, Valid: true}
	}
	return msg
}
