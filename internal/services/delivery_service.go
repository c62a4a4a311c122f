package services

import (
	"context"

	"relay-chat/internal/domain/message"
	"relay-chat/internal/events"
	"relay-chat/internal/repository"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

// ReceiptCache is the TTL'd hot cache in front of durable delivery rows.
type ReceiptCache interface {
	GetReceipts(ctx context.Context, messageID string) (map[string]string, error)
	SetReceipts(ctx context.Context, messageID string, statuses map[string]string) error
	InvalidateReceipts(ctx context.Context, messageID string) error
}

// StatusUpdate is the message:status echo pushed to the sender.
type StatusUpdate struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    string    `json:"status"`
}

// DeliveryService records per-recipient sent/delivered/read transitions.
// Transitions are monotonic; the compare-and-set lives in the repository so
// concurrent gateway processes cannot regress a status.
type DeliveryService struct {
	repo        repository.DeliveryRepository
	messageRepo repository.MessageRepository
	cache       ReceiptCache
	pusher      Pusher
	log         *logger.Logger
}

func NewDeliveryService(repo repository.DeliveryRepository, messageRepo repository.MessageRepository, cache ReceiptCache, pusher Pusher, log *logger.Logger) *DeliveryService {
	return &DeliveryService{
		repo:        repo,
		messageRepo: messageRepo,
		cache:       cache,
		pusher:      pusher,
		log:         log,
	}
}

// MarkSent records the initial status row for a recipient. Written by the
// persistence worker at fanout time.
func (s *DeliveryService) MarkSent(ctx context.Context, messageID, userID uuid.UUID) error {
	return s.mark(ctx, messageID, userID, message.StatusSent)
}

// MarkDelivered advances a recipient to delivered. A no-op if the pair is
// already read.
func (s *DeliveryService) MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) error {
	return s.mark(ctx, messageID, userID, message.StatusDelivered)
}

// MarkRead advances a recipient to read, the terminal status.
func (s *DeliveryService) MarkRead(ctx context.Context, messageID, userID uuid.UUID) error {
	return s.mark(ctx, messageID, userID, message.StatusRead)
}

func (s *DeliveryService) mark(ctx context.Context, messageID, userID uuid.UUID, status string) error {
	if err := s.repo.Upsert(ctx, messageID, userID, status); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateReceipts(ctx, messageID.String()); err != nil {
			s.log.Warnf("delivery: cache invalidate %s failed: %v", messageID, err)
		}
	}
	s.echoToSender(ctx, messageID, userID, status)
	return nil
}

// echoToSender pushes the status change to the message sender so read
// receipts render live. Best effort; the durable row is already written.
func (s *DeliveryService) echoToSender(ctx context.Context, messageID, userID uuid.UUID, status string) {
	if s.pusher == nil || s.messageRepo == nil {
		return
	}
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return
	}
	if msg.SenderID == userID {
		return
	}
	if _, err := s.pusher.Push(ctx, msg.SenderID, events.EventMessageStatus, StatusUpdate{
		MessageID: messageID,
		UserID:    userID,
		Status:    status,
	}); err != nil {
		s.log.Warnf("delivery: status echo for %s failed: %v", messageID, err)
	}
}

// StatusOf returns the per-recipient status map for a message, serving from
// the hot cache when fresh.
func (s *DeliveryService) StatusOf(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]string, error) {
	if s.cache != nil {
		cached, err := s.cache.GetReceipts(ctx, messageID.String())
		if err == nil && cached != nil {
			statuses := make(map[uuid.UUID]string, len(cached))
			for k, v := range cached {
				id, err := uuid.Parse(k)
				if err != nil {
					continue
				}
				statuses[id] = v
			}
			return statuses, nil
		}
	}

	statuses, err := s.repo.StatusOf(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		flat := make(map[string]string, len(statuses))
		for k, v := range statuses {
			flat[k.String()] = v
		}
		if err := s.cache.SetReceipts(ctx, messageID.String(), flat); err != nil {
			s.log.Warnf("delivery: cache fill %s failed: %v", messageID, err)
		}
	}
	return statuses, nil
}
