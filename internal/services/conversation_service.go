package services

import (
	"context"
	"errors"
	"time"

	"relay-chat/internal/domain/conversation"
	"relay-chat/internal/repository"
	relay_errors "relay-chat/pkg/errors"

	"github.com/google/uuid"
)

// ConversationService finds or creates the canonical conversation for a
// sender/recipient (or group) pair. Resolution is idempotent and race safe:
// the unordered pair is stored in canonical order under a unique index, so
// two first-contact sends racing each other yield exactly one conversation.
type ConversationService struct {
	repo repository.ConversationRepository
}

func NewConversationService(repo repository.ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo}
}

// ResolveDirect returns the conversation id for the unordered pair (a, b),
// creating it on first contact. Lost creation races fall back to re-reading
// the winner's row.
func (s *ConversationService) ResolveDirect(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	if a == uuid.Nil || b == uuid.Nil || a == b {
		return uuid.Nil, relay_errors.ErrInvalidInput
	}

	existing, err := s.repo.FindDirect(ctx, a, b)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, relay_errors.ErrNotFound) {
		return uuid.Nil, err
	}

	pa, pb := conversation.CanonicalPair(a, b)
	c := &conversation.Conversation{
		ID:           uuid.New(),
		Type:         conversation.TypeDirect,
		ParticipantA: uuid.NullUUID{UUID: pa, Valid: true},
		ParticipantB: uuid.NullUUID{UUID: pb, Valid: true},
		CreatedAt:    time.Now(),
	}
	err = s.repo.Create(ctx, c)
	if err == nil {
		return c.ID, nil
	}
	if errors.Is(err, relay_errors.ErrAlreadyExists) {
		winner, err := s.repo.FindDirect(ctx, a, b)
		if err != nil {
			return uuid.Nil, err
		}
		return winner.ID, nil
	}
	return uuid.Nil, err
}

// ResolveGroup returns the conversation id for a group, creating the mapping
// row on first message with the same insert-if-absent guard.
func (s *ConversationService) ResolveGroup(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error) {
	if groupID == uuid.Nil {
		return uuid.Nil, relay_errors.ErrInvalidInput
	}

	existing, err := s.repo.FindGroup(ctx, groupID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, relay_errors.ErrNotFound) {
		return uuid.Nil, err
	}

	c := &conversation.Conversation{
		ID:        uuid.New(),
		Type:      conversation.TypeGroup,
		GroupID:   uuid.NullUUID{UUID: groupID, Valid: true},
		CreatedAt: time.Now(),
	}
	err = s.repo.Create(ctx, c)
	if err == nil {
		return c.ID, nil
	}
	if errors.Is(err, relay_errors.ErrAlreadyExists) {
		winner, err := s.repo.FindGroup(ctx, groupID)
		if err != nil {
			return uuid.Nil, err
		}
		return winner.ID, nil
	}
	return uuid.Nil, err
}
