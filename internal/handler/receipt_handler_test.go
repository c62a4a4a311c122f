package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay-chat/internal/domain/conversation"
	"relay-chat/internal/domain/message"
	"relay-chat/internal/middleware"
	"relay-chat/internal/redis"
	"relay-chat/internal/services"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubMessages struct {
	msg message.Message
}

func (s *stubMessages) CreateIfAbsent(context.Context, *message.Message) (bool, error) {
	return false, nil
}

func (s *stubMessages) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	if id != s.msg.ID {
		return message.Message{}, relay_errors.ErrNotFound
	}
	return s.msg, nil
}

func (s *stubMessages) UpdateContent(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (s *stubMessages) SoftDelete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (s *stubMessages) GetUndeliveredForUser(context.Context, uuid.UUID, int) ([]message.Message, error) {
	return nil, nil
}

type stubConversations struct {
	members map[uuid.UUID]bool
}

func (s *stubConversations) FindDirect(context.Context, uuid.UUID, uuid.UUID) (conversation.Conversation, error) {
	return conversation.Conversation{}, relay_errors.ErrNotFound
}

func (s *stubConversations) FindGroup(context.Context, uuid.UUID) (conversation.Conversation, error) {
	return conversation.Conversation{}, relay_errors.ErrNotFound
}

func (s *stubConversations) Create(context.Context, *conversation.Conversation) error { return nil }

func (s *stubConversations) GetGroupMemberIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubConversations) GetContactIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubConversations) IsParticipant(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return s.members[userID], nil
}

type stubDeliveries struct {
	statuses map[uuid.UUID]string
}

func (s *stubDeliveries) Upsert(context.Context, uuid.UUID, uuid.UUID, string) error { return nil }

func (s *stubDeliveries) StatusOf(context.Context, uuid.UUID) (map[uuid.UUID]string, error) {
	return s.statuses, nil
}

func (s *stubDeliveries) Get(context.Context, uuid.UUID, uuid.UUID) (message.DeliveryStatus, error) {
	return message.DeliveryStatus{}, relay_errors.ErrNotFound
}

func receiptRequest(t *testing.T, h *ReceiptHandler, caller uuid.UUID, messageID string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/messages/"+messageID+"/receipts", nil)
	c.Params = gin.Params{{Key: "id", Value: messageID}}
	c.Set(middleware.UserIDKey, caller.String())
	h.StatusOf(c)
	return w
}

func newReceiptFixture(recipient uuid.UUID) (*ReceiptHandler, message.Message) {
	msg := message.Message{ID: uuid.New(), ConversationID: uuid.New(), SenderID: uuid.New()}
	deliveries := &stubDeliveries{statuses: map[uuid.UUID]string{recipient: message.StatusRead}}
	messages := &stubMessages{msg: msg}
	convs := &stubConversations{members: map[uuid.UUID]bool{msg.SenderID: true, recipient: true}}
	service := services.NewDeliveryService(deliveries, messages, nil, nil, logger.New("development"))
	return NewReceiptHandler(service, messages, convs), msg
}

func TestReceiptsVisibleToParticipant(t *testing.T) {
	recipient := uuid.New()
	h, msg := newReceiptFixture(recipient)

	w := receiptRequest(t, h, recipient, msg.ID.String())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Data[recipient.String()] != message.StatusRead {
		t.Fatalf("expected read status for recipient, got %v", resp.Data)
	}
}

func TestReceiptsForbiddenForNonParticipant(t *testing.T) {
	h, msg := newReceiptFixture(uuid.New())

	w := receiptRequest(t, h, uuid.New(), msg.ID.String())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-participant, got %d", w.Code)
	}
}

type stubPresenceReader struct {
	rec *redis.PresenceRecord
}

func (s *stubPresenceReader) GetPresence(context.Context, string) (*redis.PresenceRecord, error) {
	return s.rec, nil
}

func TestPresenceReturnsRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	lastSeen := time.Now().UTC().Truncate(time.Second)
	h := NewPresenceHandler(&stubPresenceReader{rec: &redis.PresenceRecord{
		UserID:   userID.String(),
		IsOnline: false,
		LastSeen: lastSeen,
	}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/presence/"+userID.String(), nil)
	c.Params = gin.Params{{Key: "id", Value: userID.String()}}
	h.Get(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data redis.PresenceRecord `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Data.IsOnline {
		t.Fatal("expected the user to be reported offline")
	}
	if !resp.Data.LastSeen.Equal(lastSeen) {
		t.Fatalf("expected last seen %v, got %v", lastSeen, resp.Data.LastSeen)
	}
}
