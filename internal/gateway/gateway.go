package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relay-chat/internal/domain/message"
	"relay-chat/internal/events"
	"relay-chat/internal/queue"
	"relay-chat/internal/redis"
	"relay-chat/internal/repository"
	relay_errors "relay-chat/pkg/errors"
	"relay-chat/pkg/logger"

	"github.com/google/uuid"
)

// submitDedupeWindow is how long a clientTempId suppresses a retransmitted
// submit and returns the original server message id.
const submitDedupeWindow = 2 * time.Minute

// Presence is the shared presence store as the gateway uses it.
type Presence interface {
	AddSocket(ctx context.Context, userID, socketID string) error
	RemoveSocket(ctx context.Context, userID, socketID string) (int64, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	SetTyping(ctx context.Context, targetID, userID string, isTyping bool) error
	GetTypingUsers(ctx context.Context, targetID string) ([]string, error)
	Heartbeat(ctx context.Context, userID string) error
}

// DedupeCache claims one-shot windows for idempotent submits.
type DedupeCache interface {
	ClaimOnce(ctx context.Context, key, value string, window time.Duration) (bool, string, error)
	Release(ctx context.Context, key string) error
}

// Publisher fans events out across gateway processes.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Limiter throttles per-user message submits.
type Limiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// DeliveryTracker is the slice of the delivery service the gateway drives
// from client acknowledgments.
type DeliveryTracker interface {
	MarkDelivered(ctx context.Context, messageID, userID uuid.UUID) error
	MarkRead(ctx context.Context, messageID, userID uuid.UUID) error
}

// SubmitRequest is a client-authored message intent.
type SubmitRequest struct {
	RecipientID  *uuid.UUID `json:"recipient_id,omitempty"`
	GroupID      *uuid.UUID `json:"group_id,omitempty"`
	Content      string     `json:"content"`
	Type         string     `json:"type,omitempty"`
	ClientTempID string     `json:"client_temp_id"`
}

// SubmitAck reconciles the client's optimistic local copy with the
// server-assigned id. Returned before persistence completes.
type SubmitAck struct {
	ClientTempID    string    `json:"client_temp_id"`
	ServerMessageID uuid.UUID `json:"server_message_id"`
}

// PresenceEvent is the presence:update payload sent to a user's contacts.
type PresenceEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// TypingEvent is the typing:status payload.
type TypingEvent struct {
	TargetID uuid.UUID `json:"target_id"`
	Users    []string  `json:"users"`
}

// Gateway accepts client connections, maps identity to live sockets, pushes
// submit intents onto the ingress queue, and emits inbound events to peers.
// It never blocks a connection on persistence: submit enqueues and returns.
type Gateway struct {
	hub           *Hub
	presence      Presence
	queue         queue.Queue
	dedupe        DedupeCache
	limiter       Limiter
	publisher     Publisher
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	delivery      DeliveryTracker
	log           *logger.Logger
}

func NewGateway(
	hub *Hub,
	presence Presence,
	q queue.Queue,
	dedupe DedupeCache,
	limiter Limiter,
	publisher Publisher,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	delivery DeliveryTracker,
	log *logger.Logger,
) *Gateway {
	return &Gateway{
		hub:           hub,
		presence:      presence,
		queue:         q,
		dedupe:        dedupe,
		limiter:       limiter,
		publisher:     publisher,
		conversations: conversations,
		messages:      messages,
		delivery:      delivery,
		log:           log,
	}
}

// SetDeliveryTracker wires the delivery tracker after construction. The
// tracker echoes status changes back through the gateway, so the two
// reference each other.
func (g *Gateway) SetDeliveryTracker(delivery DeliveryTracker) {
	g.delivery = delivery
}

// Register binds a live connection to a user: hub membership, shared
// presence, a presence broadcast to contacts, and replay of undelivered
// messages. Idempotent per socket id. The hub is only touched after the
// identity parses and the presence write succeeds, so a failed register
// leaves no half-bound socket behind.
func (g *Gateway) Register(ctx context.Context, client *Client) error {
	userID, err := uuid.Parse(client.UserID)
	if err != nil {
		return relay_errors.ErrInvalidInput
	}
	if err := g.presence.AddSocket(ctx, client.UserID, client.ID); err != nil {
		return err
	}
	g.hub.Register(client)

	g.broadcastPresence(ctx, userID, true)
	g.replayUndelivered(ctx, client, userID)
	return nil
}

// Unregister drops one connection. The user goes offline only when their
// last socket, on any gateway process, disappears.
func (g *Gateway) Unregister(ctx context.Context, client *Client) {
	g.hub.Unregister(client)

	remaining, err := g.presence.RemoveSocket(ctx, client.UserID, client.ID)
	if err != nil {
		g.log.Errorf("gateway: remove socket %s: %v", client.ID, err)
		return
	}
	if remaining > 0 {
		return
	}

	if userID, err := uuid.Parse(client.UserID); err == nil {
		g.broadcastPresence(ctx, userID, false)
	}
}

// Submit validates a message intent, assigns a server id, enqueues the
// envelope and acknowledges immediately. A retransmission inside the dedupe
// window returns the original server id without enqueuing again. When the
// queue is unreachable the caller gets an explicit try-later error instead
// of a silent drop.
func (g *Gateway) Submit(ctx context.Context, senderID uuid.UUID, req SubmitRequest) (SubmitAck, error) {
	if req.Content == "" {
		return SubmitAck{}, fmt.Errorf("%w: empty content", relay_errors.ErrInvalidInput)
	}
	if (req.RecipientID == nil) == (req.GroupID == nil) {
		return SubmitAck{}, fmt.Errorf("%w: exactly one of recipient_id or group_id required", relay_errors.ErrInvalidInput)
	}
	if req.RecipientID != nil && *req.RecipientID == senderID {
		return SubmitAck{}, fmt.Errorf("%w: cannot message yourself", relay_errors.ErrInvalidInput)
	}

	if g.limiter != nil {
		res, err := g.limiter.AllowMessage(ctx, senderID.String())
		if err == nil && !res.Allowed {
			return SubmitAck{}, relay_errors.ErrRateLimited
		}
	}

	serverID := uuid.New()
	var claimedKey string
	if req.ClientTempID != "" && g.dedupe != nil {
		key := redis.DedupeKey("submit", senderID.String(), req.ClientTempID)
		won, existing, err := g.dedupe.ClaimOnce(ctx, key, serverID.String(), submitDedupeWindow)
		if err != nil {
			return SubmitAck{}, fmt.Errorf("%w: %v", relay_errors.ErrServiceUnavailable, err)
		}
		if !won {
			if id, perr := uuid.Parse(existing); perr == nil {
				return SubmitAck{ClientTempID: req.ClientTempID, ServerMessageID: id}, nil
			}
		}
		claimedKey = key
	}

	msgType := req.Type
	if msgType == "" {
		msgType = message.TypeText
	}

	job := queue.MessageJob{
		MessageID:    serverID,
		SenderID:     senderID,
		RecipientID:  req.RecipientID,
		GroupID:      req.GroupID,
		Content:      req.Content,
		Type:         msgType,
		ClientTempID: req.ClientTempID,
		EnqueuedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		g.releaseClaim(ctx, claimedKey)
		return SubmitAck{}, err
	}
	if err := g.queue.Publish(ctx, queue.ClassMessages, payload); err != nil {
		// The claim must not outlive a failed enqueue: the client is told to
		// retry, and the retry has to publish, not hit the dedupe window and
		// get acked for a message that was never queued.
		g.releaseClaim(ctx, claimedKey)
		return SubmitAck{}, fmt.Errorf("%w: queue unreachable, try later", relay_errors.ErrServiceUnavailable)
	}

	return SubmitAck{ClientTempID: req.ClientTempID, ServerMessageID: serverID}, nil
}

func (g *Gateway) releaseClaim(ctx context.Context, key string) {
	if key == "" || g.dedupe == nil {
		return
	}
	if err := g.dedupe.Release(ctx, key); err != nil {
		g.log.Errorf("gateway: release submit claim %s: %v", key, err)
	}
}

// Push implements services.Pusher: deliver to every live connection of a
// user, local or on another gateway process, via the user channel. Returns
// whether the user had at least one live connection.
func (g *Gateway) Push(ctx context.Context, userID uuid.UUID, event string, payload interface{}) (bool, error) {
	online, err := g.presence.IsOnline(ctx, userID.String())
	if err != nil {
		return false, err
	}
	if !online {
		return false, nil
	}

	raw, err := events.NewFrame(event, payload)
	if err != nil {
		return false, err
	}
	if err := g.publisher.Publish(ctx, events.UserChannel(userID.String()), raw); err != nil {
		return false, err
	}
	return true, nil
}

// TypingStart upserts a typing indicator and fans a lightweight event out to
// the target's participants. Nothing is persisted; staleness is handled by
// the indicator TTL.
func (g *Gateway) TypingStart(ctx context.Context, userID, targetID uuid.UUID) error {
	return g.setTyping(ctx, userID, targetID, true)
}

// TypingStop clears the indicator and refans the remaining set.
func (g *Gateway) TypingStop(ctx context.Context, userID, targetID uuid.UUID) error {
	return g.setTyping(ctx, userID, targetID, false)
}

func (g *Gateway) setTyping(ctx context.Context, userID, targetID uuid.UUID, isTyping bool) error {
	if err := g.presence.SetTyping(ctx, targetID.String(), userID.String(), isTyping); err != nil {
		return err
	}

	users, err := g.presence.GetTypingUsers(ctx, targetID.String())
	if err != nil {
		users = nil
	}
	evt := TypingEvent{TargetID: targetID, Users: users}

	// Direct target: tell the peer. Group target: tell every member but the
	// typer. Best effort either way.
	members, err := g.conversations.GetGroupMemberIDs(ctx, targetID)
	if err != nil || len(members) == 0 {
		_, _ = g.Push(ctx, targetID, events.EventTypingStatus, evt)
		return nil
	}
	for _, member := range members {
		if member == userID {
			continue
		}
		_, _ = g.Push(ctx, member, events.EventTypingStatus, evt)
	}
	return nil
}

// broadcastPresence tells the user's direct-chat contacts about the change.
func (g *Gateway) broadcastPresence(ctx context.Context, userID uuid.UUID, online bool) {
	contacts, err := g.conversations.GetContactIDs(ctx, userID)
	if err != nil {
		g.log.Warnf("gateway: contacts for %s: %v", userID, err)
		return
	}

	evt := PresenceEvent{UserID: userID, IsOnline: online}
	if !online {
		evt.LastSeen = time.Now().UTC()
	}
	for _, contact := range contacts {
		_, _ = g.Push(ctx, contact, events.EventPresenceUpdate, evt)
	}
}

// replayUndelivered re-sends messages still marked `sent` for this user and
// advances them to delivered. Runs once per new connection.
func (g *Gateway) replayUndelivered(ctx context.Context, client *Client, userID uuid.UUID) {
	pending, err := g.messages.GetUndeliveredForUser(ctx, userID, 100)
	if err != nil {
		g.log.Warnf("gateway: replay lookup for %s: %v", userID, err)
		return
	}

	for _, msg := range pending {
		client.SendEvent(events.EventPrivateMessage, msg)
		if err := g.delivery.MarkDelivered(ctx, msg.ID, userID); err != nil {
			g.log.Warnf("gateway: replay mark delivered %s: %v", msg.ID, err)
		}
	}
}
