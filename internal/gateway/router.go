package gateway

import (
	"context"
	"encoding/json"

	"relay-chat/internal/events"

	"github.com/google/uuid"
)

type markReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type typingPayload struct {
	TargetID uuid.UUID `json:"target_id"`
}

type editPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

type deletePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// HandleFrame routes one inbound client event. Errors surface to the client
// as error frames; the connection stays up.
func (g *Gateway) HandleFrame(ctx context.Context, client *Client, frame events.Frame) {
	userID, err := uuid.Parse(client.UserID)
	if err != nil {
		client.SendEvent(events.EventError, map[string]string{"error": "invalid identity"})
		return
	}

	_ = g.presence.Heartbeat(ctx, client.UserID)

	switch frame.Event {
	case events.ClientEventSendMessage:
		var req SubmitRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			client.SendEvent(events.EventError, map[string]string{"error": "malformed payload"})
			return
		}
		ack, err := g.Submit(ctx, userID, req)
		if err != nil {
			client.SendEvent(events.EventError, map[string]string{
				"error":          err.Error(),
				"client_temp_id": req.ClientTempID,
			})
			return
		}
		client.SendEvent(events.EventSubmitAck, ack)

	case events.ClientEventStartTyping, events.ClientEventStopTyping:
		var p typingPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.TargetID == uuid.Nil {
			return
		}
		if frame.Event == events.ClientEventStartTyping {
			_ = g.TypingStart(ctx, userID, p.TargetID)
		} else {
			_ = g.TypingStop(ctx, userID, p.TargetID)
		}

	case events.ClientEventMarkRead:
		var p markReadPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			return
		}
		if err := g.delivery.MarkRead(ctx, p.MessageID, userID); err != nil {
			g.log.Warnf("gateway: mark read %s by %s: %v", p.MessageID, userID, err)
		}

	case events.ClientEventDeliveredAck:
		var p markReadPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			return
		}
		if err := g.delivery.MarkDelivered(ctx, p.MessageID, userID); err != nil {
			g.log.Warnf("gateway: mark delivered %s by %s: %v", p.MessageID, userID, err)
		}

	case events.ClientEventEditMessage:
		var p editPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.MessageID == uuid.Nil || p.Content == "" {
			client.SendEvent(events.EventError, map[string]string{"error": "malformed payload"})
			return
		}
		g.editMessage(ctx, client, userID, p)

	case events.ClientEventDeleteMessage:
		var p deletePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.MessageID == uuid.Nil {
			return
		}
		g.deleteMessage(ctx, client, userID, p.MessageID)

	default:
		client.SendEvent(events.EventError, map[string]string{"error": "unknown event: " + frame.Event})
	}
}

// editMessage updates content (sender only) and echoes the edit to the other
// participants.
func (g *Gateway) editMessage(ctx context.Context, client *Client, userID uuid.UUID, p editPayload) {
	if err := g.messages.UpdateContent(ctx, p.MessageID, userID, p.Content); err != nil {
		client.SendEvent(events.EventError, map[string]string{"error": err.Error()})
		return
	}
	g.fanoutToParticipants(ctx, userID, p.MessageID, events.EventMessageEdited, map[string]interface{}{
		"message_id": p.MessageID,
		"content":    p.Content,
	})
}

// deleteMessage soft-deletes (sender only) and echoes the tombstone.
func (g *Gateway) deleteMessage(ctx context.Context, client *Client, userID, messageID uuid.UUID) {
	if err := g.messages.SoftDelete(ctx, messageID, userID); err != nil {
		client.SendEvent(events.EventError, map[string]string{"error": err.Error()})
		return
	}
	g.fanoutToParticipants(ctx, userID, messageID, events.EventMessageDeleted, map[string]interface{}{
		"message_id": messageID,
	})
}

func (g *Gateway) fanoutToParticipants(ctx context.Context, senderID, messageID uuid.UUID, event string, payload interface{}) {
	msg, err := g.messages.GetByID(ctx, messageID)
	if err != nil {
		return
	}

	if msg.RecipientID.Valid {
		_, _ = g.Push(ctx, msg.RecipientID.UUID, event, payload)
		return
	}
	if !msg.GroupID.Valid {
		return
	}
	members, err := g.conversations.GetGroupMemberIDs(ctx, msg.GroupID.UUID)
	if err != nil {
		return
	}
	for _, member := range members {
		if member == senderID {
			continue
		}
		_, _ = g.Push(ctx, member, event, payload)
	}
}
