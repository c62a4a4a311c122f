package queue

import (
	"time"

	"github.com/google/uuid"
)

// MessageJob is the envelope published on the messages stream by the gateway
// and consumed by the persistence worker. Exactly one of RecipientID/GroupID
// is set.
type MessageJob struct {
	MessageID    uuid.UUID  `json:"message_id"`
	SenderID     uuid.UUID  `json:"sender_id"`
	RecipientID  *uuid.UUID `json:"recipient_id,omitempty"`
	GroupID      *uuid.UUID `json:"group_id,omitempty"`
	Content      string     `json:"content"`
	Type         string     `json:"type"`
	ClientTempID string     `json:"client_temp_id,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
}

// NotificationJob is the envelope for the notifications stream.
type NotificationJob struct {
	Type     string            `json:"type"`
	UserID   uuid.UUID         `json:"user_id"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Data     map[string]string `json:"data,omitempty"`
	Priority int               `json:"priority"`
}

// EmailJob is the envelope for the email stream. The pipeline only enqueues;
// the downstream sender is an external collaborator.
type EmailJob struct {
	Type         string            `json:"type"`
	To           string            `json:"to"`
	Subject      string            `json:"subject"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}
