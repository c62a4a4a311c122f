package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeSystem = "system"
)

// Message represents the messages table. The ID is assigned by the gateway
// at submit time, before the row exists, so a redelivered queue envelope maps
// onto the same primary key.
type Message struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID     `gorm:"type:uuid;not null;index"`
	SenderID       uuid.UUID     `gorm:"type:uuid;not null"`
	RecipientID    uuid.NullUUID `gorm:"type:uuid"`
	GroupID        uuid.NullUUID `gorm:"type:uuid"`
	ClientTempID   sql.NullString
	Type           string `gorm:"type:varchar(20);not null;default:'text'"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	EditedAt       sql.NullTime
	DeletedAt      sql.NullTime
}

// Delivery status values, ordered. Transitions only move forward.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// StatusRank maps a delivery status to its position in the sent ->
// delivered -> read progression. Unknown statuses rank below sent.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// DeliveryStatus represents the delivery_statuses table, one row per
// (message, recipient) pair.
type DeliveryStatus struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status    string    `gorm:"type:varchar(20);not null;default:'sent'"`
	UpdatedAt time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (DeliveryStatus) TableName() string {
	return "delivery_statuses"
}
