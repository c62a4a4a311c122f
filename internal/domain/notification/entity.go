package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	TypeMessage = "message"
	TypeSystem  = "system"
)

// Notification represents the notifications table
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Message   string    `gorm:"type:text"`
	Type      string    `gorm:"type:varchar(30);not null"`
	Data      string    `gorm:"type:jsonb;default:'{}'"`
	IsRead    bool      `gorm:"default:false"`
	CreatedAt time.Time
}

func (Notification) TableName() string {
	return "notifications"
}
