package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	TypeDirect = "DIRECT"
	TypeGroup  = "GROUP"
)

// Conversation represents the conversations table. Direct conversations store
// the participant pair in canonical order (ParticipantA < ParticipantB as
// uuid strings) so the unique index makes find-or-create race safe. Group
// conversations carry only the group id, guarded the same way.
type Conversation struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey"`
	Type         string        `gorm:"type:varchar(10);not null"`
	ParticipantA uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_direct_pair"`
	ParticipantB uuid.NullUUID `gorm:"type:uuid;uniqueIndex:idx_direct_pair"`
	GroupID      uuid.NullUUID `gorm:"type:uuid;uniqueIndex"`
	CreatedAt    time.Time
}

// CanonicalPair orders two participant ids so that (A,B) and (B,A) produce
// the same stored pair.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// GroupMember represents the group_members table. Membership itself is
// managed by the group CRUD surface; the pipeline only reads it for fanout.
type GroupMember struct {
	GroupID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	JoinedAt time.Time
}

func (Conversation) TableName() string {
	return "conversations"
}

func (GroupMember) TableName() string {
	return "group_members"
}
