package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a member's privilege level within a room.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// CanModerate reports whether the role may act on other members' messages.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

// Room represents a conversation. Membership is administered by the external
// chat-administration service; an inactive room is treated as non-existent
// here.
type Room struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name,omitempty"`
	IsGroup       bool      `json:"is_group"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	LastMessageID string    `json:"last_message_id,omitempty"`
}

// Membership ties an identity to a room with a role. Only active memberships
// authorize sending or reading.
type Membership struct {
	RoomID     uuid.UUID `json:"room_id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Role       Role      `json:"role"`
	Active     bool      `json:"active"`
	JoinedAt   time.Time `json:"joined_at"`
}
