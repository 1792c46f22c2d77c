package models

import (
	"time"

	"github.com/google/uuid"
)

// Incident is a record of blocked content kept for admin review. Writes are
// best-effort; losing one must never affect the sender path.
type Incident struct {
	ID               int64       `json:"id"`
	IdentityID       uuid.UUID   `json:"identity_id"`
	RoomID           uuid.UUID   `json:"room_id"`
	ContentKind      ContentKind `json:"content_kind"`
	Preview          string      `json:"preview"` // redacted, never the full content
	GuardianNotified bool        `json:"guardian_notified"`
	CreatedAt        time.Time   `json:"created_at"`
}
