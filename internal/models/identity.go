package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is an identity's self-reported availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known presence statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Identity represents an authenticated chat principal. Accounts are created
// and deactivated by the external account service; this subsystem only reads
// them and updates presence.
type Identity struct {
	ID            uuid.UUID      `json:"id"`
	DisplayName   string         `json:"display_name"`
	Status        PresenceStatus `json:"status"`
	Active        bool           `json:"active"`
	GuardianEmail string         `json:"guardian_email,omitempty"`
	// RequiresGuardianAlert is derived at account creation from the holder's
	// age and the presence of a guardian contact.
	RequiresGuardianAlert bool      `json:"requires_guardian_alert"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
