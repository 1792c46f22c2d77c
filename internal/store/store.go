package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/safenest/safenest/internal/models"
)

// DataStore defines the interface for persistent storage of identities, rooms
// and memberships. Both PostgresStore and SQLiteStore implement this
// interface. Membership rows are written by the external chat-administration
// service; the gateway only reads them, and always re-reads at authorization
// time rather than trusting its connect-time snapshot.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Identity operations
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	UpdatePresence(ctx context.Context, id uuid.UUID, status models.PresenceStatus) error

	// Room and membership operations
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetMembership(ctx context.Context, roomID, identityID uuid.UUID) (*models.Membership, error)
	ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error)
	ListIdentityRooms(ctx context.Context, identityID uuid.UUID) ([]models.Room, error)
	UpdateRoomActivity(ctx context.Context, id uuid.UUID, lastMessageID string) error

	// Incident log (best-effort, admin review)
	RecordIncident(ctx context.Context, inc *models.Incident) error
}
