package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/safenest/safenest/internal/models"
)

// SQLiteStore handles SQLite database operations. It exists for local
// development; production runs on PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/safenest.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/safenest.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'offline',
		active BOOLEAN NOT NULL DEFAULT 1,
		guardian_email TEXT DEFAULT '',
		requires_guardian_alert BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT DEFAULT '',
		is_group BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_message_id TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL,
		identity_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		active BOOLEAN NOT NULL DEFAULT 1,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, identity_id)
	);

	CREATE TABLE IF NOT EXISTS safety_incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		content_kind TEXT NOT NULL,
		preview TEXT NOT NULL DEFAULT '',
		guardian_notified BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_members_identity ON room_members(identity_id);
	CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms(last_active_at);
	CREATE INDEX IF NOT EXISTS idx_incidents_identity ON safety_incidents(identity_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetIdentity retrieves an identity by ID.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident := &models.Identity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, status, active, guardian_email,
		       requires_guardian_alert, created_at, updated_at
		FROM identities WHERE id = ?
	`, id.String()).Scan(
		&ident.ID,
		&ident.DisplayName,
		&ident.Status,
		&ident.Active,
		&ident.GuardianEmail,
		&ident.RequiresGuardianAlert,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ident, nil
}

// UpdatePresence persists an identity's presence status.
func (s *SQLiteStore) UpdatePresence(ctx context.Context, id uuid.UUID, status models.PresenceStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id.String())
	return err
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, active, created_at, last_active_at, last_message_id
		FROM rooms WHERE id = ?
	`, id.String()).Scan(
		&room.ID,
		&room.Name,
		&room.IsGroup,
		&room.Active,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.LastMessageID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetMembership retrieves one identity's membership in a room.
func (s *SQLiteStore) GetMembership(ctx context.Context, roomID, identityID uuid.UUID) (*models.Membership, error) {
	m := &models.Membership{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, identity_id, role, active, joined_at
		FROM room_members WHERE room_id = ? AND identity_id = ?
	`, roomID.String(), identityID.String()).Scan(
		&m.RoomID,
		&m.IdentityID,
		&m.Role,
		&m.Active,
		&m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListRoomMembers returns the active memberships of a room.
func (s *SQLiteStore) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, identity_id, role, active, joined_at
		FROM room_members WHERE room_id = ? AND active = 1
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.RoomID, &m.IdentityID, &m.Role, &m.Active, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListIdentityRooms returns the active rooms in which the identity holds an
// active membership.
func (s *SQLiteStore) ListIdentityRooms(ctx context.Context, identityID uuid.UUID) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.is_group, r.active, r.created_at, r.last_active_at, r.last_message_id
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.identity_id = ? AND m.active = 1 AND r.active = 1
	`, identityID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &r.Active, &r.CreatedAt, &r.LastActiveAt, &r.LastMessageID); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// UpdateRoomActivity bumps a room's last-activity pointer after a message.
func (s *SQLiteStore) UpdateRoomActivity(ctx context.Context, id uuid.UUID, lastMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET last_active_at = CURRENT_TIMESTAMP, last_message_id = ? WHERE id = ?
	`, lastMessageID, id.String())
	return err
}

// RecordIncident appends a safety incident for admin review.
func (s *SQLiteStore) RecordIncident(ctx context.Context, inc *models.Incident) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO safety_incidents (identity_id, room_id, content_kind, preview, guardian_notified)
		VALUES (?, ?, ?, ?, ?)
	`, inc.IdentityID.String(), inc.RoomID.String(), inc.ContentKind, inc.Preview, inc.GuardianNotified)
	if err != nil {
		return err
	}
	inc.ID, _ = res.LastInsertId()
	return nil
}
