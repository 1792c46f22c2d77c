package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetIdentity retrieves an identity by ID. Returns nil without error when no
// row exists.
func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	defer observePG(time.Now())

	ident := &models.Identity{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, status, active, COALESCE(guardian_email, ''),
		       requires_guardian_alert, created_at, updated_at
		FROM identities WHERE id = $1
	`, id).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ident, nil
}

// UpdatePresence persists an identity's presence status.
func (s *PostgresStore) UpdatePresence(ctx context.Context, id uuid.UUID, status models.PresenceStatus) error {
	defer observePG(time.Now())

	_, err := s.pool.Exec(ctx, `
		UPDATE identities SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// GetRoom retrieves a room by ID. Returns nil without error when no row
// exists.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	defer observePG(time.Now())

	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(name, ''), is_group, active, created_at,
		       last_active_at, COALESCE(last_message_id, '')
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsGroup,
		&room.Active,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.LastMessageID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetMembership retrieves one identity's membership in a room. Returns nil
// without error when the identity has never been a member.
func (s *PostgresStore) GetMembership(ctx context.Context, roomID, identityID uuid.UUID) (*models.Membership, error) {
	defer observePG(time.Now())

	m := &models.Membership{}
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, identity_id, role, active, joined_at
		FROM room_members WHERE room_id = $1 AND identity_id = $2
	`, roomID, identityID).Scan(
		&m.RoomID,
		&m.IdentityID,
		&m.Role,
		&m.Active,
		&m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListRoomMembers returns the active memberships of a room.
func (s *PostgresStore) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	defer observePG(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT room_id, identity_id, role, active, joined_at
		FROM room_members WHERE room_id = $1 AND active = true
	`, roomID)
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
// active membership, used as the connect-time snapshot.
func (s *PostgresStore) ListIdentityRooms(ctx context.Context, identityID uuid.UUID) ([]models.Room, error) {
	defer observePG(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, COALESCE(r.name, ''), r.is_group, r.active, r.created_at,
		       r.last_active_at, COALESCE(r.last_message_id, '')
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.identity_id = $1 AND m.active = true AND r.active = true
	`, identityID)
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
func (s *PostgresStore) UpdateRoomActivity(ctx context.Context, id uuid.UUID, lastMessageID string) error {
	defer observePG(time.Now())

	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_active_at = now(), last_message_id = $2 WHERE id = $1
	`, id, lastMessageID)
	return err
}

// RecordIncident appends a safety incident for admin review.
func (s *PostgresStore) RecordIncident(ctx context.Context, inc *models.Incident) error {
	defer observePG(time.Now())

	return s.pool.QueryRow(ctx, `
		INSERT INTO safety_incidents (identity_id, room_id, content_kind, preview, guardian_notified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, inc.IdentityID, inc.RoomID, inc.ContentKind, inc.Preview, inc.GuardianNotified).Scan(&inc.ID, &inc.CreatedAt)
}

func observePG(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}
