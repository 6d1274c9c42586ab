package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/pulse/internal/db"
)

// PgStore reads identities from the users table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL-backed identity store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Identity returns the live (non-deleted) account for id.
func (s *PgStore) Identity(ctx context.Context, id string) (Identity, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Identity{}, ErrIdentityNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, display_name, avatar_key, created_at
		 FROM users
		 WHERE id = $1 AND deleted_at IS NULL`, pgID)

	var (
		uid       pgtype.UUID
		name      string
		avatarKey pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&uid, &name, &avatarKey, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, err
	}
	return Identity{
		ID:          uid.String(),
		DisplayName: name,
		AvatarKey:   db.TextToString(avatarKey),
		CreatedAt:   db.TimeFromPg(createdAt),
	}, nil
}
