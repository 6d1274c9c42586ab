package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/pulse/internal/db"
)

// PgStore implements Store over PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL-backed notification store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// RecentExists reports whether a record for the tuple exists at or after since.
func (s *PgStore) RecentExists(ctx context.Context, recipientID, typ, sourceID string, since time.Time) (bool, error) {
	pgID, err := db.ParseUUID(recipientID)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM notifications
		    WHERE recipient_id = $1 AND type = $2 AND source_id = $3 AND created_at >= $4
		 )`, pgID, typ, sourceID, db.TimeToPg(since),
	).Scan(&exists)
	return exists, err
}

// Insert persists one notification record.
func (s *PgStore) Insert(ctx context.Context, rec Record) (Record, error) {
	pgID, err := db.ParseUUID(rec.RecipientID)
	if err != nil {
		return Record{}, err
	}
	pgActorID, err := db.ParseUUID(rec.ActorID)
	if err != nil {
		return Record{}, err
	}
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return Record{}, err
	}
	// The service stamps CreatedAt from its own clock; persist that same
	// instant so the suppression window and the stored row agree.
	err = s.pool.QueryRow(ctx,
		`INSERT INTO notifications (recipient_id, actor_id, type, source_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		pgID, pgActorID, rec.Type, rec.SourceID, content, db.TimeToPg(rec.CreatedAt),
	).Scan(&rec.ID)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the actor's records for the tuple.
func (s *PgStore) Delete(ctx context.Context, actorID, recipientID, typ, sourceID string) error {
	pgID, err := db.ParseUUID(recipientID)
	if err != nil {
		return err
	}
	pgActorID, err := db.ParseUUID(actorID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM notifications
		 WHERE recipient_id = $1 AND actor_id = $2 AND type = $3 AND source_id = $4`,
		pgID, pgActorID, typ, sourceID)
	return err
}
