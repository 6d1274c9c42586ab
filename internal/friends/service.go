// Package friends reads friendship records consumed by policy checks and
// presence fan-out.
package friends

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/pulse/internal/db"
)

// Service reads accepted friendships from PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a friends service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "friends")),
	}
}

// AreFriends reports whether a and b share an accepted friendship, in either
// direction.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	pgA, err := db.ParseUUID(a)
	if err != nil {
		return false, err
	}
	pgB, err := db.ParseUUID(b)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM friendships
		    WHERE status = 'accepted'
		      AND ((requester_id = $1 AND addressee_id = $2)
		        OR (requester_id = $2 AND addressee_id = $1))
		 )`, pgA, pgB,
	).Scan(&exists)
	return exists, err
}

// FriendIDs returns the ids of every user sharing an accepted friendship
// with userID. Used to scope presence fan-out.
func (s *Service) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		 FROM friendships
		 WHERE status = 'accepted' AND (requester_id = $1 OR addressee_id = $1)`, pgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
