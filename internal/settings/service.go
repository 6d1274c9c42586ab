// Package settings reads per-user preference rows consumed by the delivery path.
package settings

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/pulse/internal/db"
)

// Service reads user settings from PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a settings service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "settings")),
	}
}

// MessagingPolicy returns the user's messaging-policy setting, defaulting to
// everyone when no row exists.
func (s *Service) MessagingPolicy(ctx context.Context, userID string) (string, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return "", err
	}
	var policy string
	err = s.pool.QueryRow(ctx,
		`SELECT messaging_policy FROM user_settings WHERE user_id = $1`, pgID,
	).Scan(&policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultPolicy, nil
		}
		return "", err
	}
	switch policy {
	case PolicyEveryone, PolicyFriends, PolicyNobody:
		return policy, nil
	default:
		return DefaultPolicy, nil
	}
}

// SetMessagingPolicy upserts the user's messaging-policy setting.
func (s *Service) SetMessagingPolicy(ctx context.Context, userID, policy string) error {
	switch policy {
	case PolicyEveryone, PolicyFriends, PolicyNobody:
	default:
		return errors.New("invalid messaging policy: " + policy)
	}
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_settings (user_id, messaging_policy, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET messaging_policy = EXCLUDED.messaging_policy, updated_at = now()`,
		pgID, policy)
	return err
}
