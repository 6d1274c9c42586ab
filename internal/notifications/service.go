// Package notifications deduplicates derived events (likes, comments,
// friend actions) and emits them to the recipient's personal channel.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseapp/pulse/internal/ws/event"
)

// Service emits deduplicated notifications.
type Service struct {
	store  Store
	pusher Pusher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a notification service.
func NewService(log *slog.Logger, store Store, pusher Pusher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		pusher: pusher,
		logger: log.With(slog.String("service", "notifications")),
		now:    time.Now,
	}
}

// Window returns the suppression window for a notification type.
func Window(typ string) time.Duration {
	switch typ {
	case TypeLike:
		return LikeWindow
	case TypeComment:
		return CommentWindow
	default:
		return DefaultWindow
	}
}

// Notify records and delivers a derived event unless it is a
// self-notification or a near-duplicate inside the type's suppression
// window. It returns the created record and whether one was created.
func (s *Service) Notify(ctx context.Context, in NotifyInput) (Record, bool, error) {
	if in.RecipientID == "" || in.Type == "" || in.SourceID == "" {
		return Record{}, false, fmt.Errorf("recipient, type, and source are required")
	}
	if in.ActorID == in.RecipientID {
		// Never notify users about their own actions.
		return Record{}, false, nil
	}

	since := s.now().Add(-Window(in.Type))
	exists, err := s.store.RecentExists(ctx, in.RecipientID, in.Type, in.SourceID, since)
	if err != nil {
		return Record{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		s.logger.Debug("notification suppressed",
			slog.String("recipient", in.RecipientID),
			slog.String("type", in.Type),
			slog.String("source", in.SourceID),
		)
		return Record{}, false, nil
	}

	rec, err := s.store.Insert(ctx, Record{
		RecipientID: in.RecipientID,
		ActorID:     in.ActorID,
		Type:        in.Type,
		SourceID:    in.SourceID,
		Content:     in.Content,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("insert notification: %w", err)
	}

	s.pusher.Push(in.RecipientID, event.ServerEvent{Type: event.Notification, Payload: rec})
	return rec, true, nil
}

// Retract removes the notification record for a deleted source action (an
// unlike, a deleted comment) so a later repeat is not suppressed by a stale
// record. Only the actor who performed the source action can retract it.
func (s *Service) Retract(ctx context.Context, actorID, recipientID, typ, sourceID string) error {
	if actorID == "" {
		return fmt.Errorf("actor is required")
	}
	if err := s.store.Delete(ctx, actorID, recipientID, typ, sourceID); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}
