package notifications

import (
	"context"
	"time"
)

// Notification type names.
const (
	TypeLike          = "like"
	TypeComment       = "comment"
	TypeFriendRequest = "friend:request"
	TypeFriendAccept  = "friend:accept"
)

// Suppression windows: a repeat of the same (recipient, type, source) inside
// the window is dropped instead of re-notified.
const (
	LikeWindow    = 24 * time.Hour
	CommentWindow = 5 * time.Minute
	DefaultWindow = 24 * time.Hour
)

// Record is a persisted notification used both for delivery payloads and the
// dedup window check.
type Record struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipientId"`
	ActorID     string         `json:"actorId"`
	Type        string         `json:"type"`
	SourceID    string         `json:"sourceId"`
	Content     map[string]any `json:"content,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// NotifyInput describes a derived event (like, comment, friend action).
type NotifyInput struct {
	RecipientID string
	ActorID     string
	Type        string
	SourceID    string
	Content     map[string]any
}

// Store persists notification records.
type Store interface {
	// RecentExists reports whether a record for the tuple exists at or
	// after since.
	RecentExists(ctx context.Context, recipientID, typ, sourceID string, since time.Time) (bool, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	// Delete removes the actor's records for the tuple.
	Delete(ctx context.Context, actorID, recipientID, typ, sourceID string) error
}

// Pusher delivers an event to an identity's personal channel. The fan-out
// component implements it; this package never reaches back into routing.
type Pusher interface {
	Push(identityID string, event any)
}
