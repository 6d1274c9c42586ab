// Package identity resolves handshake credentials to durable user identities.
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrIdentityNotFound is returned when a validly signed token references an
// account that no longer exists in the durable store.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is a durable user account plus the display attributes carried in
// realtime event payloads.
type Identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarKey   string    `json:"-"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store reads identities from the durable user table.
type Store interface {
	// Identity returns the live account for id, or ErrIdentityNotFound.
	Identity(ctx context.Context, id string) (Identity, error)
}
