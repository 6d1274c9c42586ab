package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/storage"
)

// Service verifies handshake credentials and resolves display attributes.
type Service struct {
	store     Store
	objects   storage.Provider
	jwtSecret string
	signTTL   time.Duration
	logger    *slog.Logger
}

// NewService creates an identity service. The storage provider is used to
// sign avatar URLs for event payloads and may be nil.
func NewService(log *slog.Logger, store Store, objects storage.Provider, jwtSecret string, signTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:     store,
		objects:   objects,
		jwtSecret: jwtSecret,
		signTTL:   signTTL,
		logger:    log.With(slog.String("service", "identity")),
	}
}

// Verify validates the raw handshake credential and confirms the subject
// still exists. Returns auth.ErrAuthenticationFailed for a bad credential
// and ErrIdentityNotFound for a valid credential whose account is gone.
func (s *Service) Verify(ctx context.Context, token string) (Identity, error) {
	subject, err := auth.VerifyToken(token, s.jwtSecret)
	if err != nil {
		return Identity{}, err
	}
	ident, err := s.store.Identity(ctx, subject)
	if err != nil {
		return Identity{}, err
	}
	return s.withAvatarURL(ctx, ident), nil
}

// Resolve returns the identity for id with a signed avatar URL.
func (s *Service) Resolve(ctx context.Context, id string) (Identity, error) {
	ident, err := s.store.Identity(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	return s.withAvatarURL(ctx, ident), nil
}

func (s *Service) withAvatarURL(ctx context.Context, ident Identity) Identity {
	if s.objects == nil || ident.AvatarKey == "" {
		return ident
	}
	url, err := s.objects.SignedURL(ctx, ident.AvatarKey, s.signTTL)
	if err != nil {
		// Avatar signing is cosmetic; the payload stays usable without it.
		s.logger.Warn("sign avatar url failed", slog.String("user_id", ident.ID), slog.Any("error", err))
		return ident
	}
	ident.AvatarURL = url
	return ident
}
