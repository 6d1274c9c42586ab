package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/storage"
)

type fakeStore struct {
	identities map[string]Identity
}

func (f *fakeStore) Identity(ctx context.Context, id string) (Identity, error) {
	ident, ok := f.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

const testSecret = "test-secret"

func newTestService(store Store, objects storage.Provider) *Service {
	return NewService(nil, store, objects, testSecret, time.Minute)
}

func TestVerifyHappyPath(t *testing.T) {
	store := &fakeStore{identities: map[string]Identity{
		"user-1": {ID: "user-1", DisplayName: "Ada"},
	}}
	svc := newTestService(store, nil)

	token, _, err := auth.GenerateToken("user-1", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ident, err := svc.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ident.ID != "user-1" || ident.DisplayName != "Ada" {
		t.Errorf("unexpected identity %+v", ident)
	}
}

func TestVerifyBadCredential(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	if _, err := svc.Verify(context.Background(), "garbage"); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Errorf("err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestVerifyDeletedAccount(t *testing.T) {
	// Validly signed token for an account the store no longer has.
	svc := newTestService(&fakeStore{identities: map[string]Identity{}}, nil)

	token, _, err := auth.GenerateToken("gone-user", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(context.Background(), token); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("err = %v, want ErrIdentityNotFound", err)
	}
}

func TestResolveSignsAvatar(t *testing.T) {
	objects := storage.NewMemory()
	if err := objects.Put(context.Background(), "avatars/u1.png", strings.NewReader("png"), 3, "image/png"); err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{identities: map[string]Identity{
		"user-1": {ID: "user-1", DisplayName: "Ada", AvatarKey: "avatars/u1.png"},
	}}
	svc := newTestService(store, objects)

	ident, err := svc.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasPrefix(ident.AvatarURL, "memory://avatars/u1.png") {
		t.Errorf("avatar url = %q", ident.AvatarURL)
	}
}
