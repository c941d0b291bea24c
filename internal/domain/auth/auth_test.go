package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type staticKeys []APIKey

func (s staticKeys) ListAPIKeys(context.Context) ([]APIKey, error) {
	return s, nil
}

type failingKeys struct{}

func (failingKeys) ListAPIKeys(context.Context) ([]APIKey, error) {
	return nil, errors.New("store down")
}

func TestHashKey(t *testing.T) {
	t.Parallel()

	h1, err := HashKey("secret-key")
	if err != nil {
		t.Fatalf("HashKey() error: %v", err)
	}
	if !strings.HasPrefix(h1, "$argon2id$") {
		t.Errorf("HashKey() = %q, want argon2id PHC string", h1)
	}
	h2, _ := HashKey("secret-key")
	if h1 == h2 {
		t.Error("HashKey() produced identical hashes for two calls")
	}
}

func TestVerifyKey(t *testing.T) {
	t.Parallel()

	argon, err := HashKey("k-123")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		raw     string
		stored  string
		want    bool
		wantErr error
	}{
		{"argon2id match", "k-123", argon, true, nil},
		{"argon2id mismatch", "k-124", argon, false, nil},
		{"sha256 match", "k-123", "sha256:" + Fingerprint("k-123"), true, nil},
		{"sha256 mismatch", "nope", "sha256:" + Fingerprint("k-123"), false, nil},
		{"bare hex rejected", "k-123", Fingerprint("k-123"), false, ErrUnknownHashType},
		{"malformed argon2id", "k-123", "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := VerifyKey(tt.raw, tt.stored)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("VerifyKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if got != tt.want {
				t.Errorf("VerifyKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	keys := staticKeys{
		{Hash: "sha256:" + Fingerprint("alice-key"), UserID: "alice", Roles: []Role{RoleAdmin}},
		{Hash: "sha256:" + Fingerprint("bob-key"), UserID: "bob"},
		{Hash: "sha256:" + Fingerprint("old-key"), UserID: "carol", ExpiresAt: &past},
		{Hash: "sha256:" + Fingerprint("gone-key"), UserID: "dave", Revoked: true},
	}
	a := NewAuthenticator(keys)
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "alice-key")
	if err != nil {
		t.Fatalf("Authenticate(alice) error: %v", err)
	}
	if id.ID != "alice" || !id.IsAdmin() {
		t.Errorf("alice identity = %+v", id)
	}

	id, err = a.Authenticate(ctx, "bob-key")
	if err != nil {
		t.Fatalf("Authenticate(bob) error: %v", err)
	}
	if !id.HasRole(RoleUser) || id.IsAdmin() {
		t.Errorf("bob roles = %v, want [user]", id.Roles)
	}

	for _, raw := range []string{"old-key", "gone-key", "unknown", ""} {
		if _, err := a.Authenticate(ctx, raw); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Authenticate(%q) error = %v, want ErrInvalidKey", raw, err)
		}
	}

	// A cached identity survives a failing store.
	a.store = failingKeys{}
	if _, err := a.Authenticate(ctx, "alice-key"); err != nil {
		t.Errorf("cached Authenticate() error: %v", err)
	}
	if _, err := a.Authenticate(ctx, "bob-key2"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("uncached key with failing store error = %v", err)
	}
}

func TestAPIKey_Usable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	tests := []struct {
		name string
		key  APIKey
		want bool
	}{
		{"no expiry", APIKey{}, true},
		{"future expiry", APIKey{ExpiresAt: &future}, true},
		{"past expiry", APIKey{ExpiresAt: &past}, false},
		{"revoked", APIKey{Revoked: true}, false},
	}
	for _, tt := range tests {
		if got := tt.key.Usable(now); got != tt.want {
			t.Errorf("%s: Usable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
