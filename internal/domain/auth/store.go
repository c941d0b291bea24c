package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidKey is returned for unknown, revoked or expired keys.
var ErrInvalidKey = errors.New("invalid api key")

// KeyStore lists the configured API keys.
type KeyStore interface {
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
}

// cacheTTL bounds how long a verified key skips the argon2id comparison.
const cacheTTL = 5 * time.Minute

type cachedIdentity struct {
	key      APIKey
	verified time.Time
}

// Authenticator resolves raw API keys to identities.
type Authenticator struct {
	store KeyStore
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedIdentity
}

// NewAuthenticator creates an Authenticator backed by store.
func NewAuthenticator(store KeyStore) *Authenticator {
	return &Authenticator{
		store: store,
		now:   time.Now,
		cache: make(map[string]cachedIdentity),
	}
}

// Authenticate returns the identity for rawKey or ErrInvalidKey.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*Identity, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	now := a.now()
	fp := Fingerprint(rawKey)

	a.mu.Lock()
	hit, ok := a.cache[fp]
	a.mu.Unlock()
	if ok && now.Sub(hit.verified) < cacheTTL && hit.key.Usable(now) {
		return hit.key.Identity(), nil
	}

	keys, err := a.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for i := range keys {
		match, err := VerifyKey(rawKey, keys[i].Hash)
		if err != nil || !match {
			continue
		}
		if !keys[i].Usable(now) {
			return nil, ErrInvalidKey
		}
		a.mu.Lock()
		a.cache[fp] = cachedIdentity{key: keys[i], verified: now}
		a.mu.Unlock()
		return keys[i].Identity(), nil
	}
	return nil, ErrInvalidKey
}
