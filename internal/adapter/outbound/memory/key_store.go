package memory

import (
	"context"
	"slices"

	"github.com/kessel-b2b/aigate/internal/domain/auth"
)

// KeyStore serves a fixed list of API keys, typically from configuration.
type KeyStore struct {
	keys []auth.APIKey
}

// NewKeyStore creates a KeyStore.
func NewKeyStore(keys ...auth.APIKey) *KeyStore {
	return &KeyStore{keys: slices.Clone(keys)}
}

// ListAPIKeys implements auth.KeyStore.
func (s *KeyStore) ListAPIKeys(context.Context) ([]auth.APIKey, error) {
	return slices.Clone(s.keys), nil
}

var _ auth.KeyStore = (*KeyStore)(nil)
