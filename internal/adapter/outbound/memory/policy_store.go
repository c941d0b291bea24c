// Package memory provides in-memory implementations of outbound ports for
// development, tests and the CLI.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// PolicyStore implements datasource.Store with a map. Safe for concurrent use.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*datasource.AccessPolicy // ID -> policy
	now      func() time.Time
}

// NewPolicyStore creates a store holding the given policies. Policies
// without an ID get one.
func NewPolicyStore(seed ...datasource.AccessPolicy) (*PolicyStore, error) {
	s := &PolicyStore{
		policies: make(map[string]*datasource.AccessPolicy, len(seed)),
		now:      time.Now,
	}
	for i := range seed {
		p := seed[i]
		if err := s.Save(context.Background(), &p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ListEnabled returns enabled policies ordered by table name.
func (s *PolicyStore) ListEnabled(ctx context.Context) ([]datasource.AccessPolicy, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(p datasource.AccessPolicy) bool { return !p.Enabled }), nil
}

// GetByResource returns the policy for resourceID regardless of its enabled flag.
func (s *PolicyStore) GetByResource(_ context.Context, resourceID string) (*datasource.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.ResourceID() == resourceID {
			return clonePolicy(p), nil
		}
	}
	return nil, datasource.ErrPolicyNotFound
}

// List returns every policy ordered by table name.
func (s *PolicyStore) List(_ context.Context) ([]datasource.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datasource.AccessPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, *clonePolicy(p))
	}
	slices.SortFunc(out, func(a, b datasource.AccessPolicy) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Schema, b.Schema))
	})
	return out, nil
}

// Get returns a policy by ID.
func (s *PolicyStore) Get(_ context.Context, id string) (*datasource.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, datasource.ErrPolicyNotFound
	}
	return clonePolicy(p), nil
}

// Save creates or replaces a policy. A second policy for the same resource
// is rejected with ErrDuplicateResource.
func (s *PolicyStore) Save(_ context.Context, p *datasource.AccessPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.policies {
		if id != p.ID && existing.ResourceID() == p.ResourceID() {
			return fmt.Errorf("%w: %s", datasource.ErrDuplicateResource, p.ResourceID())
		}
	}

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if prev, ok := s.policies[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.policies[p.ID] = clonePolicy(p)
	return nil
}

// Delete removes a policy by ID.
func (s *PolicyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return datasource.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

func clonePolicy(p *datasource.AccessPolicy) *datasource.AccessPolicy {
	c := *p
	c.AllowedColumns = slices.Clone(p.AllowedColumns)
	c.ExcludedColumns = slices.Clone(p.ExcludedColumns)
	return &c
}

var _ datasource.Store = (*PolicyStore)(nil)
