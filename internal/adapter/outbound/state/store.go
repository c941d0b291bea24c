package state

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// PolicyStore implements datasource.Store on a state file. Reads reload the
// file when another process changed it, so edits apply to the next call.
type PolicyStore struct {
	mu     sync.Mutex
	file   file
	state  *State
	loaded time.Time
	now    func() time.Time
}

// NewPolicyStore opens the state file at path. A missing file is created on
// the first Save.
func NewPolicyStore(path string, logger *slog.Logger) (*PolicyStore, error) {
	s := &PolicyStore{
		file: file{path: path, logger: logger},
		now:  time.Now,
	}
	st, mod, err := s.file.load()
	if err != nil {
		return nil, err
	}
	s.state, s.loaded = st, mod
	return s, nil
}

// Path returns the state file path.
func (s *PolicyStore) Path() string {
	return s.file.path
}

// refresh reloads the file if its modification time moved. Callers hold mu.
func (s *PolicyStore) refresh() error {
	mod := s.file.modTime()
	if mod.IsZero() || mod.Equal(s.loaded) {
		return nil
	}
	st, mod, err := s.file.load()
	if err != nil {
		return err
	}
	s.state, s.loaded = st, mod
	return nil
}

// ListEnabled returns enabled policies ordered by table name.
func (s *PolicyStore) ListEnabled(ctx context.Context) ([]datasource.AccessPolicy, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(p datasource.AccessPolicy) bool { return !p.Enabled }), nil
}

// List returns every policy ordered by table name.
func (s *PolicyStore) List(_ context.Context) ([]datasource.AccessPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, err
	}
	out := make([]datasource.AccessPolicy, len(s.state.Datasources))
	for i := range s.state.Datasources {
		out[i] = clonePolicy(s.state.Datasources[i])
	}
	slices.SortFunc(out, func(a, b datasource.AccessPolicy) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Schema, b.Schema))
	})
	return out, nil
}

// GetByResource returns the policy for resourceID regardless of its enabled flag.
func (s *PolicyStore) GetByResource(_ context.Context, resourceID string) (*datasource.AccessPolicy, error) {
	return s.find(func(p *datasource.AccessPolicy) bool { return p.ResourceID() == resourceID })
}

// Get returns a policy by ID.
func (s *PolicyStore) Get(_ context.Context, id string) (*datasource.AccessPolicy, error) {
	return s.find(func(p *datasource.AccessPolicy) bool { return p.ID == id })
}

func (s *PolicyStore) find(match func(*datasource.AccessPolicy) bool) (*datasource.AccessPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, err
	}
	for i := range s.state.Datasources {
		if match(&s.state.Datasources[i]) {
			p := clonePolicy(s.state.Datasources[i])
			return &p, nil
		}
	}
	return nil, datasource.ErrPolicyNotFound
}

// Save creates or replaces a policy and writes the file.
func (s *PolicyStore) Save(_ context.Context, p *datasource.AccessPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return err
	}

	idx := -1
	for i, existing := range s.state.Datasources {
		switch {
		case existing.ID == p.ID && p.ID != "":
			idx = i
		case existing.ResourceID() == p.ResourceID():
			return fmt.Errorf("%w: %s", datasource.ErrDuplicateResource, p.ResourceID())
		}
	}

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if idx >= 0 {
		p.CreatedAt = s.state.Datasources[idx].CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	next := slices.Clone(s.state.Datasources)
	if idx >= 0 {
		next[idx] = clonePolicy(*p)
	} else {
		next = append(next, clonePolicy(*p))
	}
	return s.commit(next)
}

// Delete removes a policy by ID and writes the file.
func (s *PolicyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return err
	}
	idx := slices.IndexFunc(s.state.Datasources, func(p datasource.AccessPolicy) bool { return p.ID == id })
	if idx < 0 {
		return datasource.ErrPolicyNotFound
	}
	return s.commit(slices.Delete(slices.Clone(s.state.Datasources), idx, idx+1))
}

// commit persists the new policy list and adopts it only on success.
func (s *PolicyStore) commit(policies []datasource.AccessPolicy) error {
	st := *s.state
	st.Version = CurrentVersion
	st.Datasources = policies
	if err := s.file.save(&st); err != nil {
		return err
	}
	s.state = &st
	s.loaded = s.file.modTime()
	return nil
}

func clonePolicy(p datasource.AccessPolicy) datasource.AccessPolicy {
	p.AllowedColumns = slices.Clone(p.AllowedColumns)
	p.ExcludedColumns = slices.Clone(p.ExcludedColumns)
	return p
}

var _ datasource.Store = (*PolicyStore)(nil)
