package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kessel-b2b/aigate/internal/adapter/outbound/cel"
	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

func newPolicyAdminFixture(t *testing.T) (*PolicyAdminService, *memory.PolicyStore) {
	t.Helper()
	store, err := memory.NewPolicyStore()
	if err != nil {
		t.Fatal(err)
	}
	guards, err := cel.NewGuardEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	return NewPolicyAdminService(store, guards, discardLogger()), store
}

func TestPolicyAdminService_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newPolicyAdminFixture(t)

	p, err := svc.Create(ctx, &datasource.AccessPolicy{Table: "themes", AccessLevel: datasource.AccessRead, Enabled: true}, "admin")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if p.ID == "" || p.Schema != datasource.DefaultSchema || p.MaxRowsPerQuery != datasource.DefaultMaxRowsPerQuery || p.CreatedBy != "admin" {
		t.Errorf("created policy = %+v", p)
	}

	_, err = svc.Create(ctx, &datasource.AccessPolicy{Table: "THEMES", AccessLevel: datasource.AccessFull}, "admin")
	if !errors.Is(err, datasource.ErrDuplicateResource) {
		t.Errorf("Create(duplicate) error = %v", err)
	}
}

func TestPolicyAdminService_RejectsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newPolicyAdminFixture(t)

	tests := []struct {
		name    string
		policy  datasource.AccessPolicy
		wantMsg string
	}{
		{"missing table", datasource.AccessPolicy{AccessLevel: datasource.AccessRead}, "Table is required"},
		{"injected table", datasource.AccessPolicy{Table: "themes; drop", AccessLevel: datasource.AccessRead}, "identifier"},
		{"unknown level", datasource.AccessPolicy{Table: "themes", AccessLevel: "admin"}, "AccessLevel must be one of"},
		{"bad column", datasource.AccessPolicy{Table: "themes", AccessLevel: datasource.AccessRead, ExcludedColumns: []string{"a b"}}, "identifier"},
		{"guard does not compile", datasource.AccessPolicy{Table: "themes", AccessLevel: datasource.AccessRead, Guard: "operation =="}, "guard"},
		{"guard not boolean", datasource.AccessPolicy{Table: "themes", AccessLevel: datasource.AccessRead, Guard: `"yes"`}, "guard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.policy
			_, err := svc.Create(ctx, &p, "admin")
			if !errors.Is(err, datasource.ErrInvalidPolicy) {
				t.Fatalf("Create() error = %v, want ErrInvalidPolicy", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Create() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestPolicyAdminService_Patch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store := newPolicyAdminFixture(t)

	p, err := svc.Create(ctx, &datasource.AccessPolicy{Table: "roles", AccessLevel: datasource.AccessRead}, "admin")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SetAccessLevel(ctx, p.ID, "full", "admin"); err != nil {
		t.Fatalf("SetAccessLevel() error: %v", err)
	}
	if _, err := svc.SetAccessLevel(ctx, p.ID, "owner", "admin"); !errors.Is(err, datasource.ErrInvalidAccessLevel) {
		t.Errorf("SetAccessLevel(owner) error = %v", err)
	}
	if _, err := svc.SetEnabled(ctx, p.ID, true, "admin"); err != nil {
		t.Fatalf("SetEnabled() error: %v", err)
	}

	got, _ := store.GetByResource(ctx, "roles")
	if got.AccessLevel != datasource.AccessFull || !got.Enabled || got.CreatedBy != "admin" {
		t.Errorf("stored policy = %+v", got)
	}

	if _, err := svc.SetEnabled(ctx, "missing", true, "admin"); !errors.Is(err, datasource.ErrPolicyNotFound) {
		t.Errorf("SetEnabled(missing) error = %v", err)
	}
	if err := svc.Delete(ctx, p.ID, "admin"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := svc.Get(ctx, p.ID); !errors.Is(err, datasource.ErrPolicyNotFound) {
		t.Errorf("Get(deleted) error = %v", err)
	}
}

func TestPolicyAdminService_UpdateKeepsProvenance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newPolicyAdminFixture(t)

	p, err := svc.Create(ctx, &datasource.AccessPolicy{Table: "bugs", AccessLevel: datasource.AccessRead}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	updated, err := svc.Update(ctx, p.ID, &datasource.AccessPolicy{
		Table:       "bugs",
		AccessLevel: datasource.AccessReadWrite,
		Guard:       `operation != "delete"`,
		CreatedBy:   "mallory",
	}, "bob")
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.ID != p.ID || updated.CreatedBy != "alice" || !updated.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("updated policy = %+v", updated)
	}
}
