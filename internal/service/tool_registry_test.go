package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

type staticReader struct {
	policies []datasource.AccessPolicy
	err      error
}

func (r staticReader) ListEnabled(context.Context) ([]datasource.AccessPolicy, error) {
	return r.policies, r.err
}

func (r staticReader) GetByResource(context.Context, string) (*datasource.AccessPolicy, error) {
	return nil, datasource.ErrPolicyNotFound
}

func TestToolRegistry_Tools(t *testing.T) {
	t.Parallel()

	invoices := themesPolicy(datasource.AccessFull)
	invoices.Table = "invoices"
	invoices.Enabled = false

	ps, err := memory.NewPolicyStore(themesPolicy(datasource.AccessRead), invoices)
	if err != nil {
		t.Fatalf("NewPolicyStore() error: %v", err)
	}
	reg := NewToolRegistry(ps, slog.Default())

	set, err := reg.Tools(t.Context())
	if err != nil {
		t.Fatalf("Tools() error: %v", err)
	}
	if got := set.Names(); !slices.Equal(got, []string{"query_themes"}) {
		t.Errorf("Tools() = %v, want [query_themes]", got)
	}

	// Enabling a policy is visible on the next call.
	p, err := ps.GetByResource(t.Context(), "invoices")
	if err != nil {
		t.Fatal(err)
	}
	p.Enabled = true
	if err := ps.Save(t.Context(), p); err != nil {
		t.Fatal(err)
	}
	set, err = reg.Tools(t.Context())
	if err != nil {
		t.Fatalf("Tools() error: %v", err)
	}
	if len(set) != 5 {
		t.Errorf("Tools() after enable = %v, want 5 tools", set.Names())
	}
}

func TestToolRegistry_SkipsMalformedPolicies(t *testing.T) {
	t.Parallel()

	bad := themesPolicy(datasource.AccessRead)
	bad.Table = "bad table"
	reg := NewToolRegistry(staticReader{policies: []datasource.AccessPolicy{themesPolicy(datasource.AccessRead), bad}}, slog.Default())

	set, err := reg.Tools(t.Context())
	if err != nil {
		t.Fatalf("Tools() error: %v", err)
	}
	if got := set.Names(); !slices.Equal(got, []string{"query_themes"}) {
		t.Errorf("Tools() = %v, want only the well-formed policy", got)
	}
}

func TestToolRegistry_StoreError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection refused")
	reg := NewToolRegistry(staticReader{err: storeErr}, slog.Default())
	if _, err := reg.Tools(t.Context()); !errors.Is(err, storeErr) {
		t.Errorf("Tools() error = %v, want wrapped store error", err)
	}
}
