package datasource

import (
	"errors"
	"slices"
	"testing"
)

func TestAccessLevel_Ordering(t *testing.T) {
	t.Parallel()

	levels := []AccessLevel{AccessNone, AccessRead, AccessReadWrite, AccessFull}
	for i, a := range levels {
		for j, b := range levels {
			if got, want := a.AtLeast(b), i >= j; got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", a, b, got, want)
			}
		}
	}
	if AccessLevel("admin").AtLeast(AccessNone) {
		t.Error("unknown level must not satisfy any level")
	}
}

func TestParseAccessLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    AccessLevel
		wantErr bool
	}{
		{"read", AccessRead, false},
		{" FULL ", AccessFull, false},
		{"read_write", AccessReadWrite, false},
		{"none", AccessNone, false},
		{"write", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAccessLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAccessLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidAccessLevel) {
			t.Errorf("ParseAccessLevel(%q) error = %v, want ErrInvalidAccessLevel", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseAccessLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAccessPolicy_PermittedOperations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   AccessLevel
		enabled bool
		want    []Operation
	}{
		{AccessNone, true, nil},
		{AccessRead, true, []Operation{OpQuery}},
		{AccessReadWrite, true, []Operation{OpQuery, OpInsert, OpUpdate}},
		{AccessFull, true, []Operation{OpQuery, OpInsert, OpUpdate, OpDelete}},
		{AccessFull, false, nil},
	}
	for _, tt := range tests {
		p := AccessPolicy{Table: "themes", AccessLevel: tt.level, Enabled: tt.enabled, MaxRowsPerQuery: 10}
		if got := p.PermittedOperations(); !slices.Equal(got, tt.want) {
			t.Errorf("level=%s enabled=%v: PermittedOperations() = %v, want %v", tt.level, tt.enabled, got, tt.want)
		}
	}
}

func TestAccessPolicy_Columns(t *testing.T) {
	t.Parallel()

	p := AccessPolicy{
		AllowedColumns:  []string{"id", "name", "secret", "name"},
		ExcludedColumns: []string{"secret"},
	}
	if got, want := p.EffectiveColumns(), []string{"id", "name"}; !slices.Equal(got, want) {
		t.Errorf("EffectiveColumns() = %v, want %v", got, want)
	}
	if p.ColumnAllowed("secret") {
		t.Error("excluded column must not be allowed even when listed in allowed_columns")
	}
	if p.ColumnAllowed("other") {
		t.Error("column outside allow list must not be allowed")
	}

	open := AccessPolicy{ExcludedColumns: []string{"password"}}
	if open.EffectiveColumns() != nil {
		t.Error("EffectiveColumns() should be nil without an allow list")
	}
	if !open.ColumnAllowed("anything") || open.ColumnAllowed("password") {
		t.Error("open policy should allow everything except excluded columns")
	}
}

func TestAccessPolicy_Check(t *testing.T) {
	t.Parallel()

	valid := AccessPolicy{Table: "themes", AccessLevel: AccessRead, MaxRowsPerQuery: 50}
	if err := valid.Check(); err != nil {
		t.Fatalf("Check() unexpected error: %v", err)
	}

	bad := []AccessPolicy{
		{Table: "themes; drop", AccessLevel: AccessRead, MaxRowsPerQuery: 1},
		{Table: "themes", AccessLevel: "owner", MaxRowsPerQuery: 1},
		{Table: "themes", AccessLevel: AccessRead, MaxRowsPerQuery: 0},
		{Table: "themes", Schema: "pub lic", AccessLevel: AccessRead, MaxRowsPerQuery: 1},
		{Table: "themes", AccessLevel: AccessRead, MaxRowsPerQuery: 1, ExcludedColumns: []string{"a-b"}},
	}
	for i, p := range bad {
		if err := p.Check(); !errors.Is(err, ErrInvalidPolicy) {
			t.Errorf("case %d: Check() = %v, want ErrInvalidPolicy", i, err)
		}
	}
}

func TestAccessPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := AccessPolicy{Table: "Themes"}
	p.ApplyDefaults()
	if p.Schema != DefaultSchema || p.MaxRowsPerQuery != DefaultMaxRowsPerQuery || p.AccessLevel != AccessNone {
		t.Errorf("ApplyDefaults() = %+v", p)
	}
	if got := p.QualifiedName(); got != "public.Themes" {
		t.Errorf("QualifiedName() = %q, want %q", got, "public.Themes")
	}
	if got := p.ResourceID(); got != "themes" {
		t.Errorf("ResourceID() = %q, want %q", got, "themes")
	}
}

func TestParseSeed(t *testing.T) {
	t.Parallel()

	data := []byte(`
datasources:
  - table_name: themes
    display_name: Themes
    access_level: read_write
    is_enabled: true
    excluded_columns: [internal_notes]
  - table_name: secrets
    access_level: none
`)
	got, err := ParseSeed(data)
	if err != nil {
		t.Fatalf("ParseSeed() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ParseSeed() returned %d policies, want 2", len(got))
	}
	if got[0].MaxRowsPerQuery != DefaultMaxRowsPerQuery || got[0].Schema != "public" {
		t.Errorf("defaults not applied: %+v", got[0])
	}
	if !got[0].IsExcluded("internal_notes") {
		t.Error("excluded_columns not parsed")
	}

	if _, err := ParseSeed([]byte("datasources:\n  - table_name: x\n    access_level: admin\n")); err == nil {
		t.Error("ParseSeed() should reject an unknown access level")
	}
}
