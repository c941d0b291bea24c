// Package datasource contains the access policy model for resources the
// assistant may read or mutate through generated tools.
package datasource

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// AccessLevel is the ordered permission tier of a resource.
// none < read < read_write < full.
type AccessLevel string

const (
	// AccessNone exposes nothing.
	AccessNone AccessLevel = "none"
	// AccessRead exposes query tools.
	AccessRead AccessLevel = "read"
	// AccessReadWrite adds insert and update tools.
	AccessReadWrite AccessLevel = "read_write"
	// AccessFull adds delete tools.
	AccessFull AccessLevel = "full"
)

// rank returns the position of the level in the ordering, or -1 if unknown.
func (l AccessLevel) rank() int {
	switch l {
	case AccessNone:
		return 0
	case AccessRead:
		return 1
	case AccessReadWrite:
		return 2
	case AccessFull:
		return 3
	default:
		return -1
	}
}

// IsValid reports whether l is one of the known access levels.
func (l AccessLevel) IsValid() bool {
	return l.rank() >= 0
}

// AtLeast reports whether l grants at least the permissions of other.
// Unknown levels never satisfy anything.
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	if !l.IsValid() || !other.IsValid() {
		return false
	}
	return l.rank() >= other.rank()
}

// ParseAccessLevel parses a case-insensitive access level string.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccessLevel, s)
	}
	return l, nil
}

// Operation is a data operation a tool performs on a resource.
type Operation string

const (
	OpQuery  Operation = "query"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists every operation in canonical order.
var Operations = []Operation{OpQuery, OpInsert, OpUpdate, OpDelete}

// RequiredLevel returns the minimum access level the operation needs.
func (o Operation) RequiredLevel() AccessLevel {
	switch o {
	case OpQuery:
		return AccessRead
	case OpInsert, OpUpdate:
		return AccessReadWrite
	case OpDelete:
		return AccessFull
	default:
		return ""
	}
}

// IsValid reports whether o is a known operation.
func (o Operation) IsValid() bool {
	return o.RequiredLevel() != ""
}

// Mutates reports whether the operation changes stored data.
func (o Operation) Mutates() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// DefaultSchema is used when a policy does not name a schema.
const DefaultSchema = "public"

// DefaultMaxRowsPerQuery is applied to policies created without a row cap.
const DefaultMaxRowsPerQuery = 100

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a table, schema or
// column name.
func ValidIdentifier(s string) bool {
	return len(s) <= 63 && identifierPattern.MatchString(s)
}

// AccessPolicy is the access rule for one governed resource.
type AccessPolicy struct {
	ID              string      `json:"id" yaml:"id"`
	Schema          string      `json:"table_schema" yaml:"table_schema"`
	Table           string      `json:"table_name" yaml:"table_name" validate:"required,identifier"`
	DisplayName     string      `json:"display_name" yaml:"display_name"`
	Description     string      `json:"description" yaml:"description"`
	AccessLevel     AccessLevel `json:"access_level" yaml:"access_level" validate:"required,oneof=none read read_write full"`
	Enabled         bool        `json:"is_enabled" yaml:"is_enabled"`
	AllowedColumns  []string    `json:"allowed_columns" yaml:"allowed_columns" validate:"omitempty,dive,identifier"`
	ExcludedColumns []string    `json:"excluded_columns" yaml:"excluded_columns" validate:"omitempty,dive,identifier"`
	MaxRowsPerQuery int         `json:"max_rows_per_query" yaml:"max_rows_per_query" validate:"min=1"`
	// Guard is an optional CEL expression that must evaluate to true for a
	// call to proceed.
	Guard     string    `json:"guard,omitempty" yaml:"guard"`
	CreatedBy string    `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ResourceID returns the identifier used in tool names.
func (p *AccessPolicy) ResourceID() string {
	return strings.ToLower(p.Table)
}

// QualifiedName returns schema.table.
func (p *AccessPolicy) QualifiedName() string {
	schema := p.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	return schema + "." + p.Table
}

// ApplyDefaults fills optional fields with their defaults.
func (p *AccessPolicy) ApplyDefaults() {
	if p.Schema == "" {
		p.Schema = DefaultSchema
	}
	if p.MaxRowsPerQuery <= 0 {
		p.MaxRowsPerQuery = DefaultMaxRowsPerQuery
	}
	if p.AccessLevel == "" {
		p.AccessLevel = AccessNone
	}
}

// Check reports structural problems that make the policy unusable.
func (p *AccessPolicy) Check() error {
	if !ValidIdentifier(p.Table) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidPolicy, p.Table)
	}
	if p.Schema != "" && !ValidIdentifier(p.Schema) {
		return fmt.Errorf("%w: invalid schema name %q", ErrInvalidPolicy, p.Schema)
	}
	if !p.AccessLevel.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidPolicy, ErrInvalidAccessLevel, p.AccessLevel)
	}
	if p.MaxRowsPerQuery <= 0 {
		return fmt.Errorf("%w: max_rows_per_query must be positive, got %d", ErrInvalidPolicy, p.MaxRowsPerQuery)
	}
	for _, c := range p.AllowedColumns {
		if !ValidIdentifier(c) {
			return fmt.Errorf("%w: invalid allowed column %q", ErrInvalidPolicy, c)
		}
	}
	for _, c := range p.ExcludedColumns {
		if !ValidIdentifier(c) {
			return fmt.Errorf("%w: invalid excluded column %q", ErrInvalidPolicy, c)
		}
	}
	return nil
}

// Active reports whether the policy exposes any tools.
func (p *AccessPolicy) Active() bool {
	return p.Enabled && p.AccessLevel.AtLeast(AccessRead)
}

// Permits reports whether the policy currently allows op.
func (p *AccessPolicy) Permits(op Operation) bool {
	if !p.Enabled || !op.IsValid() {
		return false
	}
	return p.AccessLevel.AtLeast(op.RequiredLevel())
}

// PermittedOperations returns the operations the policy allows, in canonical order.
func (p *AccessPolicy) PermittedOperations() []Operation {
	var ops []Operation
	for _, op := range Operations {
		if p.Permits(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

// IsExcluded reports whether col is on the deny list.
func (p *AccessPolicy) IsExcluded(col string) bool {
	return slices.Contains(p.ExcludedColumns, col)
}

// ColumnAllowed reports whether col survives the effective column filter.
// Exclusion always wins over the allow list.
func (p *AccessPolicy) ColumnAllowed(col string) bool {
	if p.IsExcluded(col) {
		return false
	}
	if len(p.AllowedColumns) == 0 {
		return true
	}
	return slices.Contains(p.AllowedColumns, col)
}

// EffectiveColumns returns the allow list minus excluded columns.
// A nil result means every column not excluded is visible.
func (p *AccessPolicy) EffectiveColumns() []string {
	if len(p.AllowedColumns) == 0 {
		return nil
	}
	cols := make([]string, 0, len(p.AllowedColumns))
	for _, c := range p.AllowedColumns {
		if !p.IsExcluded(c) && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	return cols
}
