package toolschema

import (
	"fmt"
	"strings"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// Generate builds the tool set for the given policies. Disabled policies and
// policies at access level none contribute nothing. Malformed rows are
// reported in skipped and do not affect the rest of the set.
func Generate(policies []datasource.AccessPolicy) (Set, []Skipped) {
	set := make(Set)
	seen := make(map[string]bool, len(policies))
	var skipped []Skipped

	for i := range policies {
		p := &policies[i]
		if !p.Enabled {
			continue
		}
		if err := p.Check(); err != nil {
			skipped = append(skipped, Skipped{ResourceID: p.ResourceID(), Err: err})
			continue
		}
		if !p.Active() {
			continue
		}
		id := p.ResourceID()
		if seen[id] {
			skipped = append(skipped, Skipped{ResourceID: id, Err: fmt.Errorf("%w: %s", datasource.ErrDuplicateResource, id)})
			continue
		}
		seen[id] = true

		defs, err := ForPolicy(p)
		if err != nil {
			skipped = append(skipped, Skipped{ResourceID: id, Err: err})
			continue
		}
		for _, def := range defs {
			set[def.Name] = def
		}
	}
	return set, skipped
}

// ForPolicy returns the definitions for every operation the policy permits.
func ForPolicy(p *datasource.AccessPolicy) ([]ToolDefinition, error) {
	ops := p.PermittedOperations()
	defs := make([]ToolDefinition, 0, len(ops))
	for _, op := range ops {
		def, err := Definition(p, op)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definition builds the tool definition for one operation. It does not
// check whether the policy permits op.
func Definition(p *datasource.AccessPolicy, op datasource.Operation) (ToolDefinition, error) {
	var params map[string]any
	switch op {
	case datasource.OpQuery:
		params = querySchema(p)
	case datasource.OpInsert:
		params = insertSchema(p)
	case datasource.OpUpdate:
		params = updateSchema(p)
	case datasource.OpDelete:
		params = deleteSchema(p)
	default:
		return ToolDefinition{}, fmt.Errorf("unsupported operation %q", op)
	}
	return ToolDefinition{
		Name:        Name(op, p.ResourceID()),
		Description: describe(p, op),
		Operation:   op,
		ResourceID:  p.ResourceID(),
		Parameters:  params,
	}, nil
}

func describe(p *datasource.AccessPolicy, op datasource.Operation) string {
	label := p.DisplayName
	if label == "" {
		label = p.Table
	}

	var b strings.Builder
	switch op {
	case datasource.OpQuery:
		fmt.Fprintf(&b, "Query rows from %s (%s). Returns at most %d rows per call.", label, p.QualifiedName(), p.MaxRowsPerQuery)
	case datasource.OpInsert:
		fmt.Fprintf(&b, "Insert one row into %s (%s). IDs and timestamps are generated automatically.", label, p.QualifiedName())
	case datasource.OpUpdate:
		fmt.Fprintf(&b, "Update rows in %s (%s) matching the filters. At least one filter is required.", label, p.QualifiedName())
	case datasource.OpDelete:
		fmt.Fprintf(&b, "Delete rows from %s (%s) matching the filters. Requires at least one filter and confirm: true. Ask the user for confirmation first.", label, p.QualifiedName())
	}
	if p.Description != "" {
		b.WriteString(" ")
		b.WriteString(p.Description)
	}
	if cols := p.EffectiveColumns(); len(cols) > 0 {
		b.WriteString(" Available columns: ")
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(".")
	}
	return b.String()
}
