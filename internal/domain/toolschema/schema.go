package toolschema

import (
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// OrderByPattern is the accepted shape of order_by: a column optionally
// followed by asc or desc.
const OrderByPattern = `^[A-Za-z_][A-Za-z0-9_]*( +(asc|desc|ASC|DESC))?$`

// scalarSchema accepts the values an equality filter may compare against.
func scalarSchema() map[string]any {
	return map[string]any{
		"type": []any{"string", "number", "integer", "boolean", "null"},
	}
}

func filtersSchema(required bool) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"description":          "Equality filters as column: value pairs.",
		"additionalProperties": scalarSchema(),
	}
	if required {
		s["minProperties"] = 1
		s["description"] = "Equality filters as column: value pairs. At least one filter is required."
	}
	return s
}

// dataSchema describes a write payload. Unknown and excluded keys are not
// rejected here; they are stripped before execution.
func dataSchema(p *datasource.AccessPolicy) map[string]any {
	s := map[string]any{
		"type":          "object",
		"description":   "Column values to write.",
		"minProperties": 1,
	}
	if cols := p.EffectiveColumns(); len(cols) > 0 {
		props := make(map[string]any, len(cols))
		for _, c := range cols {
			props[c] = map[string]any{}
		}
		s["properties"] = props
	}
	return s
}

func querySchema(p *datasource.AccessPolicy) map[string]any {
	columnItem := map[string]any{"type": "string"}
	if cols := p.EffectiveColumns(); len(cols) > 0 {
		enum := make([]any, len(cols))
		for i, c := range cols {
			enum[i] = c
		}
		columnItem["enum"] = enum
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filters": filtersSchema(false),
			"select": map[string]any{
				"type":        "array",
				"description": "Columns to return. Defaults to all visible columns.",
				"items":       columnItem,
			},
			"limit": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Maximum rows to return. Values above the resource cap are reduced to the cap.",
			},
			"order_by": map[string]any{
				"type":        "string",
				"description": `Sort order as "column asc" or "column desc".`,
				"pattern":     OrderByPattern,
			},
		},
		"additionalProperties": false,
	}
}

func insertSchema(p *datasource.AccessPolicy) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"data": dataSchema(p),
		},
		"required":             []any{"data"},
		"additionalProperties": false,
	}
}

func updateSchema(p *datasource.AccessPolicy) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filters": filtersSchema(true),
			"data":    dataSchema(p),
		},
		"required":             []any{"filters", "data"},
		"additionalProperties": false,
	}
}

func deleteSchema(_ *datasource.AccessPolicy) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filters": filtersSchema(true),
			"confirm": map[string]any{
				"type":        "boolean",
				"description": "Must be true. Only set after the user explicitly confirmed the deletion.",
			},
		},
		"required":             []any{"filters", "confirm"},
		"additionalProperties": false,
	}
}
