package jsonschema

import (
	"strings"
	"testing"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
)

func TestValidator_GeneratedSchemas(t *testing.T) {
	t.Parallel()

	p := &datasource.AccessPolicy{
		Schema:          "public",
		Table:           "themes",
		AccessLevel:     datasource.AccessFull,
		Enabled:         true,
		MaxRowsPerQuery: 50,
		AllowedColumns:  []string{"id", "name"},
	}
	v := NewValidator()

	tests := []struct {
		name    string
		op      datasource.Operation
		args    map[string]any
		wantErr bool
	}{
		{"query ok", datasource.OpQuery, map[string]any{"filters": map[string]any{"name": "Dark"}, "limit": int64(5)}, false},
		{"query empty", datasource.OpQuery, nil, false},
		{"query unknown key", datasource.OpQuery, map[string]any{"where": "1=1"}, true},
		{"query bad order", datasource.OpQuery, map[string]any{"order_by": "name; drop"}, true},
		{"query unknown select column", datasource.OpQuery, map[string]any{"select": []any{"secret"}}, true},
		{"query limit zero", datasource.OpQuery, map[string]any{"limit": int64(0)}, true},
		{"insert ok", datasource.OpInsert, map[string]any{"data": map[string]any{"name": "Test"}}, false},
		{"insert missing data", datasource.OpInsert, map[string]any{}, true},
		{"update without filters", datasource.OpUpdate, map[string]any{"data": map[string]any{"name": "x"}}, true},
		{"delete nested filter", datasource.OpDelete, map[string]any{"filters": map[string]any{"id": map[string]any{"$gt": 1}}, "confirm": true}, true},
	}
	for _, tt := range tests {
		def, err := toolschema.Definition(p, tt.op)
		if err != nil {
			t.Fatalf("Definition(%s) error: %v", tt.op, err)
		}
		err = v.Validate(def.Parameters, tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestValidator_CachesCompiledSchemas(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	schema := map[string]any{"type": "object", "required": []string{"a"}}
	for i := 0; i < 3; i++ {
		if err := v.Validate(schema, map[string]any{"a": 1}); err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
	}
	if len(v.schemas) != 1 {
		t.Errorf("cached %d schemas, want 1", len(v.schemas))
	}
}

func TestValidator_InvalidSchema(t *testing.T) {
	t.Parallel()

	err := NewValidator().Validate(map[string]any{"type": 12}, map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "schema") {
		t.Errorf("Validate() error = %v, want schema error", err)
	}
}
