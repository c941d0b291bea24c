package sqlstore

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
)

// builder assembles one parameterized statement. Identifiers are checked
// against datasource.ValidIdentifier and quoted; values are always bound.
type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
	err     error
}

func newBuilder(d Dialect) *builder {
	return &builder{dialect: d}
}

func (b *builder) write(parts ...string) *builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
	return b
}

func (b *builder) ident(name string) string {
	if !datasource.ValidIdentifier(name) {
		if b.err == nil {
			b.err = fmt.Errorf("invalid identifier %q", name)
		}
		return `""`
	}
	return `"` + name + `"`
}

// table renders the target. SQLite has no schemas, so only the table is used.
func (b *builder) table(t toolcall.Target) string {
	if b.dialect == SQLite || t.Schema == "" {
		return b.ident(t.Table)
	}
	return b.ident(t.Schema) + "." + b.ident(t.Table)
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, bindValue(v))
	return b.dialect.placeholder(len(b.args))
}

// where renders equality filters in column order. A nil value matches NULL.
func (b *builder) where(filters map[string]any) {
	if len(filters) == 0 {
		return
	}
	b.write(" WHERE ")
	for i, col := range sortedKeys(filters) {
		if i > 0 {
			b.write(" AND ")
		}
		v := filters[col]
		if v == nil {
			b.write(b.ident(col), " IS NULL")
			continue
		}
		b.write(b.ident(col), " = ", b.bind(v))
	}
}

func (b *builder) build() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	return b.sb.String(), b.args, nil
}

func buildSelect(d Dialect, q toolcall.SelectQuery) (string, []any, error) {
	b := newBuilder(d)
	b.write("SELECT ")
	if len(q.Columns) == 0 {
		b.write("*")
	} else {
		for i, c := range q.Columns {
			if i > 0 {
				b.write(", ")
			}
			b.write(b.ident(c))
		}
	}
	b.write(" FROM ", b.table(q.Target))
	b.where(q.Filters)
	if q.Order != nil {
		dir := " ASC"
		if q.Order.Desc {
			dir = " DESC"
		}
		b.write(" ORDER BY ", b.ident(q.Order.Column), dir)
	}
	if q.Limit > 0 {
		b.write(" LIMIT ", strconv.Itoa(q.Limit))
	}
	return b.build()
}

func buildInsert(d Dialect, m toolcall.Mutation) (string, []any, error) {
	b := newBuilder(d)
	cols := sortedKeys(m.Data)
	b.write("INSERT INTO ", b.table(m.Target), " (")
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.ident(c))
	}
	b.write(") VALUES (")
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.bind(m.Data[c]))
	}
	b.write(") RETURNING *")
	return b.build()
}

func buildUpdate(d Dialect, m toolcall.Mutation) (string, []any, error) {
	if len(m.Filters) == 0 {
		return "", nil, fmt.Errorf("refusing unfiltered update of %s", m.Target.QualifiedName())
	}
	b := newBuilder(d)
	b.write("UPDATE ", b.table(m.Target), " SET ")
	for i, c := range sortedKeys(m.Data) {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.ident(c), " = ", b.bind(m.Data[c]))
	}
	b.where(m.Filters)
	b.write(" RETURNING *")
	return b.build()
}

func buildDelete(d Dialect, m toolcall.Mutation) (string, []any, error) {
	if len(m.Filters) == 0 {
		return "", nil, fmt.Errorf("refusing unfiltered delete from %s", m.Target.QualifiedName())
	}
	b := newBuilder(d)
	b.write("DELETE FROM ", b.table(m.Target))
	b.where(m.Filters)
	return b.build()
}

// bindValue passes scalars through and stores objects and arrays as JSON text.
func bindValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
