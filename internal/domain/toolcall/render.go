package toolcall

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The renderers below produce human-readable SQL for dry runs. The output
// is never executed; live calls go through parameterized store queries.

// RenderInsert renders an INSERT statement for m.
func RenderInsert(m Mutation) string {
	cols := sortedKeys(m.Data)
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = Literal(m.Data[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.Target.QualifiedName(), strings.Join(cols, ", "), strings.Join(vals, ", "))
}

// RenderUpdate renders an UPDATE statement for m.
func RenderUpdate(m Mutation) string {
	cols := sortedKeys(m.Data)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = " + Literal(m.Data[c])
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		m.Target.QualifiedName(), strings.Join(sets, ", "), renderWhere(m.Filters))
}

// RenderDelete renders a DELETE statement for m.
func RenderDelete(m Mutation) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", m.Target.QualifiedName(), renderWhere(m.Filters))
}

func renderWhere(filters map[string]any) string {
	cols := sortedKeys(filters)
	conds := make([]string, len(cols))
	for i, c := range cols {
		if filters[c] == nil {
			conds[i] = c + " IS NULL"
			continue
		}
		conds[i] = c + " = " + Literal(filters[c])
	}
	return strings.Join(conds, " AND ")
}

// Literal renders v as an SQL literal. Strings are single-quoted with
// embedded quotes doubled; objects and arrays are rendered as quoted JSON.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return quote(fmt.Sprint(x))
		}
		return quote(string(data))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
