package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"
)

// QueryArgs are the arguments of a query tool.
type QueryArgs struct {
	Filters map[string]any `json:"filters"`
	Select  []string       `json:"select"`
	Limit   *int           `json:"limit"`
	OrderBy string         `json:"order_by"`
}

// InsertArgs are the arguments of an insert tool.
type InsertArgs struct {
	Data map[string]any `json:"data"`
}

// UpdateArgs are the arguments of an update tool.
type UpdateArgs struct {
	Filters map[string]any `json:"filters"`
	Data    map[string]any `json:"data"`
}

// DeleteArgs are the arguments of a delete tool.
type DeleteArgs struct {
	Filters map[string]any `json:"filters"`
	Confirm bool           `json:"confirm"`
}

// Decode converts a raw argument object into one of the typed argument
// structs. Unknown fields are ignored here; schema validation rejects them.
func Decode[T QueryArgs | InsertArgs | UpdateArgs | DeleteArgs](raw map[string]any) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out, Invalid("Arguments are not valid JSON: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, Invalid("Invalid arguments: %v", err)
	}
	switch v := any(&out).(type) {
	case *QueryArgs:
		normalizeNumbers(v.Filters)
	case *InsertArgs:
		normalizeNumbers(v.Data)
	case *UpdateArgs:
		normalizeNumbers(v.Filters)
		normalizeNumbers(v.Data)
	case *DeleteArgs:
		normalizeNumbers(v.Filters)
	}
	return out, nil
}

// MaxStringLength caps every string argument value. Longer values are
// truncated.
const MaxStringLength = 1 << 20

// normalizeNumbers replaces json.Number values with int64 where the number
// is integral and float64 otherwise. Strings lose NUL bytes, which no
// supported store accepts in text columns.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case string:
		return sanitizeString(n)
	case map[string]any:
		normalizeNumbers(n)
		return n
	case []any:
		for i := range n {
			n[i] = normalizeValue(n[i])
		}
		return n
	default:
		return v
	}
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > MaxStringLength {
		s = s[:MaxStringLength]
	}
	return s
}

// ParseArgs decodes a JSON argument string as emitted by a model into a
// generic object. An empty string yields an empty object.
func ParseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, Invalid("Arguments must be a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
