package memory

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// DataStore keeps governed tables as row slices keyed by schema.table.
// Rows get a uuid "id" on insert when none is given.
type DataStore struct {
	mu     sync.RWMutex
	tables map[string][]toolcall.Row
}

// NewDataStore creates an empty DataStore.
func NewDataStore() *DataStore {
	return &DataStore{tables: make(map[string][]toolcall.Row)}
}

// Seed replaces the rows of a table.
func (s *DataStore) Seed(t toolcall.Target, rows ...toolcall.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]toolcall.Row, len(rows))
	for i, r := range rows {
		copied[i] = maps.Clone(r)
	}
	s.tables[t.QualifiedName()] = copied
}

// Rows returns a copy of every row in a table.
func (s *DataStore) Rows(t toolcall.Target) []toolcall.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.tables[t.QualifiedName()])
}

// Select implements outbound.DataStore.
func (s *DataStore) Select(ctx context.Context, q toolcall.SelectQuery) ([]toolcall.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matched []toolcall.Row
	for _, r := range s.tables[q.Target.QualifiedName()] {
		if matches(r, q.Filters) {
			matched = append(matched, maps.Clone(r))
		}
	}
	s.mu.RUnlock()

	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareValues(matched[i][col], matched[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	if len(q.Columns) > 0 {
		for i, r := range matched {
			projected := make(toolcall.Row, len(q.Columns))
			for _, c := range q.Columns {
				if v, ok := r[c]; ok {
					projected[c] = v
				}
			}
			matched[i] = projected
		}
	}
	return matched, nil
}

// Insert implements outbound.DataStore.
func (s *DataStore) Insert(ctx context.Context, m toolcall.Mutation) (toolcall.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := maps.Clone(m.Data)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.Target.QualifiedName()
	for _, existing := range s.tables[key] {
		if valuesEqual(existing["id"], row["id"]) {
			return nil, fmt.Errorf("duplicate key value violates unique constraint on %s.id", key)
		}
	}
	s.tables[key] = append(s.tables[key], row)
	return maps.Clone(row), nil
}

// Update implements outbound.DataStore.
func (s *DataStore) Update(ctx context.Context, m toolcall.Mutation) ([]toolcall.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []toolcall.Row
	for _, r := range s.tables[m.Target.QualifiedName()] {
		if !matches(r, m.Filters) {
			continue
		}
		maps.Copy(r, m.Data)
		updated = append(updated, maps.Clone(r))
	}
	return updated, nil
}

// Delete implements outbound.DataStore.
func (s *DataStore) Delete(ctx context.Context, m toolcall.Mutation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.Target.QualifiedName()
	rows := s.tables[key]
	kept := rows[:0]
	var removed int64
	for _, r := range rows {
		if matches(r, m.Filters) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[key] = kept
	return removed, nil
}

func matches(r toolcall.Row, filters map[string]any) bool {
	for col, want := range filters {
		if !valuesEqual(r[col], want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders nil first, then numbers, then strings, then the rest
// by their printed form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func cloneRows(rows []toolcall.Row) []toolcall.Row {
	out := make([]toolcall.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}

var _ outbound.DataStore = (*DataStore)(nil)
