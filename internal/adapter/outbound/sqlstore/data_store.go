package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// DataStore runs planned tool calls against governed tables.
type DataStore struct {
	db *DB
}

// NewDataStore creates a DataStore.
func NewDataStore(db *DB) *DataStore {
	return &DataStore{db: db}
}

// Select implements outbound.DataStore.
func (s *DataStore) Select(ctx context.Context, q toolcall.SelectQuery) ([]toolcall.Row, error) {
	query, args, err := buildSelect(s.db.dialect, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", q.Target.QualifiedName(), err)
	}
	return scanRows(rows)
}

// Insert implements outbound.DataStore.
func (s *DataStore) Insert(ctx context.Context, m toolcall.Mutation) (toolcall.Row, error) {
	query, args, err := buildInsert(s.db.dialect, m)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", m.Target.QualifiedName(), err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return toolcall.Row{}, nil
	}
	return out[0], nil
}

// Update implements outbound.DataStore.
func (s *DataStore) Update(ctx context.Context, m toolcall.Mutation) ([]toolcall.Row, error) {
	query, args, err := buildUpdate(s.db.dialect, m)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", m.Target.QualifiedName(), err)
	}
	return scanRows(rows)
}

// Delete implements outbound.DataStore.
func (s *DataStore) Delete(ctx context.Context, m toolcall.Mutation) (int64, error) {
	query, args, err := buildDelete(s.db.dialect, m)
	if err != nil {
		return 0, err
	}
	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", m.Target.QualifiedName(), err)
	}
	return res.RowsAffected()
}

// scanRows reads every row into a column map and closes rows.
func scanRows(rows *sql.Rows) ([]toolcall.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []toolcall.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(toolcall.Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}

var _ outbound.DataStore = (*DataStore)(nil)
