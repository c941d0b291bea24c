package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

// AuditStore writes tool call records to ai_tool_calls.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts records in one transaction.
func (s *AuditStore) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ai_tool_calls
		(id, created_at, request_id, user_id, session_id, tool_name, tool_args, success,
		result, error_message, is_dry_run, duration_ms) VALUES (`+placeholders(s.db.dialect, 12)+`)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		args, err := json.Marshal(r.ToolArgs)
		if err != nil {
			return fmt.Errorf("encode tool args: %w", err)
		}
		var result sql.NullString
		if r.Result != nil {
			raw, err := json.Marshal(r.Result)
			if err != nil {
				return fmt.Errorf("encode tool result: %w", err)
			}
			result = sql.NullString{String: string(raw), Valid: true}
		}
		_, err = stmt.ExecContext(ctx, r.ID, r.Timestamp.UTC(), r.RequestID, r.UserID, r.SessionID,
			r.ToolName, string(args), r.Success, result, r.ErrorMessage, r.IsDryRun, r.DurationMs)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op; Append commits synchronously.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close is a no-op; the DB is owned by the caller.
func (s *AuditStore) Close() error { return nil }

// Query returns records matching f, newest first.
func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.ToolCallRecord, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, expr+" "+s.db.dialect.placeholder(len(args)))
	}
	if !f.StartTime.IsZero() {
		add("created_at >=", f.StartTime.UTC())
	}
	if !f.EndTime.IsZero() {
		add("created_at <=", f.EndTime.UTC())
	}
	if f.UserID != "" {
		add("user_id =", f.UserID)
	}
	if f.SessionID != "" {
		add("session_id =", f.SessionID)
	}
	if f.ToolName != "" {
		add("tool_name =", f.ToolName)
	}
	if f.Success != nil {
		add("success =", *f.Success)
	}

	query := `SELECT id, created_at, request_id, user_id, session_id, tool_name, tool_args,
		success, result, error_message, is_dry_run, duration_ms FROM ai_tool_calls`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + strconv.Itoa(f.Limit)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.ToolCallRecord
	for rows.Next() {
		var (
			r       audit.ToolCallRecord
			rawArgs string
			result  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.RequestID, &r.UserID, &r.SessionID, &r.ToolName,
			&rawArgs, &r.Success, &result, &r.ErrorMessage, &r.IsDryRun, &r.DurationMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawArgs), &r.ToolArgs); err != nil {
			return nil, fmt.Errorf("decode tool args of %s: %w", r.ID, err)
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &r.Result); err != nil {
				return nil, fmt.Errorf("decode tool result of %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ audit.AuditStore = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
