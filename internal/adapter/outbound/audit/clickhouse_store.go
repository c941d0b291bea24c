package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

const clickhouseSchema = `CREATE TABLE IF NOT EXISTS ai_tool_calls (
	id String,
	created_at DateTime64(3, 'UTC'),
	request_id String,
	user_id String,
	session_id String,
	tool_name LowCardinality(String),
	tool_args String,
	success UInt8,
	result String,
	error_message String,
	is_dry_run UInt8,
	duration_ms Int64
) ENGINE = MergeTree
ORDER BY (tool_name, created_at)
TTL toDateTime(created_at) + INTERVAL 90 DAY`

const clickhouseInsert = `INSERT INTO ai_tool_calls (
	id, created_at, request_id, user_id, session_id, tool_name, tool_args,
	success, result, error_message, is_dry_run, duration_ms
)`

// ClickHouseStore sends tool call records to ClickHouse in batches. Batching
// across calls is left to service.AuditService; each Append is one insert.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouseStore connects to dsn and creates the table when missing.
func NewClickHouseStore(ctx context.Context, dsn string, logger *slog.Logger) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, clickhouseSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create clickhouse table: %w", err)
	}
	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

// Append inserts records as one batch.
func (s *ClickHouseStore) Append(ctx context.Context, records ...audit.ToolCallRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, clickhouseInsert)
	if err != nil {
		return fmt.Errorf("clickhouse prepare batch: %w", err)
	}
	for _, r := range records {
		if err := batch.Append(clickhouseRow(r)...); err != nil {
			s.logger.Error("clickhouse append record failed", "id", r.ID, "error", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse batch send (%d records): %w", len(records), err)
	}
	return nil
}

// Flush is a no-op; Append sends synchronously.
func (s *ClickHouseStore) Flush(context.Context) error { return nil }

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// clickhouseRow maps a record to the column order of clickhouseInsert.
func clickhouseRow(r audit.ToolCallRecord) []any {
	args, err := json.Marshal(r.ToolArgs)
	if err != nil {
		args = []byte("{}")
	}
	var result []byte
	if r.Result != nil {
		if result, err = json.Marshal(r.Result); err != nil {
			result = nil
		}
	}
	return []any{
		r.ID,
		r.Timestamp.UTC(),
		r.RequestID,
		r.UserID,
		r.SessionID,
		r.ToolName,
		string(args),
		boolToUInt8(r.Success),
		string(result),
		r.ErrorMessage,
		boolToUInt8(r.IsDryRun),
		r.DurationMs,
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var _ audit.AuditStore = (*ClickHouseStore)(nil)
