package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

const policyColumns = `id, table_schema, table_name, display_name, description, access_level,
	is_enabled, allowed_columns, excluded_columns, max_rows_per_query, guard, created_by,
	created_at, updated_at`

// errMalformedRow marks a row whose stored column lists cannot be decoded.
var errMalformedRow = errors.New("malformed access policy row")

// PolicyStore implements datasource.Store on the ai_datasources table.
type PolicyStore struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// NewPolicyStore creates a PolicyStore.
func NewPolicyStore(db *DB, logger *slog.Logger) *PolicyStore {
	return &PolicyStore{db: db, logger: logger, now: time.Now}
}

// ListEnabled returns enabled policies ordered by table name. Rows that
// cannot be decoded are logged and left out; GetByResource still fails for
// them.
func (s *PolicyStore) ListEnabled(ctx context.Context) ([]datasource.AccessPolicy, error) {
	return s.list(ctx, "WHERE is_enabled = "+s.db.dialect.placeholder(1), true)
}

// List returns every policy ordered by table name.
func (s *PolicyStore) List(ctx context.Context) ([]datasource.AccessPolicy, error) {
	return s.list(ctx, "")
}

func (s *PolicyStore) list(ctx context.Context, where string, args ...any) ([]datasource.AccessPolicy, error) {
	rows, err := s.db.db.QueryContext(ctx,
		"SELECT "+policyColumns+" FROM ai_datasources "+where+" ORDER BY table_name, table_schema", args...)
	if err != nil {
		return nil, fmt.Errorf("list access policies: %w", err)
	}
	defer rows.Close()

	var out []datasource.AccessPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if errors.Is(err, errMalformedRow) {
			s.logger.Warn("skipping unreadable access policy row", "table", p.Table, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetByResource returns the policy whose lower-cased table name is resourceID.
func (s *PolicyStore) GetByResource(ctx context.Context, resourceID string) (*datasource.AccessPolicy, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM ai_datasources WHERE LOWER(table_name) = "+s.db.dialect.placeholder(1),
		strings.ToLower(resourceID))
	return s.one(row)
}

// Get returns a policy by ID.
func (s *PolicyStore) Get(ctx context.Context, id string) (*datasource.AccessPolicy, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM ai_datasources WHERE id = "+s.db.dialect.placeholder(1), id)
	return s.one(row)
}

func (s *PolicyStore) one(row *sql.Row) (*datasource.AccessPolicy, error) {
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, datasource.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save inserts or updates p. A second policy for the same resource is
// rejected with ErrDuplicateResource.
func (s *PolicyStore) Save(ctx context.Context, p *datasource.AccessPolicy) error {
	ph := s.db.dialect.placeholder
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var other string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM ai_datasources WHERE LOWER(table_name) = "+ph(1)+" AND id <> "+ph(2),
		p.ResourceID(), p.ID).Scan(&other)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", datasource.ErrDuplicateResource, p.ResourceID())
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check duplicate resource: %w", err)
	}

	allowed, err := json.Marshal(nonNil(p.AllowedColumns))
	if err != nil {
		return err
	}
	excluded, err := json.Marshal(nonNil(p.ExcludedColumns))
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	res, err := tx.ExecContext(ctx, `UPDATE ai_datasources SET
		table_schema = `+ph(1)+`, table_name = `+ph(2)+`, display_name = `+ph(3)+`, description = `+ph(4)+`,
		access_level = `+ph(5)+`, is_enabled = `+ph(6)+`, allowed_columns = `+ph(7)+`, excluded_columns = `+ph(8)+`,
		max_rows_per_query = `+ph(9)+`, guard = `+ph(10)+`, updated_at = `+ph(11)+`
		WHERE id = `+ph(12),
		p.Schema, p.Table, p.DisplayName, p.Description, string(p.AccessLevel), p.Enabled,
		string(allowed), string(excluded), p.MaxRowsPerQuery, p.Guard, now, p.ID)
	if err != nil {
		return fmt.Errorf("update access policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := tx.QueryRowContext(ctx, "SELECT created_at FROM ai_datasources WHERE id = "+ph(1), p.ID).Scan(&p.CreatedAt); err != nil {
			return fmt.Errorf("read access policy: %w", err)
		}
	} else {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO ai_datasources ("+policyColumns+") VALUES ("+
			placeholders(s.db.dialect, 14)+")",
			p.ID, p.Schema, p.Table, p.DisplayName, p.Description, string(p.AccessLevel), p.Enabled,
			string(allowed), string(excluded), p.MaxRowsPerQuery, p.Guard, p.CreatedBy, p.CreatedAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("insert access policy: %w", err)
		}
	}
	p.UpdatedAt = now
	return tx.Commit()
}

// Delete removes a policy by ID.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx, "DELETE FROM ai_datasources WHERE id = "+s.db.dialect.placeholder(1), id)
	if err != nil {
		return fmt.Errorf("delete access policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return datasource.ErrPolicyNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(sc scanner) (*datasource.AccessPolicy, error) {
	var (
		p                 datasource.AccessPolicy
		level             string
		allowed, excluded string
	)
	err := sc.Scan(&p.ID, &p.Schema, &p.Table, &p.DisplayName, &p.Description, &level,
		&p.Enabled, &allowed, &excluded, &p.MaxRowsPerQuery, &p.Guard, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	// Unknown levels are kept as-is; the generator skips such rows.
	p.AccessLevel = datasource.AccessLevel(level)
	if err := json.Unmarshal([]byte(allowed), &p.AllowedColumns); err != nil {
		return &p, fmt.Errorf("%w: decode allowed_columns of %s: %v", errMalformedRow, p.Table, err)
	}
	if err := json.Unmarshal([]byte(excluded), &p.ExcludedColumns); err != nil {
		return &p, fmt.Errorf("%w: decode excluded_columns of %s: %v", errMalformedRow, p.Table, err)
	}
	return &p, nil
}

func placeholders(d Dialect, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ datasource.Store = (*PolicyStore)(nil)
