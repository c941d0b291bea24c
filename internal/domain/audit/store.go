package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when the query date range exceeds the maximum allowed.
var ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")

// MaxQueryRange bounds EndTime - StartTime in a Filter.
const MaxQueryRange = 7 * 24 * time.Hour

// AuditStore persists tool call records.
type AuditStore interface {
	// Append stores records.
	Append(ctx context.Context, records ...ToolCallRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	// StartTime and EndTime bound the time range. Zero values mean unbounded.
	StartTime time.Time
	EndTime   time.Time
	UserID    string
	SessionID string
	ToolName  string
	// Success filters by outcome when non-nil.
	Success *bool
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// Normalize applies the limit defaults and checks the time range.
func (f *Filter) Normalize() error {
	switch {
	case f.Limit <= 0:
		f.Limit = 100
	case f.Limit > 1000:
		f.Limit = 1000
	}
	if !f.StartTime.IsZero() && !f.EndTime.IsZero() && f.EndTime.Sub(f.StartTime) > MaxQueryRange {
		return ErrDateRangeExceeded
	}
	return nil
}

// Matches reports whether r satisfies every set field of the filter.
func (f *Filter) Matches(r *ToolCallRecord) bool {
	if !f.StartTime.IsZero() && r.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.Timestamp.After(f.EndTime) {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	return true
}

// ToolCallStats contains per-tool audit statistics.
type ToolCallStats struct {
	Calls     int64 `json:"calls"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	DryRuns   int64 `json:"dry_runs"`
}

// Stats contains aggregated audit statistics for a time period.
type Stats struct {
	TotalCalls     int64                    `json:"total_calls"`
	UniqueUsers    int64                    `json:"unique_users"`
	UniqueSessions int64                    `json:"unique_sessions"`
	ByTool         map[string]ToolCallStats `json:"by_tool"`
}

// Aggregate computes Stats over records.
func Aggregate(records []ToolCallRecord) *Stats {
	stats := &Stats{ByTool: make(map[string]ToolCallStats)}
	users := make(map[string]struct{})
	sessions := make(map[string]struct{})
	for i := range records {
		r := &records[i]
		stats.TotalCalls++
		users[r.UserID] = struct{}{}
		sessions[r.SessionID] = struct{}{}
		ts := stats.ByTool[r.ToolName]
		ts.Calls++
		if r.Success {
			ts.Succeeded++
		} else {
			ts.Failed++
		}
		if r.IsDryRun {
			ts.DryRuns++
		}
		stats.ByTool[r.ToolName] = ts
	}
	stats.UniqueUsers = int64(len(users))
	stats.UniqueSessions = int64(len(sessions))
	return stats
}

// QueryStore provides read access to audit logs for admin queries.
type QueryStore interface {
	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]ToolCallRecord, error)
}

// Tee fans every call out to all stores. Append and Flush continue past
// failures and return the joined errors.
func Tee(stores ...AuditStore) AuditStore {
	return tee(stores)
}

type tee []AuditStore

func (t tee) Append(ctx context.Context, records ...ToolCallRecord) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(ctx, records...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
