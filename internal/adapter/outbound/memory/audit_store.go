package memory

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore keeps the most recent tool call records in a ring buffer and
// optionally mirrors each record as a JSON line to a writer.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	ring    []audit.ToolCallRecord
	next    int
	full    bool
}

// NewAuditStore creates a store keeping up to capacity records
// (default 1000). A nil writer disables mirroring.
func NewAuditStore(w io.Writer, capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &AuditStore{ring: make([]audit.ToolCallRecord, capacity)}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append implements audit.AuditStore.
func (s *AuditStore) Append(_ context.Context, records ...audit.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
	}
	return nil
}

// Flush is a no-op; writes are not buffered.
func (s *AuditStore) Flush(context.Context) error { return nil }

// Close is a no-op; the writer is owned by the caller.
func (s *AuditStore) Close() error { return nil }

// Len returns the number of records held.
func (s *AuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// Recent returns up to n records, newest first.
func (s *AuditStore) Recent(n int) []audit.ToolCallRecord {
	out, _ := s.Query(context.Background(), audit.Filter{Limit: n})
	return out
}

// Query implements audit.QueryStore over the buffered records.
func (s *AuditStore) Query(_ context.Context, f audit.Filter) ([]audit.ToolCallRecord, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.ring)
	}
	var out []audit.ToolCallRecord
	for i := 0; i < size && len(out) < f.Limit; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		r := &s.ring[idx]
		if f.Matches(r) {
			out = append(out, *r)
		}
	}
	return out, nil
}

var (
	_ audit.AuditStore = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
