// Package outbound defines the ports the core uses to reach data stores,
// model providers and validation engines.
package outbound

import (
	"context"

	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
)

// DataStore executes planned operations against the governed tables.
// Filters are equality conditions joined with AND; a nil filter value
// matches NULL. Implementations must parameterize values.
type DataStore interface {
	// Select returns at most q.Limit rows.
	Select(ctx context.Context, q toolcall.SelectQuery) ([]toolcall.Row, error)
	// Insert writes m.Data and returns the stored row.
	Insert(ctx context.Context, m toolcall.Mutation) (toolcall.Row, error)
	// Update applies m.Data to rows matching m.Filters and returns them.
	Update(ctx context.Context, m toolcall.Mutation) ([]toolcall.Row, error)
	// Delete removes rows matching m.Filters and returns how many were removed.
	Delete(ctx context.Context, m toolcall.Mutation) (int64, error)
}
