package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/inbound"
)

// ToolRegistry generates the tool surface from the policy store on every
// call. It keeps no cache, so a policy change is visible to the next request.
type ToolRegistry struct {
	policies datasource.Reader
	logger   *slog.Logger
}

// NewToolRegistry creates a ToolRegistry.
func NewToolRegistry(policies datasource.Reader, logger *slog.Logger) *ToolRegistry {
	return &ToolRegistry{policies: policies, logger: logger}
}

// Tools returns the tool set for the enabled policies. Malformed policy
// rows are logged and left out.
func (r *ToolRegistry) Tools(ctx context.Context) (toolschema.Set, error) {
	policies, err := r.policies.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled policies: %w", err)
	}
	set, skipped := toolschema.Generate(policies)
	for _, s := range skipped {
		r.logger.Warn("skipping malformed access policy", "resource", s.ResourceID, "error", s.Err)
	}
	return set, nil
}

var _ inbound.ToolCatalog = (*ToolRegistry)(nil)
