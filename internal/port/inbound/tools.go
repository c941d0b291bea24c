// Package inbound defines the interfaces inbound adapters (HTTP, MCP, CLI)
// call into the core.
package inbound

import (
	"context"

	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
)

// ToolExecutor runs one tool call end to end. It never returns an error;
// every failure is reported in the Result.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any, tc toolcall.Context) toolcall.Result
}

// ToolCatalog returns the tool definitions for the current policy set.
type ToolCatalog interface {
	Tools(ctx context.Context) (toolschema.Set, error)
}
