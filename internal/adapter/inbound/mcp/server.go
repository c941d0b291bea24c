// Package mcp exposes the generated data tools over the Model Context
// Protocol (streamable HTTP). Every session sees the tool set derived from
// the policies current at connect time, and every call goes through the
// same executor as the REST and chat surfaces.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/inbound"
)

// ServerName is the implementation name reported during initialization.
const ServerName = "aigate"

// Handler builds MCP servers on demand.
type Handler struct {
	tools    inbound.ToolCatalog
	executor inbound.ToolExecutor
	logger   *slog.Logger

	version       string
	dryRunDefault bool
}

// Option configures Handler.
type Option func(*Handler)

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithDryRunDefault makes every MCP tool call a dry run unless the
// arguments contain "dryRun": false.
func WithDryRunDefault(dryRun bool) Option {
	return func(h *Handler) { h.dryRunDefault = dryRun }
}

// NewHandler creates a Handler.
func NewHandler(tools inbound.ToolCatalog, executor inbound.ToolExecutor, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		tools:    tools,
		executor: executor,
		logger:   logger,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewServer returns an MCP server carrying the current tool set. Calls run
// as id, which may be nil for unauthenticated local use.
func (h *Handler) NewServer(ctx context.Context, id *auth.Identity) (*gomcp.Server, error) {
	set, err := h.tools.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}

	srv := gomcp.NewServer(&gomcp.Implementation{Name: ServerName, Version: h.version}, nil)
	sessionID := uuid.NewString()
	for _, def := range set.Sorted() {
		srv.AddTool(toMCPTool(def), h.callHandler(def.Name, sessionID, id))
	}
	h.logger.Debug("mcp server created", "session_id", sessionID, "tools", len(set))
	return srv, nil
}

// HTTPHandler serves the streamable HTTP transport. The server is built per
// request so a policy change is visible on the next call. The caller's
// identity is read from the request context.
func (h *Handler) HTTPHandler() http.Handler {
	return gomcp.NewStreamableHTTPHandler(func(r *http.Request) *gomcp.Server {
		srv, err := h.NewServer(r.Context(), auth.IdentityFromContext(r.Context()))
		if err != nil {
			h.logger.Error("failed to build mcp server", "error", err)
			return nil
		}
		return srv
	}, &gomcp.StreamableHTTPOptions{Stateless: true})
}

func (h *Handler) callHandler(name, sessionID string, id *auth.Identity) gomcp.ToolHandler {
	return func(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, err := toolcall.ParseArgs(string(req.Params.Arguments))
		if err != nil {
			return resultContent(toolcall.Failure(err)), nil
		}

		tc := toolcall.Context{
			SessionID: sessionID,
			RequestID: uuid.NewString(),
			DryRun:    h.dryRunDefault,
		}
		if id != nil {
			tc.UserID = id.ID
		}
		if v, ok := args["dryRun"].(bool); ok {
			tc.DryRun = v
			delete(args, "dryRun")
		}
		return resultContent(h.executor.Execute(ctx, name, args, tc)), nil
	}
}

func toMCPTool(def toolschema.ToolDefinition) *gomcp.Tool {
	return &gomcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: withDryRunProperty(def.Parameters),
	}
}

// withDryRunProperty adds the optional dryRun switch to a copy of the schema.
func withDryRunProperty(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	props := map[string]any{}
	if existing, ok := schema["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["dryRun"] = map[string]any{
		"type":        "boolean",
		"description": "Render the statement without executing it",
	}
	out["properties"] = props
	return out
}

func resultContent(res toolcall.Result) *gomcp.CallToolResult {
	body, err := json.Marshal(res)
	if err != nil {
		body = []byte(`{"success":false,"error":"result could not be encoded"}`)
	}
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: string(body)}},
		IsError: !res.Success,
	}
}
