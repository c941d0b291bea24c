package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/domain/router"
	"github.com/kessel-b2b/aigate/internal/domain/toolcall"
	"github.com/kessel-b2b/aigate/internal/domain/toolschema"
	"github.com/kessel-b2b/aigate/internal/port/inbound"
	"github.com/kessel-b2b/aigate/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// Chat response headers.
const (
	HeaderModelUsed    = "X-Model-Used"
	HeaderRouterReason = "X-Router-Reason"
	HeaderToolsEnabled = "X-Tools-Enabled"
)

// APIHandler serves the /v1 endpoints.
type APIHandler struct {
	chat          *service.ChatService
	tools         inbound.ToolCatalog
	executor      inbound.ToolExecutor
	metrics       *Metrics
	dryRunDefault bool
}

// NewAPIHandler creates an APIHandler. metrics may be nil.
func NewAPIHandler(chat *service.ChatService, tools inbound.ToolCatalog, executor inbound.ToolExecutor, metrics *Metrics, dryRunDefault bool) *APIHandler {
	return &APIHandler{
		chat:          chat,
		tools:         tools,
		executor:      executor,
		metrics:       metrics,
		dryRunDefault: dryRunDefault,
	}
}

type routeRequest struct {
	Messages []router.Message `json:"messages"`
}

type toolsResponse struct {
	Tools []toolschema.ToolDefinition `json:"tools"`
	Count int                         `json:"count"`
}

type toolCallRequest struct {
	Args      map[string]any `json:"args"`
	DryRun    *bool          `json:"dryRun,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

func (h *APIHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	var req service.ChatRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "No messages provided")
		return
	}
	if !h.chat.ModelConfigured() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "AI service is not configured",
			"code":  "AI_SERVICE_NOT_CONFIGURED",
		})
		return
	}
	if id := auth.IdentityFromContext(ctx); id != nil {
		req.UserID = id.ID
	}
	req.RequestID = RequestIDFromContext(ctx)

	plan, err := h.chat.Prepare(ctx, req)
	if err != nil {
		logger.Error("chat preparation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat preparation failed")
		return
	}
	setChatHeaders(w, plan.Metadata)
	logger.Info("chat request routed",
		"session_id", plan.SessionID,
		"model", plan.Model,
		"router_reason", plan.Metadata.RouterReason,
		"tools", len(plan.Tools),
		"dry_run", plan.DryRun,
	)

	if wantsEventStream(r) {
		h.streamChat(w, r, req, plan)
		return
	}

	resp, err := h.chat.Execute(ctx, req, plan, nil)
	if err != nil {
		logger.Error("chat execution failed", "session_id", plan.SessionID, "error", err)
		writeError(w, http.StatusBadGateway, "model request failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) streamChat(w http.ResponseWriter, r *http.Request, req service.ChatRequest, plan *service.ChatPlan) {
	logger := LoggerFromContext(r.Context())
	sse := newSSEWriter(w)

	emit := func(ev service.ToolEvent) {
		if err := sse.Event("tool", ev); err != nil {
			logger.Debug("sse write failed", "error", err)
		}
	}
	resp, err := h.chat.Execute(r.Context(), req, plan, emit)
	if err != nil {
		logger.Error("chat execution failed", "session_id", plan.SessionID, "error", err)
		_ = sse.Event("error", map[string]string{"error": "model request failed"})
		return
	}
	_ = sse.Event("message", resp)
}

func (h *APIHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "No messages provided")
		return
	}
	writeJSON(w, http.StatusOK, h.chat.Route(req.Messages))
}

// handleListTools returns the current tool set. The ETag is a hash of the
// response body, so it changes exactly when the generated tools change.
func (h *APIHandler) handleListTools(w http.ResponseWriter, r *http.Request) {
	set, err := h.tools.Tools(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("tool generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "tool generation failed")
		return
	}
	defs := set.Sorted()
	if defs == nil {
		defs = []toolschema.ToolDefinition{}
	}
	if h.metrics != nil {
		h.metrics.ToolsGenerated.Set(float64(len(defs)))
	}

	body, err := json.Marshal(toolsResponse{Tools: defs, Count: len(defs)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tool encoding failed")
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleCallTool executes one tool outside a chat. The result object is
// returned with 200 whether or not the call succeeded.
func (h *APIHandler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req toolCallRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	tc := toolcall.Context{
		SessionID: req.SessionID,
		RequestID: RequestIDFromContext(ctx),
		DryRun:    h.dryRunDefault,
	}
	if tc.SessionID == "" {
		tc.SessionID = uuid.NewString()
	}
	if req.DryRun != nil {
		tc.DryRun = *req.DryRun
	}
	if id := auth.IdentityFromContext(ctx); id != nil {
		tc.UserID = id.ID
	}
	writeJSON(w, http.StatusOK, h.executor.Execute(ctx, r.PathValue("name"), req.Args, tc))
}

func setChatHeaders(w http.ResponseWriter, m service.ChatMetadata) {
	w.Header().Set(HeaderModelUsed, headerValue(m.Model))
	w.Header().Set(HeaderRouterReason, headerValue(m.RouterReason))
	w.Header().Set(HeaderToolsEnabled, strconv.FormatBool(m.ToolsEnabled))
}

// headerValue escapes non-ASCII and control characters, which router
// reasons can contain when they echo a matched keyword.
func headerValue(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			q := strconv.QuoteToASCII(s)
			return q[1 : len(q)-1]
		}
	}
	return s
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
