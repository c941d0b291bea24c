// Package admin provides the JSON administration API: access policy CRUD and
// tool call audit queries.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
	"github.com/kessel-b2b/aigate/internal/domain/auth"
	"github.com/kessel-b2b/aigate/internal/service"
)

// maxBodySize bounds admin request bodies.
const maxBodySize = 1 << 20

// AuditReader provides read access to tool call records.
type AuditReader interface {
	Recent(n int) []audit.ToolCallRecord
	Query(ctx context.Context, f audit.Filter) ([]audit.ToolCallRecord, error)
}

// AdminAPIHandler serves /admin/api/*. Every route requires an identity
// with the admin role, set by the authentication middleware in front of it.
type AdminAPIHandler struct {
	policies    *service.PolicyAdminService
	auditReader AuditReader
	logger      *slog.Logger
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithPolicyAdminService sets the access policy service.
func WithPolicyAdminService(s *service.PolicyAdminService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.policies = s }
}

// WithAuditReader sets the audit record reader.
func WithAuditReader(r AuditReader) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditReader = r }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// NewAdminAPIHandler creates an AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the admin API handler.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/datasources", h.handleListDatasources)
	mux.HandleFunc("POST /admin/api/datasources", h.handleCreateDatasource)
	mux.HandleFunc("GET /admin/api/datasources/{id}", h.handleGetDatasource)
	mux.HandleFunc("PUT /admin/api/datasources/{id}", h.handleUpdateDatasource)
	mux.HandleFunc("DELETE /admin/api/datasources/{id}", h.handleDeleteDatasource)
	mux.HandleFunc("PATCH /admin/api/datasources/{id}/access-level", h.handleSetAccessLevel)
	mux.HandleFunc("PATCH /admin/api/datasources/{id}/enabled", h.handleSetEnabled)

	mux.HandleFunc("GET /admin/api/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /admin/api/audit/stats", h.handleAuditStats)
	mux.HandleFunc("GET /admin/api/audit/export", h.handleAuditExport)

	return h.requireAdmin(mux)
}

// requireAdmin rejects requests without an admin identity.
func (h *AdminAPIHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		if id == nil {
			h.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.IsAdmin() {
			h.logger.Warn("admin API access denied", "user_id", id.ID, "path", r.URL.Path)
			h.respondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor returns the id of the authenticated caller.
func actor(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		return id.ID
	}
	return ""
}

// --- JSON helper methods ---

func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes a bounded request body, rejecting unknown fields.
func (h *AdminAPIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
