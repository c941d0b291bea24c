package admin

import (
	"errors"
	"net/http"

	"github.com/kessel-b2b/aigate/internal/domain/datasource"
)

// accessLevelRequest is the body of PATCH .../access-level.
type accessLevelRequest struct {
	AccessLevel string `json:"access_level"`
}

// enabledRequest is the body of PATCH .../enabled.
type enabledRequest struct {
	Enabled *bool `json:"is_enabled"`
}

func (h *AdminAPIHandler) handleListDatasources(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		h.policyError(w, "list", err)
		return
	}
	if policies == nil {
		policies = []datasource.AccessPolicy{}
	}
	h.respondJSON(w, http.StatusOK, policies)
}

func (h *AdminAPIHandler) handleGetDatasource(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.policyError(w, "get", err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

func (h *AdminAPIHandler) handleCreateDatasource(w http.ResponseWriter, r *http.Request) {
	var p datasource.AccessPolicy
	if err := h.readJSON(w, r, &p); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.policies.Create(r.Context(), &p, actor(r))
	if err != nil {
		h.policyError(w, "create", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

func (h *AdminAPIHandler) handleUpdateDatasource(w http.ResponseWriter, r *http.Request) {
	var p datasource.AccessPolicy
	if err := h.readJSON(w, r, &p); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.policies.Update(r.Context(), r.PathValue("id"), &p, actor(r))
	if err != nil {
		h.policyError(w, "update", err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

func (h *AdminAPIHandler) handleDeleteDatasource(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.Delete(r.Context(), r.PathValue("id"), actor(r)); err != nil {
		h.policyError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminAPIHandler) handleSetAccessLevel(w http.ResponseWriter, r *http.Request) {
	var req accessLevelRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.policies.SetAccessLevel(r.Context(), r.PathValue("id"), req.AccessLevel, actor(r))
	if err != nil {
		h.policyError(w, "set access level", err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

func (h *AdminAPIHandler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "is_enabled is required")
		return
	}
	p, err := h.policies.SetEnabled(r.Context(), r.PathValue("id"), *req.Enabled, actor(r))
	if err != nil {
		h.policyError(w, "set enabled", err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// policyError maps store and validation errors to status codes.
func (h *AdminAPIHandler) policyError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, datasource.ErrPolicyNotFound):
		h.respondError(w, http.StatusNotFound, "datasource not found")
	case errors.Is(err, datasource.ErrDuplicateResource):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, datasource.ErrInvalidPolicy), errors.Is(err, datasource.ErrInvalidAccessLevel):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("datasource operation failed", "op", op, "error", err)
		h.respondError(w, http.StatusInternalServerError, "datasource "+op+" failed")
	}
}
