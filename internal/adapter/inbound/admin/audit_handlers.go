package admin

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kessel-b2b/aigate/internal/domain/audit"
)

// AuditQueryResponse is the JSON response for GET /admin/api/audit.
type AuditQueryResponse struct {
	Records []audit.ToolCallRecord `json:"records"`
	Count   int                    `json:"count"`
}

func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	records, ok := h.queryAudit(w, r, 100)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, AuditQueryResponse{Records: records, Count: len(records)})
}

func (h *AdminAPIHandler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	records, ok := h.queryAudit(w, r, 1000)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, audit.Aggregate(records))
}

func (h *AdminAPIHandler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	records, ok := h.queryAudit(w, r, 1000)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=tool-calls.csv")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	defer cw.Flush()
	_ = cw.Write([]string{
		"created_at", "id", "request_id", "user_id", "session_id", "tool_name",
		"success", "is_dry_run", "duration_ms", "error_message",
	})
	for _, rec := range records {
		_ = cw.Write([]string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.ID,
			rec.RequestID,
			rec.UserID,
			rec.SessionID,
			rec.ToolName,
			strconv.FormatBool(rec.Success),
			strconv.FormatBool(rec.IsDryRun),
			strconv.FormatInt(rec.DurationMs, 10),
			rec.ErrorMessage,
		})
	}
}

// queryAudit parses the filter and runs the query, writing an error
// response on failure. defaultLimit applies when no limit is given.
func (h *AdminAPIHandler) queryAudit(w http.ResponseWriter, r *http.Request, defaultLimit int) ([]audit.ToolCallRecord, bool) {
	if h.auditReader == nil {
		h.respondError(w, http.StatusServiceUnavailable, "audit reader not configured")
		return nil, false
	}
	filter, err := parseAuditFilter(r, time.Now().UTC())
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if filter.Limit == 0 {
		filter.Limit = defaultLimit
	}
	records, err := h.auditReader.Query(r.Context(), filter)
	if err != nil {
		if errors.Is(err, audit.ErrDateRangeExceeded) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return nil, false
	}
	if records == nil {
		records = []audit.ToolCallRecord{}
	}
	return records, true
}

// parseAuditFilter reads user, tool, session, success, start, end and
// limit. The time range defaults to the last 24 hours.
func parseAuditFilter(r *http.Request, now time.Time) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:    q.Get("user"),
		ToolName:  q.Get("tool"),
		SessionID: q.Get("session"),
		StartTime: now.Add(-24 * time.Hour),
		EndTime:   now,
	}
	if s := q.Get("success"); s != "" {
		ok, err := strconv.ParseBool(s)
		if err != nil {
			return f, fmt.Errorf("invalid success filter: must be true or false")
		}
		f.Success = &ok
	}
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid start time: %w", err)
		}
		f.StartTime = t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("invalid end time: %w", err)
		}
		f.EndTime = t
	}
	if f.EndTime.Before(f.StartTime) {
		return f, fmt.Errorf("end time is before start time")
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return f, fmt.Errorf("invalid limit: must be a positive integer")
		}
		f.Limit = min(limit, 1000)
	}
	return f, nil
}
