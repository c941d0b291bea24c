package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/kessel-b2b/aigate/internal/adapter/outbound/memory"
	"github.com/kessel-b2b/aigate/internal/domain/datasource"
	"github.com/kessel-b2b/aigate/internal/service"
)

// storeCheckTimeout bounds the policy store probe.
const storeCheckTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health. Nil components are reported as
// not configured.
type HealthChecker struct {
	policies     datasource.Reader
	rateLimiter  *memory.RateLimiter
	auditService *service.AuditService
	version      string
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(
	policies datasource.Reader,
	rateLimiter *memory.RateLimiter,
	auditService *service.AuditService,
	version string,
) *HealthChecker {
	return &HealthChecker{
		policies:     policies,
		rateLimiter:  rateLimiter,
		auditService: auditService,
		version:      version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.policies != nil {
		cctx, cancel := context.WithTimeout(ctx, storeCheckTimeout)
		policies, err := h.policies.ListEnabled(cctx)
		cancel()
		if err != nil {
			checks["policy_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["policy_store"] = fmt.Sprintf("ok: %d enabled", len(policies))
		}
	} else {
		checks["policy_store"] = "not configured"
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.auditService != nil {
		depth := h.auditService.Depth()
		capacity := h.auditService.Capacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.auditService.Dropped(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
