package handlers

import (
	"context"
	"net/http"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type HealthHandler struct {
	timeout time.Duration
	version string
	checks  map[string]CheckFunc
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		timeout: 5 * time.Second,
		version: version,
		checks:  make(map[string]CheckFunc),
	}
}

// AddCheck registers a named dependency probe.
func (h *HealthHandler) AddCheck(name string, fn CheckFunc) {
	h.checks[name] = fn
}

type HealthResponse struct {
	Status   string                   `json:"status"`
	Version  string                   `json:"version"`
	Services map[string]ServiceHealth `json:"services"`
}

type ServiceHealth struct {
	Status    string  `json:"status"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// Handle serves GET /health: per-component status with latencies, 503 when
// any component is unhealthy.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Version:  h.version,
		Services: make(map[string]ServiceHealth, len(h.checks)),
	}

	healthy := true
	for name, check := range h.checks {
		result := h.runCheck(r.Context(), check)
		response.Services[name] = result
		if result.Status != "healthy" {
			healthy = false
		}
	}

	status := http.StatusOK
	response.Status = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		response.Status = "unhealthy"
	}

	respondJSON(w, response, status)
}

func (h *HealthHandler) runCheck(ctx context.Context, check CheckFunc) ServiceHealth {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		return ServiceHealth{
			Status:    "unhealthy",
			LatencyMs: &latency,
			Error:     &errMsg,
		}
	}

	return ServiceHealth{
		Status:    "healthy",
		LatencyMs: &latency,
	}
}
