package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout bounds each dependency check so one hung backend cannot stall
// the whole health response.
const probeTimeout = 2 * time.Second

// Probe checks a single backing dependency (Redis, Postgres, object storage).
type Probe func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, running a probe per wired
// dependency.
type HealthHandler struct {
	logger *slog.Logger
	probes map[string]Probe
}

// NewHealthHandler creates a HealthHandler. probes may be nil or empty when
// the process runs without backing services.
func NewHealthHandler(logger *slog.Logger, probes map[string]Probe) *HealthHandler {
	return &HealthHandler{logger: logger, probes: probes}
}

// HealthCheck responds with the server's status and the result of each
// dependency probe. Any failing probe degrades the response to 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(h.probes))

	for name, probe := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := probe(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			h.logger.WarnContext(r.Context(), "handler: health probe failed",
				slog.String("probe", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, httpStatus, body)
}
