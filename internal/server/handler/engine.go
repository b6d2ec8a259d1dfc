package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// EngineController is the control surface for starting and stopping sessions.
type EngineController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() domain.EngineStatus
	Stats() domain.Stats
}

// EngineHandler serves the engine control endpoints.
type EngineHandler struct {
	engine EngineController
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine EngineController, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logger}
}

// StartEngine launches a new trading session. The session outlives the
// request, so it runs on a context detached from the request's cancellation.
// POST /api/engine/start
func (h *EngineHandler) StartEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "a session is already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: engine start failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start engine")
		return
	}

	stats := h.engine.Stats()
	h.logger.InfoContext(r.Context(), "handler: session started via API",
		slog.String("session_id", stats.SessionID),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     h.engine.Status(),
		"session_id": stats.SessionID,
	})
}

// StopEngine requests a graceful stop and waits for the session to finish.
// POST /api/engine/stop
func (h *EngineHandler) StopEngine(w http.ResponseWriter, r *http.Request) {
	if h.engine.Status() != domain.StatusRunning {
		writeError(w, http.StatusConflict, "no session is running")
		return
	}

	if err := h.engine.Stop(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: engine stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop engine")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: session stopped via API")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": h.engine.Status(),
	})
}
