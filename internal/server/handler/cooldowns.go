package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// CooldownSource lists the currently active trade cooldowns.
type CooldownSource interface {
	Entries(ctx context.Context) ([]domain.CooldownEntry, error)
}

// CooldownsHandler serves the active cooldown entries so operators can see
// which asset and exchange pairs are temporarily blocked.
type CooldownsHandler struct {
	cooldowns CooldownSource
	logger    *slog.Logger
}

// NewCooldownsHandler creates a CooldownsHandler.
func NewCooldownsHandler(cooldowns CooldownSource, logger *slog.Logger) *CooldownsHandler {
	return &CooldownsHandler{cooldowns: cooldowns, logger: logger}
}

// cooldownEntry is the wire form; Remaining is reported in whole seconds.
type cooldownEntry struct {
	Asset            string `json:"asset"`
	Exchange         string `json:"exchange"`
	Direction        string `json:"direction"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// ListCooldowns returns all active cooldowns.
// GET /api/cooldowns
func (h *CooldownsHandler) ListCooldowns(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cooldowns.Entries(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cooldowns failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cooldowns")
		return
	}

	out := make([]cooldownEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cooldownEntry{
			Asset:            e.Asset,
			Exchange:         e.Exchange,
			Direction:        e.Direction,
			RemainingSeconds: int64(e.Remaining.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cooldowns": out})
}
