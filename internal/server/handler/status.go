package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// EngineReader is the read-only view of the engine the status endpoints need.
type EngineReader interface {
	Status() domain.EngineStatus
	Stats() domain.Stats
	Portfolio(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error)
}

// StatusHandler serves engine status, session statistics, and the current
// portfolio valuation for the dashboard.
type StatusHandler struct {
	engine EngineReader
	mode   string
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given engine and run mode.
func NewStatusHandler(engine EngineReader, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{engine: engine, mode: mode, logger: logger}
}

// GetStatus responds with the engine run state and session identity.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	body := map[string]any{
		"mode":   h.mode,
		"status": h.engine.Status(),
	}
	if stats.SessionID != "" {
		body["session_id"] = stats.SessionID
		body["started_at"] = stats.StartedAt.UTC().Format(time.RFC3339)
		body["uptime_seconds"] = int64(time.Since(stats.StartedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

// GetStats responds with the full session counters.
// GET /api/stats
func (h *StatusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// portfolioResponse is the wire form of a portfolio snapshot.
type portfolioResponse struct {
	TotalUSD   float64                       `json:"total_usd"`
	Assets     []assetHolding                `json:"assets"`
	ByExchange map[string]map[string]float64 `json:"by_exchange"`
	TakenAt    time.Time                     `json:"taken_at"`
}

type assetHolding struct {
	Asset    string  `json:"asset"`
	Amount   float64 `json:"amount"`
	USDValue float64 `json:"usd_value"`
	Pct      float64 `json:"pct"`
}

// GetPortfolio responds with the current valuation. Pass ?refresh=true to
// bypass the snapshot cache.
// GET /api/portfolio
func (h *StatusHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	snap, err := h.engine.Portfolio(r.Context(), refresh)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: portfolio snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "portfolio valuation unavailable")
		return
	}

	resp := portfolioResponse{
		TotalUSD:   snap.TotalUSD,
		Assets:     make([]assetHolding, 0, len(snap.Assets)),
		ByExchange: snap.ByExchange,
		TakenAt:    snap.TakenAt,
	}
	for _, holding := range snap.Assets {
		resp.Assets = append(resp.Assets, assetHolding{
			Asset:    holding.Asset,
			Amount:   holding.Amount,
			USDValue: holding.USDValue,
			Pct:      holding.Pct,
		})
	}
	sort.Slice(resp.Assets, func(i, j int) bool {
		return resp.Assets[i].USDValue > resp.Assets[j].USDValue
	})
	writeJSON(w, http.StatusOK, resp)
}
