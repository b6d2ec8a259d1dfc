package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// TradeHistory defines the methods the trades handler requires from the
// trade store.
type TradeHistory interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
	ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.TradeRecord, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// TradesHandler serves persisted trade history.
type TradesHandler struct {
	trades TradeHistory
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler with the given store and logger.
func NewTradesHandler(trades TradeHistory, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{trades: trades, logger: logger}
}

// listTradesResponse wraps the trade listing response.
type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns recorded trades, newest first, optionally scoped to a
// session or time range.
// GET /api/trades?session_id=...&since=...&until=...&limit=50&offset=0
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	sessionID := r.URL.Query().Get("session_id")

	var (
		recs []domain.TradeRecord
		err  error
	)
	if sessionID != "" {
		recs, err = h.trades.ListBySession(r.Context(), sessionID, opts)
	} else {
		recs, err = h.trades.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: recs})
}

// GetProfit returns the summed net profit since the given time, defaulting
// to the last 24 hours.
// GET /api/trades/profit?since=2026-08-24T00:00:00Z
func (h *TradesHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if t, ok := parseTimeParam(r.URL.Query().Get("since")); ok {
		since = t
	}

	total, err := h.trades.SumProfit(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sum profit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to sum profit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":          since.Format(time.RFC3339),
		"net_profit_usd": total,
	})
}
