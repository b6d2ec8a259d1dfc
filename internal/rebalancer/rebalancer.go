// Package rebalancer trims asset inventory back to configured portfolio
// shares with single-sided market sells.
package rebalancer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// PortfolioSource supplies the valuation a cycle trims against.
type PortfolioSource interface {
	Snapshot(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error)
}

// Config holds the inventory targets and venue constraints.
type Config struct {
	Exchanges             []string
	TargetsPct            map[string]float64 // asset share of portfolio, 0..100
	DefaultMaxPct         float64            // ceiling for assets without an explicit target
	ThresholdPct          float64            // deviation required before a trim
	QuoteCurrency         string
	MinNotionalUSD        map[string]float64 // per-venue order floor
	LeftoverWarnThreshold float64            // base amount below which leftover is dust
}

// Rebalancer sells surplus inventory down to target. Sells are single-sided:
// proceeds land in the quote currency, so a failed or partial trim needs no
// compensation and is picked up again on the next cycle.
type Rebalancer struct {
	cfg    Config
	market domain.MarketDataGateway
	orders domain.OrderGateway
	source PortfolioSource
	logger *slog.Logger
}

func New(cfg Config, market domain.MarketDataGateway, orders domain.OrderGateway, source PortfolioSource, logger *slog.Logger) *Rebalancer {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.LeftoverWarnThreshold <= 0 {
		cfg.LeftoverWarnThreshold = 0.00001
	}
	return &Rebalancer{
		cfg:    cfg,
		market: market,
		orders: orders,
		source: source,
		logger: logger.With(slog.String("component", "rebalancer")),
	}
}

// RunCycle inspects current inventory and trims every asset whose share
// exceeds its target by more than the threshold. Per-asset and per-venue
// failures are logged and skipped; they never abort the cycle. Returns the
// number of sell orders placed.
func (r *Rebalancer) RunCycle(ctx context.Context) (int, error) {
	snap, err := r.source.Snapshot(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("rebalancer: portfolio snapshot: %w", err)
	}
	if snap.TotalUSD <= 0 {
		return 0, nil
	}

	placed := 0
	for _, asset := range sortedAssets(snap) {
		if err := ctx.Err(); err != nil {
			return placed, err
		}
		if asset == r.cfg.QuoteCurrency {
			continue
		}
		holding := snap.Assets[asset]
		target, ok := r.targetFor(asset)
		if !ok {
			continue
		}
		if holding.Pct-target <= r.cfg.ThresholdPct {
			continue
		}
		surplusUSD := holding.USDValue - snap.TotalUSD*target/100
		placed += r.trim(ctx, asset, surplusUSD, target, holding.Pct)
	}
	return placed, nil
}

func (r *Rebalancer) targetFor(asset string) (float64, bool) {
	if t, ok := r.cfg.TargetsPct[asset]; ok {
		return t, true
	}
	if r.cfg.DefaultMaxPct > 0 {
		return r.cfg.DefaultMaxPct, true
	}
	return 0, false
}

// trim sells surplusUSD worth of asset across the configured venues,
// bounded by each venue's free balance and minimum notional.
func (r *Rebalancer) trim(ctx context.Context, asset string, surplusUSD, targetPct, currentPct float64) int {
	symbol := asset + "/" + r.cfg.QuoteCurrency
	price, ok := r.priceFor(ctx, symbol)
	if !ok {
		r.logger.WarnContext(ctx, "rebalancer: no price available, skipping asset",
			slog.String("asset", asset),
		)
		return 0
	}

	remaining := surplusUSD / price
	r.logger.InfoContext(ctx, "rebalancer: trimming surplus inventory",
		slog.String("asset", asset),
		slog.Float64("current_pct", currentPct),
		slog.Float64("target_pct", targetPct),
		slog.Float64("surplus_usd", surplusUSD),
		slog.Float64("sell_amount", remaining),
	)

	placed := 0
	for _, exchange := range r.cfg.Exchanges {
		if remaining <= 0 {
			break
		}
		bal, err := r.market.FetchBalance(ctx, exchange, true)
		if err != nil {
			r.logger.WarnContext(ctx, "rebalancer: balance fetch failed",
				slog.String("exchange", exchange),
				slog.String("error", err.Error()),
			)
			continue
		}
		free := bal.FreeOf(asset)
		if free <= 0 {
			continue
		}
		amount := math.Min(free, remaining)
		if amount*price < r.minNotional(exchange) {
			r.logger.DebugContext(ctx, "rebalancer: below venue minimum notional",
				slog.String("exchange", exchange),
				slog.Float64("amount", amount),
			)
			continue
		}
		if _, err := r.orders.PlaceOrder(ctx, exchange, symbol,
			domain.OrderSideSell, domain.OrderTypeMarket, amount, price); err != nil {
			r.logger.WarnContext(ctx, "rebalancer: sell failed",
				slog.String("exchange", exchange),
				slog.Float64("amount", amount),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.InfoContext(ctx, "rebalancer: sold surplus",
			slog.String("exchange", exchange),
			slog.String("symbol", symbol),
			slog.Float64("amount", amount),
		)
		remaining -= amount
		placed++
	}

	if remaining > r.cfg.LeftoverWarnThreshold {
		r.logger.WarnContext(ctx, "rebalancer: surplus left untrimmed",
			slog.String("asset", asset),
			slog.Float64("leftover", remaining),
		)
	}
	return placed
}

// priceFor returns the first venue mid price that resolves for symbol.
func (r *Rebalancer) priceFor(ctx context.Context, symbol string) (float64, bool) {
	for _, exchange := range r.cfg.Exchanges {
		t, err := r.market.FetchTicker(ctx, exchange, symbol)
		if err != nil || t.MidPrice <= 0 {
			continue
		}
		return t.MidPrice, true
	}
	return 0, false
}

func (r *Rebalancer) minNotional(exchange string) float64 {
	return r.cfg.MinNotionalUSD[exchange]
}

func sortedAssets(snap domain.PortfolioSnapshot) []string {
	assets := make([]string, 0, len(snap.Assets))
	for asset := range snap.Assets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}
