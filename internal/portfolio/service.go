// Package portfolio values balances across all venues into one snapshot.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/risk"
)

// Config holds the venues to aggregate and the cache policy.
type Config struct {
	Exchanges     []string
	QuoteCurrency string
	CacheTTL      time.Duration
}

// Service aggregates per-venue balances, prices them in the quote currency,
// and caches the result for CacheTTL.
type Service struct {
	cfg    Config
	market domain.MarketDataGateway
	logger *slog.Logger

	mu   sync.Mutex
	snap domain.PortfolioSnapshot
	now  func() time.Time
}

var _ risk.PortfolioSource = (*Service)(nil)

func New(cfg Config, market domain.MarketDataGateway, logger *slog.Logger) *Service {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Service{
		cfg:    cfg,
		market: market,
		logger: logger.With(slog.String("component", "portfolio")),
		now:    time.Now,
	}
}

// Snapshot returns the cached valuation when it is fresh, otherwise fetches
// and revalues. forceRefresh bypasses the cache entirely.
func (s *Service) Snapshot(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error) {
	if !forceRefresh {
		s.mu.Lock()
		cached := s.snap
		s.mu.Unlock()
		if !cached.TakenAt.IsZero() && s.now().Sub(cached.TakenAt) <= s.cfg.CacheTTL {
			return cached, nil
		}
	}

	snap, err := s.refresh(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap, nil
}

func (s *Service) refresh(ctx context.Context) (domain.PortfolioSnapshot, error) {
	balances := s.fetchBalances(ctx)
	if len(balances) == 0 {
		return domain.PortfolioSnapshot{}, fmt.Errorf("portfolio: no venue reported balances: %w", domain.ErrPortfolioUnavailable)
	}

	amounts := make(map[string]float64)
	byExchange := make(map[string]map[string]float64, len(balances))
	for exchange, bal := range balances {
		holdings := make(map[string]float64, len(bal.Total))
		for asset, amount := range bal.Total {
			if amount <= 0 {
				continue
			}
			amounts[asset] += amount
			holdings[asset] = amount
		}
		byExchange[exchange] = holdings
	}

	assets := make(map[string]domain.AssetHolding, len(amounts))
	total := 0.0
	for _, asset := range sortedKeys(amounts) {
		amount := amounts[asset]
		price, ok := s.price(ctx, asset)
		if !ok {
			s.logger.WarnContext(ctx, "portfolio: no price for asset, excluded from valuation",
				slog.String("asset", asset),
				slog.Float64("amount", amount),
			)
			continue
		}
		usd := amount * price
		assets[asset] = domain.AssetHolding{Asset: asset, Amount: amount, USDValue: usd}
		total += usd
	}
	for asset, holding := range assets {
		if total > 0 {
			holding.Pct = holding.USDValue / total * 100
		}
		assets[asset] = holding
	}

	snap := domain.PortfolioSnapshot{
		TotalUSD:   total,
		Assets:     assets,
		ByExchange: byExchange,
		TakenAt:    s.now().UTC(),
	}
	s.logger.DebugContext(ctx, "portfolio: snapshot refreshed",
		slog.Float64("total_usd", total),
		slog.Int("assets", len(assets)),
		slog.Int("venues", len(balances)),
	)
	return snap, nil
}

// fetchBalances queries every venue concurrently. A failed venue is logged
// and omitted, which undervalues the portfolio; the risk gate treats a lower
// valuation conservatively.
func (s *Service) fetchBalances(ctx context.Context) map[string]domain.Balance {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	out := make(map[string]domain.Balance, len(s.cfg.Exchanges))

	for _, exchange := range s.cfg.Exchanges {
		g.Go(func() error {
			bal, err := s.market.FetchBalance(gctx, exchange, true)
			if err != nil {
				s.logger.WarnContext(gctx, "portfolio: balance fetch failed",
					slog.String("exchange", exchange),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[exchange] = bal
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers always return nil
	return out
}

// price resolves an asset's quote-currency price from the first venue that
// answers. The quote currency itself is worth exactly one.
func (s *Service) price(ctx context.Context, asset string) (float64, bool) {
	if asset == s.cfg.QuoteCurrency {
		return 1.0, true
	}
	symbol := asset + "/" + s.cfg.QuoteCurrency
	for _, exchange := range s.cfg.Exchanges {
		t, err := s.market.FetchTicker(ctx, exchange, symbol)
		if err != nil || t.MidPrice <= 0 {
			continue
		}
		return t.MidPrice, true
	}
	return 0, false
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
