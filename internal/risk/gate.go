package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// PortfolioSource supplies current portfolio valuations.
type PortfolioSource interface {
	Snapshot(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error)
}

// GateConfig holds the tunable parameters for pre-trade risk checks.
type GateConfig struct {
	MaxDeploymentPct   float64       // ceiling on deployed capital as % of portfolio value
	KillSwitchUSD      float64       // portfolio floor in USD; 0 disables the check
	BalancePctPerTrade float64       // dynamic sizing: % of free quote balance staked per trade
	MaxTradeSizeUSD    float64       // dynamic sizing cap
	MinViableStakeUSD  float64       // dynamic sizing floor; below it the trade is skipped
	PortfolioTTL       time.Duration // max age of the cached portfolio valuation
}

// Gate performs pre-trade capital, balance, and kill-switch checks on top of
// the deployment ledger and the market data gateway.
type Gate struct {
	cfg    GateConfig
	market domain.MarketDataGateway
	ledger *Ledger
	source PortfolioSource
	logger *slog.Logger
}

// NewGate creates a Gate with all required dependencies.
func NewGate(
	cfg GateConfig,
	market domain.MarketDataGateway,
	ledger *Ledger,
	source PortfolioSource,
	logger *slog.Logger,
) *Gate {
	if cfg.MinViableStakeUSD <= 0 {
		cfg.MinViableStakeUSD = 1.0
	}
	return &Gate{
		cfg:    cfg,
		market: market,
		ledger: ledger,
		source: source,
		logger: logger,
	}
}

// PortfolioValue returns a valuation no older than the configured TTL,
// refreshing through the portfolio source when the ledger cache is stale.
func (g *Gate) PortfolioValue(ctx context.Context) (float64, error) {
	if v, at, ok := g.ledger.Portfolio(); ok && v > 0 && time.Since(at) <= g.cfg.PortfolioTTL {
		return v, nil
	}
	snap, err := g.source.Snapshot(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("risk: refresh portfolio value: %w", err)
	}
	g.ledger.SetPortfolio(snap.TotalUSD, snap.TakenAt)
	return snap.TotalUSD, nil
}

// CanDeployCapital checks that committing sizeUSD keeps deployed capital
// within the configured share of portfolio value. An unknown or zero
// portfolio value fails closed: the capacity is never assumed unlimited.
func (g *Gate) CanDeployCapital(ctx context.Context, sizeUSD float64) error {
	value, err := g.PortfolioValue(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "risk: portfolio refresh failed, failing closed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("risk: portfolio value unknown: %w", domain.ErrPortfolioUnavailable)
	}
	if value <= 0 {
		return fmt.Errorf("risk: portfolio value is zero: %w", domain.ErrPortfolioUnavailable)
	}

	limit := value * g.cfg.MaxDeploymentPct / 100
	deployed := g.ledger.Deployed()
	if deployed+sizeUSD > limit {
		g.logger.InfoContext(ctx, "risk: capital deployment rejected",
			slog.Float64("requested_usd", sizeUSD),
			slog.Float64("deployed_usd", deployed),
			slog.Float64("limit_usd", limit),
		)
		return fmt.Errorf("risk: deploying %.2f exceeds limit %.2f with %.2f already deployed: %w",
			sizeUSD, limit, deployed, domain.ErrRiskRejected)
	}
	return nil
}

// CheckBalances force-refreshes balances for only the two exchanges involved
// and verifies each side independently: quote-currency sufficiency on the buy
// exchange and base-currency inventory on the sell exchange. A sell-side
// shortfall is an ErrInsufficientLiquidity so callers place a cooldown; a
// buy-side shortfall is an ErrInsufficientBalance.
func (g *Gate) CheckBalances(ctx context.Context, opp domain.Opportunity, stakeQuote float64) error {
	base, quote := opp.Base(), opp.Quote()

	buyBal, err := g.market.FetchBalance(ctx, opp.BuyExchange, true)
	if err != nil {
		return fmt.Errorf("risk: fetch %s balance: %w", opp.BuyExchange, err)
	}
	sellBal, err := g.market.FetchBalance(ctx, opp.SellExchange, true)
	if err != nil {
		return fmt.Errorf("risk: fetch %s balance: %w", opp.SellExchange, err)
	}

	buyFree := buyBal.FreeOf(quote)
	sellFree := sellBal.FreeOf(base)
	buyShort := buyFree < stakeQuote
	sellShort := sellFree < opp.Amount

	if buyShort {
		g.logger.WarnContext(ctx, "risk: buy side underfunded",
			slog.String("exchange", opp.BuyExchange),
			slog.String("currency", quote),
			slog.Float64("free", buyFree),
			slog.Float64("needed", stakeQuote),
		)
	}
	if sellShort {
		g.logger.WarnContext(ctx, "risk: sell side inventory short",
			slog.String("exchange", opp.SellExchange),
			slog.String("currency", base),
			slog.Float64("free", sellFree),
			slog.Float64("needed", opp.Amount),
		)
	}

	// The sell side wins when both are short: its failure drives cooldown
	// placement on (asset, sellExchange).
	if sellShort {
		return fmt.Errorf("risk: %s free %s %.8f below required %.8f: %w",
			opp.SellExchange, base, sellFree, opp.Amount, domain.ErrInsufficientLiquidity)
	}
	if buyShort {
		return fmt.Errorf("risk: %s free %s %.2f below stake %.2f: %w",
			opp.BuyExchange, quote, buyFree, stakeQuote, domain.ErrInsufficientBalance)
	}
	return nil
}

// CheckKillSwitch returns ErrKillSwitch when total portfolio value has fallen
// below the configured floor. A floor of zero disables the check.
func (g *Gate) CheckKillSwitch(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if g.cfg.KillSwitchUSD <= 0 {
		return nil
	}
	if snap.TotalUSD < g.cfg.KillSwitchUSD {
		g.logger.ErrorContext(ctx, "risk: kill switch triggered",
			slog.Float64("portfolio_usd", snap.TotalUSD),
			slog.Float64("floor_usd", g.cfg.KillSwitchUSD),
		)
		return fmt.Errorf("risk: portfolio value %.2f below floor %.2f: %w",
			snap.TotalUSD, g.cfg.KillSwitchUSD, domain.ErrKillSwitch)
	}
	return nil
}

// DynamicTradeSize computes a stake as a percentage of the free quote balance
// on the buy exchange, capped at the configured maximum. It returns 0 when
// the result is below the minimum viable stake; callers skip the trade.
func (g *Gate) DynamicTradeSize(ctx context.Context, exchange, quoteCurrency string) (float64, error) {
	bal, err := g.market.FetchBalance(ctx, exchange, true)
	if err != nil {
		return 0, fmt.Errorf("risk: fetch %s balance for sizing: %w", exchange, err)
	}

	free := bal.FreeOf(quoteCurrency)
	stake := free * g.cfg.BalancePctPerTrade / 100
	if stake > g.cfg.MaxTradeSizeUSD {
		stake = g.cfg.MaxTradeSizeUSD
	}
	if stake < g.cfg.MinViableStakeUSD {
		g.logger.DebugContext(ctx, "risk: dynamic stake below viable minimum",
			slog.String("exchange", exchange),
			slog.Float64("stake", stake),
			slog.Float64("minimum", g.cfg.MinViableStakeUSD),
		)
		return 0, nil
	}
	return stake, nil
}
