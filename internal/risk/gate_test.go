package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarket struct {
	balances   map[string]domain.Balance
	balanceErr map[string]error
	fetched    []string
	forced     []bool
}

func (f *fakeMarket) FetchOrderBook(context.Context, string, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

func (f *fakeMarket) FetchBalance(_ context.Context, exchange string, force bool) (domain.Balance, error) {
	f.fetched = append(f.fetched, exchange)
	f.forced = append(f.forced, force)
	if err := f.balanceErr[exchange]; err != nil {
		return domain.Balance{}, err
	}
	return f.balances[exchange], nil
}

func (f *fakeMarket) FetchTicker(context.Context, string, string) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}

type fakeSource struct {
	snap  domain.PortfolioSnapshot
	err   error
	calls int
}

func (f *fakeSource) Snapshot(context.Context, bool) (domain.PortfolioSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func newTestGate(cfg GateConfig, market *fakeMarket, src *fakeSource) (*Gate, *Ledger) {
	ledger := NewLedger()
	return NewGate(cfg, market, ledger, src, testLogger()), ledger
}

func TestLedgerCommitRelease(t *testing.T) {
	l := NewLedger()
	l.Commit(200)
	if got := l.Deployed(); got != 200 {
		t.Fatalf("Deployed = %v, want 200", got)
	}
	l.Release(150)
	if got := l.Deployed(); got != 50 {
		t.Fatalf("Deployed = %v, want 50", got)
	}
	l.Release(100)
	if got := l.Deployed(); got != 0 {
		t.Fatalf("Deployed after over-release = %v, want 0", got)
	}
}

func TestCanDeployCapitalRespectsCap(t *testing.T) {
	src := &fakeSource{snap: domain.PortfolioSnapshot{TotalUSD: 1000, TakenAt: time.Now()}}
	g, ledger := newTestGate(GateConfig{MaxDeploymentPct: 25, PortfolioTTL: time.Minute}, &fakeMarket{}, src)
	ledger.Commit(200)

	// 200 deployed + 100 requested = 300 > 250 cap.
	err := g.CanDeployCapital(context.Background(), 100)
	if !errors.Is(err, domain.ErrRiskRejected) {
		t.Fatalf("want ErrRiskRejected, got %v", err)
	}

	// 200 + 50 = 250 is exactly at the cap and allowed.
	if err := g.CanDeployCapital(context.Background(), 50); err != nil {
		t.Fatalf("50 within cap should pass: %v", err)
	}
}

func TestCanDeployCapitalFailsClosed(t *testing.T) {
	src := &fakeSource{err: errors.New("venues down")}
	g, _ := newTestGate(GateConfig{MaxDeploymentPct: 50, PortfolioTTL: time.Minute}, &fakeMarket{}, src)

	err := g.CanDeployCapital(context.Background(), 10)
	if !errors.Is(err, domain.ErrPortfolioUnavailable) {
		t.Fatalf("refresh failure should fail closed, got %v", err)
	}

	src.err = nil
	src.snap = domain.PortfolioSnapshot{TotalUSD: 0, TakenAt: time.Now()}
	err = g.CanDeployCapital(context.Background(), 10)
	if !errors.Is(err, domain.ErrPortfolioUnavailable) {
		t.Fatalf("zero portfolio should fail closed, got %v", err)
	}
}

func TestPortfolioValueUsesLedgerCache(t *testing.T) {
	src := &fakeSource{snap: domain.PortfolioSnapshot{TotalUSD: 500, TakenAt: time.Now()}}
	g, ledger := newTestGate(GateConfig{MaxDeploymentPct: 50, PortfolioTTL: time.Minute}, &fakeMarket{}, src)

	ledger.SetPortfolio(800, time.Now())
	v, err := g.PortfolioValue(context.Background())
	if err != nil || v != 800 {
		t.Fatalf("fresh cache: v=%v err=%v, want 800", v, err)
	}
	if src.calls != 0 {
		t.Fatalf("source called %d times with a fresh cache", src.calls)
	}

	ledger.SetPortfolio(800, time.Now().Add(-2*time.Minute))
	v, err = g.PortfolioValue(context.Background())
	if err != nil || v != 500 {
		t.Fatalf("stale cache: v=%v err=%v, want refreshed 500", v, err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1 after stale cache", src.calls)
	}
}

func opp() domain.Opportunity {
	return domain.Opportunity{
		Symbol:       "BTC/USDT",
		BuyExchange:  "binance",
		SellExchange: "kraken",
		BuyPrice:     100,
		SellPrice:    103,
		Amount:       1.0,
	}
}

func TestCheckBalancesBothSidesFunded(t *testing.T) {
	market := &fakeMarket{balances: map[string]domain.Balance{
		"binance": {Free: map[string]float64{"USDT": 500}},
		"kraken":  {Free: map[string]float64{"BTC": 2}},
	}}
	g, _ := newTestGate(GateConfig{MaxDeploymentPct: 50, PortfolioTTL: time.Minute}, market, &fakeSource{})

	if err := g.CheckBalances(context.Background(), opp(), 100); err != nil {
		t.Fatalf("funded balances should pass: %v", err)
	}
	if len(market.fetched) != 2 {
		t.Fatalf("fetched %v, want exactly the two involved exchanges", market.fetched)
	}
	for i, forced := range market.forced {
		if !forced {
			t.Errorf("balance fetch %d not force-refreshed", i)
		}
	}
}

func TestCheckBalancesBuySideShort(t *testing.T) {
	market := &fakeMarket{balances: map[string]domain.Balance{
		"binance": {Free: map[string]float64{"USDT": 40}},
		"kraken":  {Free: map[string]float64{"BTC": 2}},
	}}
	g, _ := newTestGate(GateConfig{MaxDeploymentPct: 50, PortfolioTTL: time.Minute}, market, &fakeSource{})

	err := g.CheckBalances(context.Background(), opp(), 100)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
}

func TestCheckBalancesSellSideShortWinsCooldownClassification(t *testing.T) {
	// Both sides short: the sell side's liquidity error must win so the
	// caller places the cooldown on (asset, sellExchange).
	market := &fakeMarket{balances: map[string]domain.Balance{
		"binance": {Free: map[string]float64{"USDT": 40}},
		"kraken":  {Free: map[string]float64{"BTC": 0.25}},
	}}
	g, _ := newTestGate(GateConfig{MaxDeploymentPct: 50, PortfolioTTL: time.Minute}, market, &fakeSource{})

	err := g.CheckBalances(context.Background(), opp(), 100)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("want ErrInsufficientLiquidity, got %v", err)
	}
}

func TestCheckKillSwitch(t *testing.T) {
	g, _ := newTestGate(GateConfig{KillSwitchUSD: 100}, &fakeMarket{}, &fakeSource{})

	err := g.CheckKillSwitch(context.Background(), domain.PortfolioSnapshot{TotalUSD: 99.99})
	if !errors.Is(err, domain.ErrKillSwitch) {
		t.Fatalf("want ErrKillSwitch, got %v", err)
	}
	if err := g.CheckKillSwitch(context.Background(), domain.PortfolioSnapshot{TotalUSD: 100}); err != nil {
		t.Fatalf("at the floor should pass: %v", err)
	}

	disabled, _ := newTestGate(GateConfig{KillSwitchUSD: 0}, &fakeMarket{}, &fakeSource{})
	if err := disabled.CheckKillSwitch(context.Background(), domain.PortfolioSnapshot{TotalUSD: 1}); err != nil {
		t.Fatalf("disabled kill switch should pass: %v", err)
	}
}

func TestDynamicTradeSize(t *testing.T) {
	market := &fakeMarket{balances: map[string]domain.Balance{
		"binance": {Free: map[string]float64{"USDT": 10_000}},
	}}
	g, _ := newTestGate(GateConfig{
		BalancePctPerTrade: 5,
		MaxTradeSizeUSD:    300,
		MinViableStakeUSD:  1,
	}, market, &fakeSource{})

	// 5% of 10k = 500, capped at 300.
	stake, err := g.DynamicTradeSize(context.Background(), "binance", "USDT")
	if err != nil || stake != 300 {
		t.Fatalf("stake=%v err=%v, want 300", stake, err)
	}

	market.balances["binance"] = domain.Balance{Free: map[string]float64{"USDT": 10}}
	stake, err = g.DynamicTradeSize(context.Background(), "binance", "USDT")
	if err != nil || stake != 0 {
		t.Fatalf("stake=%v err=%v, want 0 below viable minimum", stake, err)
	}
}
