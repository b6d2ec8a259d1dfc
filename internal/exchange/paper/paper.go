// Package paper simulates order execution against live market data. Paper
// mode runs the whole engine, scanner to settlement, with venue balances
// held in memory and fills walked off the real book.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/exchange"
)

// Config seeds one simulated venue.
type Config struct {
	// Name must match the data venue it stands in for; the router registers
	// the simulator under this name instead of the live adapter.
	Name string
	// StartingBalances maps asset to free amount.
	StartingBalances map[string]float64
	// TakerFeePct is charged on fill notional, in percent.
	TakerFeePct float64
}

// Venue is a paper venue: market data passes through to the live adapter,
// orders fill instantly against its current book.
type Venue struct {
	name   string
	market exchange.Venue
	feePct float64
	logger *slog.Logger

	mu     sync.Mutex
	free   map[string]float64
	orders map[string]domain.Order
	seq    int64
}

func New(cfg Config, market exchange.Venue, logger *slog.Logger) *Venue {
	free := make(map[string]float64, len(cfg.StartingBalances))
	for asset, amt := range cfg.StartingBalances {
		free[asset] = amt
	}
	return &Venue{
		name:   cfg.Name,
		market: market,
		feePct: cfg.TakerFeePct,
		logger: logger.With(slog.String("component", "paper"), slog.String("venue", cfg.Name)),
		free:   free,
		orders: make(map[string]domain.Order),
	}
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return v.market.OrderBook(ctx, symbol, depth)
}

func (v *Venue) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return v.market.Ticker(ctx, symbol)
}

// Balance reports the simulated holdings. Fills settle instantly, so free
// and total are identical.
func (v *Venue) Balance(_ context.Context, _ bool) (domain.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := domain.Balance{
		Exchange: v.name,
		Free:     make(map[string]float64, len(v.free)),
		Total:    make(map[string]float64, len(v.free)),
	}
	for asset, amt := range v.free {
		bal.Free[asset] = amt
		bal.Total[asset] = amt
	}
	return bal, nil
}

// PlaceOrder fills a market order by walking the live book. A book too thin
// for the full amount yields a partial fill, closed at whatever was taken.
func (v *Venue) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, typ domain.OrderType, amount, _ float64) (domain.Order, error) {
	if typ != domain.OrderTypeMarket {
		return domain.Order{}, fmt.Errorf("paper: only market orders are simulated: %w", domain.ErrInvalidOrder)
	}
	if amount <= 0 {
		return domain.Order{}, fmt.Errorf("paper: amount must be positive: %w", domain.ErrInvalidOrder)
	}
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return domain.Order{}, fmt.Errorf("paper: malformed symbol %q: %w", symbol, domain.ErrInvalidOrder)
	}

	book, err := v.market.OrderBook(ctx, symbol, 10)
	if err != nil {
		return domain.Order{}, fmt.Errorf("paper: fetch book for fill: %w", err)
	}

	levels := book.Asks
	if side == domain.OrderSideSell {
		levels = book.Bids
	}
	filled, avgPrice, notional := walkLevels(levels, amount)
	if filled <= 0 {
		return domain.Order{}, fmt.Errorf("paper: empty book for %s: %w", symbol, domain.ErrInsufficientLiquidity)
	}
	fee := notional * v.feePct / 100

	v.mu.Lock()
	defer v.mu.Unlock()

	switch side {
	case domain.OrderSideBuy:
		if v.free[quote] < notional+fee {
			return domain.Order{}, fmt.Errorf("paper: %s balance %.8f short of %.8f: %w",
				quote, v.free[quote], notional+fee, domain.ErrInsufficientBalance)
		}
		v.free[quote] -= notional + fee
		v.free[base] += filled
	case domain.OrderSideSell:
		if v.free[base] < filled {
			return domain.Order{}, fmt.Errorf("paper: %s balance %.8f short of %.8f: %w",
				base, v.free[base], filled, domain.ErrInsufficientBalance)
		}
		v.free[base] -= filled
		v.free[quote] += notional - fee
	default:
		return domain.Order{}, fmt.Errorf("paper: unknown side %q: %w", side, domain.ErrInvalidOrder)
	}

	now := time.Now().UTC()
	v.seq++
	ord := domain.Order{
		ID:        "paper-" + strconv.FormatInt(v.seq, 10),
		Exchange:  v.name,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Filled:    filled,
		AvgPrice:  avgPrice,
		FeeQuote:  fee,
		Status:    domain.OrderStatusClosed,
		CreatedAt: now,
		ClosedAt:  &now,
	}
	v.orders[ord.ID] = ord

	v.logger.DebugContext(ctx, "paper fill",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("filled", filled),
		slog.Float64("avg_price", avgPrice),
	)
	return ord, nil
}

func (v *Venue) OrderStatus(_ context.Context, orderID, _ string) (domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	return ord, nil
}

// CancelOrder is idempotent: canceling an already filled order is a no-op,
// matching venues that treat late cancels as harmless.
func (v *Venue) CancelOrder(_ context.Context, orderID, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	if !ord.Status.Terminal() {
		ord.Status = domain.OrderStatusCanceled
		now := time.Now().UTC()
		ord.ClosedAt = &now
		v.orders[orderID] = ord
	}
	return nil
}

// OpenOrders is always empty: paper fills settle in PlaceOrder.
func (v *Venue) OpenOrders(_ context.Context, _ string) ([]domain.Order, error) {
	return []domain.Order{}, nil
}

// walkLevels consumes book depth until amount is filled or the book runs
// out. Returns base filled, average price, and quote notional.
func walkLevels(levels []domain.PriceLevel, amount float64) (filled, avgPrice, notional float64) {
	remaining := amount
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Amount
		if take > remaining {
			take = remaining
		}
		filled += take
		notional += take * lvl.Price
		remaining -= take
	}
	if filled > 0 {
		avgPrice = notional / filled
	}
	return filled, avgPrice, notional
}

var _ exchange.Venue = (*Venue)(nil)
