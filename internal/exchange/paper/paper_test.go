package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

type fakeMarket struct {
	book    domain.OrderBook
	bookErr error
}

func (m *fakeMarket) Name() string { return "alpha" }

func (m *fakeMarket) OrderBook(_ context.Context, symbol string, _ int) (domain.OrderBook, error) {
	if m.bookErr != nil {
		return domain.OrderBook{}, m.bookErr
	}
	book := m.book
	book.Symbol = symbol
	return book, nil
}

func (m *fakeMarket) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{Exchange: "alpha", Symbol: symbol, MidPrice: 100.6, Timestamp: time.Now()}, nil
}

func (m *fakeMarket) Balance(context.Context, bool) (domain.Balance, error) {
	return domain.Balance{}, errors.New("paper never reads live balances")
}

func (m *fakeMarket) PlaceOrder(context.Context, string, domain.OrderSide, domain.OrderType, float64, float64) (domain.Order, error) {
	return domain.Order{}, errors.New("paper never places live orders")
}

func (m *fakeMarket) OrderStatus(context.Context, string, string) (domain.Order, error) {
	return domain.Order{}, errors.New("not used")
}

func (m *fakeMarket) CancelOrder(context.Context, string, string) error { return errors.New("not used") }

func (m *fakeMarket) OpenOrders(context.Context, string) ([]domain.Order, error) { return nil, nil }

func testBook() domain.OrderBook {
	return domain.OrderBook{
		Exchange: "alpha",
		Bids: []domain.PriceLevel{
			{Price: 100.5, Amount: 0.4},
			{Price: 100.4, Amount: 2.0},
		},
		Asks: []domain.PriceLevel{
			{Price: 100.7, Amount: 0.3},
			{Price: 100.8, Amount: 1.0},
		},
		Timestamp: time.Now(),
	}
}

func newTestVenue(balances map[string]float64) *Venue {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		Name:             "alpha",
		StartingBalances: balances,
		TakerFeePct:      0.1,
	}, &fakeMarket{book: testBook()}, logger)
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMarketBuyWalksDepth(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"USDT": 1000})
	ord, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 0.5, 0)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	// 0.3 at 100.7 plus 0.2 at 100.8.
	wantNotional := 0.3*100.7 + 0.2*100.8
	wantAvg := wantNotional / 0.5
	if !almostEqual(ord.Filled, 0.5) || !almostEqual(ord.AvgPrice, wantAvg) {
		t.Fatalf("fill = %v @ %v, want 0.5 @ %v", ord.Filled, ord.AvgPrice, wantAvg)
	}
	if ord.Status != domain.OrderStatusClosed || ord.ClosedAt == nil {
		t.Fatalf("order not closed: %+v", ord)
	}

	wantFee := wantNotional * 0.1 / 100
	if !almostEqual(ord.FeeQuote, wantFee) {
		t.Fatalf("fee = %v, want %v", ord.FeeQuote, wantFee)
	}

	bal, _ := v.Balance(context.Background(), false)
	if !almostEqual(bal.FreeOf("BTC"), 0.5) {
		t.Fatalf("BTC after buy = %v", bal.FreeOf("BTC"))
	}
	if !almostEqual(bal.FreeOf("USDT"), 1000-wantNotional-wantFee) {
		t.Fatalf("USDT after buy = %v", bal.FreeOf("USDT"))
	}
}

func TestMarketSellCreditsQuoteMinusFee(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"BTC": 1})
	ord, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, domain.OrderTypeMarket, 0.4, 0)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	wantNotional := 0.4 * 100.5
	wantFee := wantNotional * 0.1 / 100
	if !almostEqual(ord.AvgPrice, 100.5) {
		t.Fatalf("avg price = %v", ord.AvgPrice)
	}

	bal, _ := v.Balance(context.Background(), false)
	if !almostEqual(bal.FreeOf("BTC"), 0.6) {
		t.Fatalf("BTC after sell = %v", bal.FreeOf("BTC"))
	}
	if !almostEqual(bal.FreeOf("USDT"), wantNotional-wantFee) {
		t.Fatalf("USDT after sell = %v", bal.FreeOf("USDT"))
	}
}

func TestThinBookFillsPartially(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"USDT": 10000})
	ord, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 5, 0)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !almostEqual(ord.Filled, 1.3) {
		t.Fatalf("filled = %v, want book total 1.3", ord.Filled)
	}
	if almostEqual(ord.FillRatio(), 1.0) {
		t.Fatal("fill ratio should reflect the partial fill")
	}
	if ord.Status != domain.OrderStatusClosed {
		t.Fatalf("status = %s", ord.Status)
	}
}

func TestInsufficientQuoteBalance(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"USDT": 10})
	_, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 0.5, 0)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	bal, _ := v.Balance(context.Background(), false)
	if !almostEqual(bal.FreeOf("USDT"), 10) {
		t.Fatalf("balance mutated on rejected order: %v", bal.FreeOf("USDT"))
	}
}

func TestLimitOrdersRejected(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"USDT": 1000})
	_, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeLimit, 0.5, 100)
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("error = %v, want ErrInvalidOrder", err)
	}
}

func TestOrderLifecycleQueries(t *testing.T) {
	t.Parallel()

	v := newTestVenue(map[string]float64{"USDT": 1000})
	ord, err := v.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 0.2, 0)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	got, err := v.OrderStatus(context.Background(), ord.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if got.ID != ord.ID || got.Status != domain.OrderStatusClosed {
		t.Fatalf("got %+v", got)
	}

	if _, err := v.OrderStatus(context.Background(), "nope", "BTC/USDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing order error = %v", err)
	}

	// Cancel after fill is a no-op, not a failure.
	if err := v.CancelOrder(context.Background(), ord.ID, "BTC/USDT"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	open, err := v.OpenOrders(context.Background(), "BTC/USDT")
	if err != nil || len(open) != 0 {
		t.Fatalf("open orders = %v, %v", open, err)
	}
}
