package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/crypto"
	"github.com/alanyoungcy/crossbot/internal/domain"
)

const testSecret = "test-secret"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		Name:    "alpha",
		BaseURL: srv.URL,
		Auth: crypto.HMACAuth{
			Key:    "test-key",
			Secret: testSecret,
		},
		Timeout: 2 * time.Second,
	})
	return c, srv
}

// verifySignature recomputes the HMAC the way the venue would and fails the
// request on mismatch.
func verifySignature(t *testing.T, r *http.Request) bool {
	t.Helper()
	ts := r.Header.Get("X-API-TIMESTAMP")
	if ts == "" || r.Header.Get("X-API-KEY") != "test-key" {
		return false
	}

	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts + r.Method + r.RequestURI + string(body)))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return r.Header.Get("X-API-SIGNATURE") == want
}

func TestOrderBookParsesDepthAndSigns(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !verifySignature(t, r) {
			http.Error(w, `{"code":"BAD_SIGNATURE","message":"signature mismatch"}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/depth" || r.URL.Query().Get("symbol") != "BTC/USDT" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"bids": [["100.5", "0.75"], ["100.4", "1.2"]],
			"asks": [["100.7", "0.5"]],
			"timestamp": 1748000000000
		}`))
	}))

	book, err := c.OrderBook(context.Background(), "BTC/USDT", 10)
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	if book.Exchange != "alpha" || book.Symbol != "BTC/USDT" {
		t.Fatalf("book identity = %s %s", book.Exchange, book.Symbol)
	}
	bid, ok := book.BestBid()
	if !ok || bid.Price != 100.5 || bid.Amount != 0.75 {
		t.Fatalf("best bid = %+v", bid)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 100.7 {
		t.Fatalf("best ask = %+v", ask)
	}
	if book.Timestamp.IsZero() {
		t.Fatal("timestamp not parsed")
	}
}

func TestPlaceOrderMapsResponse(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/orders" {
			http.NotFound(w, r)
			return
		}
		if !verifySignature(t, r) {
			http.Error(w, `{"code":"BAD_SIGNATURE","message":"signature mismatch"}`, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"order_id": "ord-1",
			"symbol": "BTC/USDT",
			"side": "buy",
			"type": "market",
			"amount": "0.5",
			"filled": "0.5",
			"avg_price": "100.62",
			"fee": "0.05",
			"status": "filled",
			"created_at": 1748000000000,
			"closed_at": 1748000000400
		}`))
	}))

	ord, err := c.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, domain.OrderTypeMarket, 0.5, 0)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ord.ID != "ord-1" || ord.Exchange != "alpha" {
		t.Fatalf("order identity = %s on %s", ord.ID, ord.Exchange)
	}
	if ord.Status != domain.OrderStatusClosed {
		t.Fatalf("status = %s, want closed", ord.Status)
	}
	if ord.Filled != 0.5 || ord.AvgPrice != 100.62 || ord.FeeQuote != 0.05 {
		t.Fatalf("fill fields = %v @ %v fee %v", ord.Filled, ord.AvgPrice, ord.FeeQuote)
	}
	if ord.ClosedAt == nil {
		t.Fatal("ClosedAt not set")
	}
}

func TestErrorCodeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"insufficient balance", http.StatusBadRequest, `{"code":"INSUFFICIENT_BALANCE","message":"not enough USDT"}`, domain.ErrInsufficientBalance},
		{"insufficient liquidity", http.StatusBadRequest, `{"code":"INSUFFICIENT_LIQUIDITY","message":"book too thin"}`, domain.ErrInsufficientLiquidity},
		{"min notional", http.StatusBadRequest, `{"code":"MIN_NOTIONAL","message":"below minimum"}`, domain.ErrInvalidOrder},
		{"rate limited", http.StatusTooManyRequests, `{"code":"RATE_LIMIT","message":"slow down"}`, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{"code":"AUTH","message":"bad key"}`, domain.ErrUnauthorized},
		{"not found", http.StatusNotFound, `{"code":"UNKNOWN_ORDER","message":"no such order"}`, domain.ErrNotFound},
		{"rejected", http.StatusConflict, `{"code":"DUPLICATE","message":"already placed"}`, domain.ErrExchangeRejected},
		{"server error", http.StatusBadGateway, `{"code":"UPSTREAM","message":"venue down"}`, domain.ErrNetworkTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			_, err := c.PlaceOrder(context.Background(), "BTC/USDT", domain.OrderSideSell, domain.OrderTypeMarket, 1, 0)
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("error = %v, want %v", err, tc.sentinel)
			}
		})
	}
}

func TestBalanceServedFromCache(t *testing.T) {
	t.Parallel()

	hits := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"balances":[{"asset":"USDT","free":"1000","total":"1200"},{"asset":"BTC","free":"0.5","total":"0.5"}]}`))
	}))

	ctx := context.Background()
	bal, err := c.Balance(ctx, false)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.FreeOf("USDT") != 1000 || bal.TotalOf("USDT") != 1200 {
		t.Fatalf("USDT balance = %v/%v", bal.FreeOf("USDT"), bal.TotalOf("USDT"))
	}

	if _, err := c.Balance(ctx, false); err != nil {
		t.Fatalf("cached Balance: %v", err)
	}
	if hits != 1 {
		t.Fatalf("venue hits = %d, want 1 (second read cached)", hits)
	}

	if _, err := c.Balance(ctx, true); err != nil {
		t.Fatalf("forced Balance: %v", err)
	}
	if hits != 2 {
		t.Fatalf("venue hits = %d, want 2 after force refresh", hits)
	}
}

func TestOpenOrdersAndCancel(t *testing.T) {
	t.Parallel()

	canceled := ""
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/orders/open":
			w.Write([]byte(`{"orders":[
				{"order_id":"ord-7","symbol":"ETH/USDT","side":"sell","type":"limit","amount":"2","price":"3000","filled":"0.4","status":"partially_filled","created_at":1748000000000}
			]}`))
		case r.Method == http.MethodDelete:
			canceled = r.URL.Path
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	orders, err := c.OpenOrders(ctx, "ETH/USDT")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord-7" {
		t.Fatalf("orders = %+v", orders)
	}
	if orders[0].Status != domain.OrderStatusOpen {
		t.Fatalf("partially_filled mapped to %s, want open", orders[0].Status)
	}

	if err := c.CancelOrder(ctx, "ord-7", "ETH/USDT"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if canceled != "/api/v1/orders/ord-7" {
		t.Fatalf("cancel path = %q", canceled)
	}
}

func TestUnknownOrderStatusKeepsPolling(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order_id":"ord-9","symbol":"BTC/USDT","side":"buy","type":"market","amount":"1","status":"settling","created_at":1748000000000}`))
	}))

	ord, err := c.OrderStatus(context.Background(), "ord-9", "BTC/USDT")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if ord.Status != domain.OrderStatusOpen {
		t.Fatalf("unknown status mapped to %s, want open", ord.Status)
	}
	if ord.Status.Terminal() {
		t.Fatal("unknown status must not be terminal")
	}
}
