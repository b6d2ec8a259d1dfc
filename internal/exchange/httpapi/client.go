// Package httpapi implements the exchange.Venue adapter for venues speaking
// the signed REST dialect: JSON bodies, decimal strings, HMAC-SHA256 request
// signatures.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/crossbot/internal/crypto"
	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/exchange"
)

// balanceCacheTTL bounds how stale an unforced balance read may be. Keeps
// scan cycles from burning the venue's request budget on balance calls.
const balanceCacheTTL = 2 * time.Second

// Config holds one venue's connection settings.
type Config struct {
	Name    string
	BaseURL string
	Auth    crypto.HMACAuth
	Timeout time.Duration
}

// Client is a signed REST client for one venue.
type Client struct {
	name       string
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client

	balanceMu sync.Mutex
	balance   domain.Balance
	balanceAt time.Time
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		auth:    cfg.Auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return c.name }

// OrderBook returns a depth snapshot for symbol.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if depth <= 0 {
		depth = 10
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/depth?"+params.Encode(), nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("httpapi: %s depth %s: %w", c.name, symbol, err)
	}

	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("httpapi: %s decode depth: %w", c.name, err)
	}
	return resp.toOrderBook(c.name, symbol), nil
}

// Ticker returns the current mid price for symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/ticker?"+params.Encode(), nil)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("httpapi: %s ticker %s: %w", c.name, symbol, err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("httpapi: %s decode ticker: %w", c.name, err)
	}
	return resp.toTicker(c.name, symbol), nil
}

// Balance returns account balances, served from a short-lived cache unless
// forceRefresh is set.
func (c *Client) Balance(ctx context.Context, forceRefresh bool) (domain.Balance, error) {
	c.balanceMu.Lock()
	if !forceRefresh && !c.balanceAt.IsZero() && time.Since(c.balanceAt) <= balanceCacheTTL {
		bal := c.balance
		c.balanceMu.Unlock()
		return bal, nil
	}
	c.balanceMu.Unlock()

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/balance", nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("httpapi: %s balance: %w", c.name, err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("httpapi: %s decode balance: %w", c.name, err)
	}
	bal := resp.toBalance(c.name)

	c.balanceMu.Lock()
	c.balance = bal
	c.balanceAt = time.Now()
	c.balanceMu.Unlock()

	return bal, nil
}

// PlaceOrder submits an order and returns the venue's view of it.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, typ domain.OrderType, amount, price float64) (domain.Order, error) {
	req := placeOrderRequest{
		Symbol: symbol,
		Side:   string(side),
		Type:   string(typ),
		Amount: formatDecimal(amount),
	}
	if price > 0 {
		req.Price = formatDecimal(price)
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/orders", req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("httpapi: %s place %s %s: %w", c.name, side, symbol, err)
	}

	var resp apiOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("httpapi: %s decode order: %w", c.name, err)
	}
	return resp.toOrder(c.name), nil
}

// OrderStatus refetches one order by ID.
func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	path := "/api/v1/orders/" + url.PathEscape(orderID) + "?" + params.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("httpapi: %s order %s: %w", c.name, orderID, err)
	}

	var resp apiOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("httpapi: %s decode order: %w", c.name, err)
	}
	return resp.toOrder(c.name), nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	path := "/api/v1/orders/" + url.PathEscape(orderID) + "?" + params.Encode()

	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("httpapi: %s cancel %s: %w", c.name, orderID, err)
	}
	return nil
}

// OpenOrders lists the venue's open orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/orders/open?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %s open orders %s: %w", c.name, symbol, err)
	}

	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("httpapi: %s decode open orders: %w", c.name, err)
	}

	orders := make([]domain.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.toOrder(c.name))
	}
	return orders, nil
}

// doRequest builds, signs, sends, and reads one request. path carries the
// query string so the signature covers it.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, string(bodyBytes)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps venue error responses onto the domain sentinels the
// executor and scanner classify with.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Code {
	case "INSUFFICIENT_BALANCE":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrInsufficientBalance)
	case "INSUFFICIENT_LIQUIDITY":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrInsufficientLiquidity)
	case "INVALID_ORDER", "MIN_NOTIONAL":
		return fmt.Errorf("%s: %w", apiErr.Message, domain.ErrInvalidOrder)
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrExchangeRejected)
	default:
		if statusCode >= 500 {
			return fmt.Errorf("HTTP %d %s (%s): %w", statusCode, apiErr.Message, apiErr.Code, domain.ErrNetworkTransient)
		}
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

var _ exchange.Venue = (*Client)(nil)
