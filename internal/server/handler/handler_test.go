package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	status   domain.EngineStatus
	stats    domain.Stats
	snap     domain.PortfolioSnapshot
	snapErr  error
	startErr error
	stopErr  error
	started  int
	stopped  int
	refresh  bool
}

func (f *fakeEngine) Status() domain.EngineStatus { return f.status }
func (f *fakeEngine) Stats() domain.Stats         { return f.stats }

func (f *fakeEngine) Portfolio(_ context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error) {
	f.refresh = forceRefresh
	return f.snap, f.snapErr
}

func (f *fakeEngine) Start(context.Context) error {
	f.started++
	if f.startErr != nil {
		return f.startErr
	}
	f.status = domain.StatusRunning
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.stopped++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.status = domain.StatusStopped
	return nil
}

type fakeTrades struct {
	recs       []domain.TradeRecord
	err        error
	lastOpts   domain.ListOpts
	lastSess   string
	profit     float64
	profitFrom time.Time
}

func (f *fakeTrades) List(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	f.lastOpts = opts
	return f.recs, f.err
}

func (f *fakeTrades) ListBySession(_ context.Context, sessionID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	f.lastSess = sessionID
	f.lastOpts = opts
	return f.recs, f.err
}

func (f *fakeTrades) SumProfit(_ context.Context, since time.Time) (float64, error) {
	f.profitFrom = since
	return f.profit, f.err
}

type fakeCooldowns struct {
	entries []domain.CooldownEntry
	err     error
}

func (f *fakeCooldowns) Entries(context.Context) ([]domain.CooldownEntry, error) {
	return f.entries, f.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthCheckAllProbesOK(t *testing.T) {
	h := NewHealthHandler(testLogger(), map[string]Probe{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["redis"] != "ok" || checks["postgres"] != "ok" {
		t.Errorf("checks = %v, want all ok", checks)
	}
}

func TestHealthCheckFailingProbeDegrades(t *testing.T) {
	h := NewHealthHandler(testLogger(), map[string]Probe{
		"redis": func(context.Context) error { return errors.New("connection refused") },
		"s3":    func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status field = %v, want degraded", body["status"])
	}
}

func TestHealthCheckNoProbes(t *testing.T) {
	h := NewHealthHandler(testLogger(), nil)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["checks"]; ok {
		t.Error("expected no checks field without probes")
	}
}

func TestGetStatusIncludesSession(t *testing.T) {
	eng := &fakeEngine{
		status: domain.StatusRunning,
		stats: domain.Stats{
			SessionID: "sess-1",
			StartedAt: time.Now().UTC().Add(-90 * time.Second),
		},
	}
	h := NewStatusHandler(eng, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decodeBody(t, rec)
	if body["mode"] != "paper" || body["status"] != "running" {
		t.Errorf("mode/status = %v/%v, want paper/running", body["mode"], body["status"])
	}
	if body["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", body["session_id"])
	}
	if up := body["uptime_seconds"].(float64); up < 89 || up > 120 {
		t.Errorf("uptime_seconds = %v, want about 90", up)
	}
}

func TestGetStatusBeforeFirstSession(t *testing.T) {
	h := NewStatusHandler(&fakeEngine{status: domain.StatusIdle}, "trade", testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decodeBody(t, rec)
	if body["status"] != "idle" {
		t.Errorf("status = %v, want idle", body["status"])
	}
	if _, ok := body["session_id"]; ok {
		t.Error("expected no session_id before the first session")
	}
}

func TestGetPortfolioSortsByValue(t *testing.T) {
	eng := &fakeEngine{
		snap: domain.PortfolioSnapshot{
			TotalUSD: 1500,
			Assets: map[string]domain.AssetHolding{
				"ETH":  {Asset: "ETH", Amount: 0.1, USDValue: 300, Pct: 20},
				"USDT": {Asset: "USDT", Amount: 1200, USDValue: 1200, Pct: 80},
			},
			TakenAt: time.Now().UTC(),
		},
	}
	h := NewStatusHandler(eng, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.GetPortfolio(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp portfolioResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Assets) != 2 || resp.Assets[0].Asset != "USDT" {
		t.Errorf("assets = %+v, want USDT first by value", resp.Assets)
	}
	if eng.refresh {
		t.Error("refresh forwarded without ?refresh=true")
	}
}

func TestGetPortfolioForwardsRefresh(t *testing.T) {
	eng := &fakeEngine{snap: domain.PortfolioSnapshot{TotalUSD: 10}}
	h := NewStatusHandler(eng, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.GetPortfolio(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio?refresh=true", nil))

	if !eng.refresh {
		t.Error("expected forceRefresh to be forwarded")
	}
}

func TestGetPortfolioUnavailable(t *testing.T) {
	eng := &fakeEngine{snapErr: fmt.Errorf("all venues down: %w", domain.ErrPortfolioUnavailable)}
	h := NewStatusHandler(eng, "paper", testLogger())

	rec := httptest.NewRecorder()
	h.GetPortfolio(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListTradesParsesFilters(t *testing.T) {
	store := &fakeTrades{recs: []domain.TradeRecord{{Symbol: "BTC/USDT"}}}
	h := NewTradesHandler(store, testLogger())

	url := "/api/trades?limit=9999&offset=10&since=2026-08-01T00:00:00Z"
	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, url, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.lastOpts.Limit != 500 {
		t.Errorf("limit = %d, want clamped to 500", store.lastOpts.Limit)
	}
	if store.lastOpts.Offset != 10 {
		t.Errorf("offset = %d, want 10", store.lastOpts.Offset)
	}
	if store.lastOpts.Since == nil || !store.lastOpts.Since.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v, want 2026-08-01", store.lastOpts.Since)
	}

	var resp listTradesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].Symbol != "BTC/USDT" {
		t.Errorf("trades = %+v", resp.Trades)
	}
}

func TestListTradesBySession(t *testing.T) {
	store := &fakeTrades{}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?session_id=sess-7", nil))

	if store.lastSess != "sess-7" {
		t.Errorf("session = %q, want sess-7", store.lastSess)
	}
	var resp listTradesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Trades == nil {
		t.Error("expected empty array, not null")
	}
}

func TestGetProfitDefaultsToLastDay(t *testing.T) {
	store := &fakeTrades{profit: 12.5}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.GetProfit(rec, httptest.NewRequest(http.MethodGet, "/api/trades/profit", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	age := time.Since(store.profitFrom)
	if age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("since = %v, want about 24h ago", store.profitFrom)
	}
	body := decodeBody(t, rec)
	if body["net_profit_usd"].(float64) != 12.5 {
		t.Errorf("net_profit_usd = %v, want 12.5", body["net_profit_usd"])
	}
}

func TestListCooldownsReportsSeconds(t *testing.T) {
	src := &fakeCooldowns{entries: []domain.CooldownEntry{
		{Asset: "BTC", Exchange: "alpha", Direction: "buy", Remaining: 90 * time.Second},
	}}
	h := NewCooldownsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListCooldowns(rec, httptest.NewRequest(http.MethodGet, "/api/cooldowns", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	list := body["cooldowns"].([]any)
	if len(list) != 1 {
		t.Fatalf("cooldowns = %d entries, want 1", len(list))
	}
	entry := list[0].(map[string]any)
	if entry["remaining_seconds"].(float64) != 90 {
		t.Errorf("remaining_seconds = %v, want 90", entry["remaining_seconds"])
	}
}

func TestListCooldownsStoreError(t *testing.T) {
	h := NewCooldownsHandler(&fakeCooldowns{err: errors.New("redis down")}, testLogger())

	rec := httptest.NewRecorder()
	h.ListCooldowns(rec, httptest.NewRequest(http.MethodGet, "/api/cooldowns", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestStartEngineReturnsSession(t *testing.T) {
	eng := &fakeEngine{status: domain.StatusIdle, stats: domain.Stats{SessionID: "sess-9"}}
	h := NewEngineHandler(eng, testLogger())

	rec := httptest.NewRecorder()
	h.StartEngine(rec, httptest.NewRequest(http.MethodPost, "/api/engine/start", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if eng.started != 1 {
		t.Errorf("start calls = %d, want 1", eng.started)
	}
	body := decodeBody(t, rec)
	if body["session_id"] != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", body["session_id"])
	}
}

func TestStartEngineConflict(t *testing.T) {
	eng := &fakeEngine{
		status:   domain.StatusRunning,
		startErr: fmt.Errorf("engine: session already active: %w", domain.ErrAlreadyExists),
	}
	h := NewEngineHandler(eng, testLogger())

	rec := httptest.NewRecorder()
	h.StartEngine(rec, httptest.NewRequest(http.MethodPost, "/api/engine/start", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStopEngineWhenNotRunning(t *testing.T) {
	eng := &fakeEngine{status: domain.StatusIdle}
	h := NewEngineHandler(eng, testLogger())

	rec := httptest.NewRecorder()
	h.StopEngine(rec, httptest.NewRequest(http.MethodPost, "/api/engine/stop", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if eng.stopped != 0 {
		t.Errorf("stop calls = %d, want 0", eng.stopped)
	}
}

func TestStopEngineGraceful(t *testing.T) {
	eng := &fakeEngine{status: domain.StatusRunning}
	h := NewEngineHandler(eng, testLogger())

	rec := httptest.NewRecorder()
	h.StopEngine(rec, httptest.NewRequest(http.MethodPost, "/api/engine/stop", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "stopped" {
		t.Errorf("status = %v, want stopped", body["status"])
	}
}
