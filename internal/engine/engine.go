// Package engine drives the scan/execute cycle and owns session state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/metrics"
)

// OpportunityScanner produces opportunities ranked by expected net profit.
type OpportunityScanner interface {
	Scan(ctx context.Context) ([]domain.Opportunity, error)
}

// TradeExecutor runs one opportunity to a terminal attempt.
type TradeExecutor interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.TradeAttempt, error)
}

// InventoryRebalancer trims surplus inventory on its own cadence.
type InventoryRebalancer interface {
	RunCycle(ctx context.Context) (int, error)
}

// KillSwitch halts the session when the portfolio drops below the floor.
type KillSwitch interface {
	CheckKillSwitch(ctx context.Context, snap domain.PortfolioSnapshot) error
}

// PortfolioSource supplies the valuation each cycle starts from.
type PortfolioSource interface {
	Snapshot(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error)
}

// CapitalLedger exposes currently deployed capital for session stats.
type CapitalLedger interface {
	Deployed() float64
}

// TradeSink persists finished trades.
type TradeSink interface {
	Record(ctx context.Context, rec domain.TradeRecord) error
}

// Config holds loop cadence and stop conditions.
type Config struct {
	ScanInterval      time.Duration
	RebalanceEnabled  bool
	RebalanceInterval time.Duration
	MaxTrades         int           // 0 disables
	RunDuration       time.Duration // 0 disables
	EventBuffer       int
}

// Engine owns the session lifecycle: portfolio valuation, kill switch, scan,
// execution of the top opportunity, stats, and the event stream. Exactly one
// session runs at a time; only a tripped kill switch or a stuck attempt stops
// the loop from inside.
type Engine struct {
	cfg        Config
	scanner    OpportunityScanner
	executor   TradeExecutor
	rebalancer InventoryRebalancer
	risk       KillSwitch
	source     PortfolioSource
	ledger     CapitalLedger
	sink       TradeSink
	logger     *slog.Logger

	mu     sync.Mutex
	status domain.EngineStatus
	stats  domain.Stats
	cancel context.CancelFunc
	done   chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan domain.Event
	nextSub int
}

// New wires an Engine. rebalancer and sink may be nil.
func New(
	cfg Config,
	scanner OpportunityScanner,
	executor TradeExecutor,
	rebalancer InventoryRebalancer,
	risk KillSwitch,
	source PortfolioSource,
	ledger CapitalLedger,
	sink TradeSink,
	logger *slog.Logger,
) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 128
	}
	return &Engine{
		cfg:        cfg,
		scanner:    scanner,
		executor:   executor,
		rebalancer: rebalancer,
		risk:       risk,
		source:     source,
		ledger:     ledger,
		sink:       sink,
		logger:     logger.With(slog.String("component", "engine")),
		status:     domain.StatusIdle,
		subs:       make(map[int]chan domain.Event),
	}
}

// Start launches a new session. It fails when a session is already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == domain.StatusRunning || e.status == domain.StatusStopping {
		e.mu.Unlock()
		return fmt.Errorf("engine: session already active: %w", domain.ErrAlreadyExists)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.stats = domain.Stats{
		SessionID: uuid.Must(uuid.NewRandom()).String(),
		Status:    domain.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	e.status = domain.StatusRunning
	sessionID := e.stats.SessionID
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "engine: session started",
		slog.String("session_id", sessionID),
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Int("max_trades", e.cfg.MaxTrades),
	)
	metrics.UpdateEngineStatus(string(domain.StatusRunning))
	e.emit(domain.Event{Type: domain.EventStatusChange, Status: domain.StatusRunning})

	go e.run(runCtx)
	return nil
}

// Stop requests a graceful stop and waits for the loop to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.status != domain.StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.status = domain.StatusStopping
	e.stats.Status = domain.StatusStopping
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	e.emit(domain.Event{Type: domain.EventStatusChange, Status: domain.StatusStopping})
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: stop wait: %w", ctx.Err())
	}
}

// Done reports session completion. Nil before the first Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Status returns the current lifecycle state.
func (e *Engine) Status() domain.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Stats returns a copy of the session counters with live gauges filled in.
func (e *Engine) Stats() domain.Stats {
	e.mu.Lock()
	stats := e.stats
	stats.Status = e.status
	e.mu.Unlock()
	if e.ledger != nil {
		stats.DeployedUSD = e.ledger.Deployed()
	}
	return stats
}

// Portfolio returns the current valuation, served from cache when fresh
// unless forceRefresh is set.
func (e *Engine) Portfolio(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error) {
	return e.source.Snapshot(ctx, forceRefresh)
}

// Subscribe registers an event listener. The returned func removes it and
// closes the channel. Slow listeners lose events rather than block the loop.
func (e *Engine) Subscribe() (<-chan domain.Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan domain.Event, e.cfg.EventBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	if e.rebalancer != nil && e.cfg.RebalanceEnabled && e.cfg.RebalanceInterval > 0 {
		go e.rebalanceLoop(ctx)
	}

	start := time.Now()
	for {
		if ctx.Err() != nil {
			e.finishSession(ctx, domain.StatusStopped, "stop requested")
			return
		}
		if e.cfg.MaxTrades > 0 && e.tradeCount() >= int64(e.cfg.MaxTrades) {
			e.finishSession(ctx, domain.StatusStopped, "max trades reached")
			return
		}
		if e.cfg.RunDuration > 0 && time.Since(start) >= e.cfg.RunDuration {
			e.finishSession(ctx, domain.StatusStopped, "run duration elapsed")
			return
		}

		if fatal := e.cycle(ctx); fatal {
			return
		}

		select {
		case <-ctx.Done():
			e.finishSession(ctx, domain.StatusStopped, "stop requested")
			return
		case <-time.After(e.cfg.ScanInterval):
		}
	}
}

// cycle runs one valuation/scan/execute pass. It returns true only when the
// session must halt: a tripped kill switch or a stuck attempt.
func (e *Engine) cycle(ctx context.Context) (fatal bool) {
	// 1. Valuation. Without a portfolio value no risk decision is possible,
	// so the whole cycle is skipped.
	snap, err := e.source.Snapshot(ctx, false)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: portfolio unavailable, skipping cycle",
			slog.String("error", err.Error()),
		)
		e.emit(domain.Event{Type: domain.EventError, Err: err.Error()})
		return false
	}
	e.mu.Lock()
	e.stats.PortfolioUSD = snap.TotalUSD
	e.mu.Unlock()
	deployed := 0.0
	if e.ledger != nil {
		deployed = e.ledger.Deployed()
	}
	metrics.UpdateCapital(deployed, snap.TotalUSD)

	// 2. Kill switch.
	if err := e.risk.CheckKillSwitch(ctx, snap); err != nil {
		e.logger.ErrorContext(ctx, "engine: kill switch tripped, stopping session",
			slog.Float64("portfolio_usd", snap.TotalUSD),
		)
		e.emit(domain.Event{Type: domain.EventError, Err: err.Error()})
		e.finishSession(ctx, domain.StatusStopped, "kill switch tripped")
		return true
	}

	// 3. Scan.
	opps, err := e.scanner.Scan(ctx)
	e.mu.Lock()
	e.stats.Scans++
	e.mu.Unlock()
	metrics.RecordScan(err == nil)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: scan failed",
			slog.String("error", err.Error()),
		)
		e.emit(domain.Event{Type: domain.EventError, Err: err.Error()})
		return false
	}
	if len(opps) == 0 {
		return false
	}
	e.mu.Lock()
	e.stats.Opportunities += int64(len(opps))
	e.mu.Unlock()

	// 4. Execute the best one. The rest expire; next scan re-finds anything
	// still live.
	top := opps[0]
	metrics.RecordOpportunity(top.Symbol, top.NetQuote)
	e.emit(domain.Event{Type: domain.EventOpportunityFound, Opportunity: &top})

	attempt, err := e.executor.Execute(ctx, top)
	if err != nil {
		if errors.Is(err, domain.ErrEngineBusy) {
			e.logger.WarnContext(ctx, "engine: executor busy, skipping opportunity")
			return false
		}
		e.logger.WarnContext(ctx, "engine: execute failed",
			slog.String("error", err.Error()),
		)
		e.emit(domain.Event{Type: domain.EventError, Err: err.Error()})
		return false
	}

	// Risk-rejected attempts never placed an order; a trade-started event for
	// them would have nothing behind it. Rejections still surface through the
	// finished event.
	if attempt.State != domain.AttemptRejected {
		e.emit(domain.Event{Type: domain.EventTradeStarted, Opportunity: &top})
	}

	e.applyAttempt(ctx, attempt)
	e.emit(domain.Event{Type: domain.EventTradeFinished, Attempt: &attempt})

	// 5. Fail-stop: a stuck attempt means a possibly-live order or an open
	// position that automation must not touch again.
	if attempt.State == domain.AttemptStuck {
		e.logger.ErrorContext(ctx, "engine: attempt stuck, halting session",
			slog.String("attempt_id", attempt.ID),
			slog.String("reason", attempt.Reason),
		)
		e.finishSession(ctx, domain.StatusStuck, "critical stuck attempt")
		return true
	}
	return false
}

func (e *Engine) rebalanceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			placed, err := e.rebalancer.RunCycle(ctx)
			if err != nil {
				e.logger.WarnContext(ctx, "engine: rebalance cycle failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			metrics.RecordRebalanceOrders(placed)
			if placed > 0 {
				e.logger.InfoContext(ctx, "engine: rebalance cycle placed orders",
					slog.Int("orders", placed),
				)
			}
		}
	}
}

// applyAttempt folds a terminal attempt into the session stats and persists
// the trade record.
func (e *Engine) applyAttempt(ctx context.Context, attempt domain.TradeAttempt) {
	e.mu.Lock()
	switch attempt.State {
	case domain.AttemptRejected:
		e.stats.RiskRejected++
	case domain.AttemptSuccess:
		e.stats.Successful++
	case domain.AttemptPartial:
		e.stats.PartialSuccesses++
	case domain.AttemptFailed:
		e.stats.Failed++
	case domain.AttemptCanceled:
		e.stats.Canceled++
	case domain.AttemptStuck:
		e.stats.CriticalStuck++
	}
	executed := attempt.State != domain.AttemptRejected
	if executed {
		e.stats.Trades++
		e.stats.SessionNetUSD += attempt.NetQuote
		e.stats.FeesPaidUSD += attempt.FeesQuote
		if e.stats.Trades > 0 {
			e.stats.WinRatePct = float64(e.stats.Successful) / float64(e.stats.Trades) * 100
		}
	}
	sessionID := e.stats.SessionID
	running := e.stats.SessionNetUSD
	e.mu.Unlock()

	metrics.RecordAttempt(attempt.Opportunity.Symbol, string(attempt.State), attempt.LatencyMs)
	if executed {
		metrics.UpdateSessionNet(running)
	}

	if e.sink == nil || !executed {
		return
	}
	if err := e.sink.Record(ctx, recordFromAttempt(sessionID, attempt, running)); err != nil {
		e.logger.WarnContext(ctx, "engine: trade record failed",
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) tradeCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.Trades
}

func (e *Engine) finishSession(ctx context.Context, status domain.EngineStatus, reason string) {
	e.mu.Lock()
	e.status = status
	e.stats.Status = status
	stats := e.stats
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "engine: session finished",
		slog.String("session_id", stats.SessionID),
		slog.String("status", string(status)),
		slog.String("reason", reason),
		slog.Int64("trades", stats.Trades),
		slog.Float64("net_usd", stats.SessionNetUSD),
		slog.Float64("win_rate_pct", stats.WinRatePct),
	)
	metrics.UpdateEngineStatus(string(status))
	e.emit(domain.Event{Type: domain.EventStatusChange, Status: status})
}

func (e *Engine) emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// recordFromAttempt reports actual execution values when the legs carry
// them, falling back to the detected opportunity otherwise.
func recordFromAttempt(sessionID string, a domain.TradeAttempt, running float64) domain.TradeRecord {
	ts := a.StartedAt
	if a.CompletedAt != nil {
		ts = *a.CompletedAt
	}
	buyPrice := a.Opportunity.BuyPrice
	amount := a.Opportunity.Amount
	if a.BuyOrder != nil && a.BuyOrder.AvgPrice > 0 {
		buyPrice = a.BuyOrder.AvgPrice
	}
	if a.BuyOrder != nil && a.BuyOrder.Filled > 0 {
		amount = a.BuyOrder.Filled
	}
	sellPrice := a.Opportunity.SellPrice
	if a.SellOrder != nil && a.SellOrder.AvgPrice > 0 {
		sellPrice = a.SellOrder.AvgPrice
	}
	return domain.TradeRecord{
		SessionID:        sessionID,
		Timestamp:        ts,
		Symbol:           a.Opportunity.Symbol,
		BuyExchange:      a.Opportunity.BuyExchange,
		SellExchange:     a.Opportunity.SellExchange,
		BuyPrice:         buyPrice,
		SellPrice:        sellPrice,
		Amount:           amount,
		NetProfitUSD:     a.NetQuote,
		FeesPaidUSD:      a.FeesQuote,
		FillRatio:        a.FillRatio,
		LatencyMs:        a.LatencyMs,
		Status:           string(a.State),
		RunningProfitUSD: running,
	}
}
