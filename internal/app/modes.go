package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossbot/internal/crypto"
	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/engine"
	"github.com/alanyoungcy/crossbot/internal/exchange"
	"github.com/alanyoungcy/crossbot/internal/exchange/httpapi"
	"github.com/alanyoungcy/crossbot/internal/exchange/paper"
	"github.com/alanyoungcy/crossbot/internal/executor"
	"github.com/alanyoungcy/crossbot/internal/history"
	"github.com/alanyoungcy/crossbot/internal/portfolio"
	"github.com/alanyoungcy/crossbot/internal/rebalancer"
	"github.com/alanyoungcy/crossbot/internal/risk"
	"github.com/alanyoungcy/crossbot/internal/scanner"
	"github.com/alanyoungcy/crossbot/internal/server"
	"github.com/alanyoungcy/crossbot/internal/server/handler"
	"github.com/alanyoungcy/crossbot/internal/server/ws"
)

// leaseTTL is the lifetime of the live-trader lease; the holder renews it
// while running, so a crashed process frees the lease within one TTL.
const leaseTTL = 30 * time.Second

// eventsChannel is the Redis pub/sub channel engine events are mirrored to
// when mirroring is enabled.
const eventsChannel = "crossbot:events"

// tradingStack bundles the per-session components the trading modes build on
// top of the shared Dependencies.
type tradingStack struct {
	router    *exchange.Router
	portfolio *portfolio.Service
	gate      *risk.Gate
	ledger    *risk.Ledger
	engine    *engine.Engine
	closers   []func()
}

func (t *tradingStack) close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

// TradeMode runs the engine against live venues with real orders. When Redis
// is wired it first takes the trader lease so two processes can never trade
// the same accounts at once.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	if deps.LockManager != nil {
		release, err := deps.LockManager.Hold(ctx, a.cfg.Trading.SingleInstanceLockName, leaseTTL)
		if err != nil {
			return fmt.Errorf("trade mode: acquire trader lease: %w", err)
		}
		defer release()
	} else {
		a.logger.WarnContext(ctx, "trade mode: no redis, single-instance lease disabled")
	}

	return a.runTrading(ctx, deps, false)
}

// PaperMode runs the full engine against live market data with simulated
// balances and fills. No lease is needed; paper sessions cannot collide.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runTrading(ctx, deps, true)
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies, paperMode bool) error {
	stack, err := a.buildTradingStack(deps, paperMode)
	if err != nil {
		return err
	}
	defer stack.close()

	g, ctx := errgroup.WithContext(ctx)

	// Event fan-out: the WebSocket hub, the notifier, and the optional Redis
	// mirror all feed off one subscription.
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(stack.engine, a.logger, ws.Config{Mode: a.cfg.Mode})
		g.Go(func() error { return hub.Run(ctx) })
	}
	g.Go(func() error {
		a.pumpEvents(ctx, stack.engine, hub, deps)
		return nil
	})

	if a.cfg.Server.Enabled {
		srv := a.buildServer(deps, stack.engine, hub)
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := stack.engine.Start(ctx); err != nil {
		return fmt.Errorf("trading: start session: %w", err)
	}

	g.Go(func() error {
		// With the API enabled the process outlives the session so operators
		// can inspect state and start another one; headless runs exit when
		// the session is over.
		if a.cfg.Server.Enabled {
			<-ctx.Done()
		} else {
			select {
			case <-stack.engine.Done():
			case <-ctx.Done():
			}
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := stack.engine.Stop(stopCtx); err != nil {
			a.logger.Warn("trading: engine stop", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	return ignoreCanceled(g.Wait())
}

// ignoreCanceled maps context cancellation, wrapped or not, to nil so mode
// goroutines can signal clean shutdown through their errgroup.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildTradingStack assembles venues, risk, scanner, orchestrator,
// rebalancer, and the engine from configuration.
func (a *App) buildTradingStack(deps *Dependencies, paperMode bool) (*tradingStack, error) {
	stack := &tradingStack{}

	// 1. Venue adapters. In paper mode every live adapter still serves
	// market data but is wrapped by the simulator before the router sees it.
	venues, err := a.buildVenues(deps, paperMode)
	if err != nil {
		return nil, err
	}
	stack.router = exchange.NewRouter(venues...)
	exchangeNames := stack.router.Venues()

	// 2. Portfolio valuation and risk.
	stack.portfolio = portfolio.New(portfolio.Config{
		Exchanges:     exchangeNames,
		QuoteCurrency: a.cfg.Trading.QuoteCurrency,
		CacheTTL:      a.cfg.Risk.PortfolioCacheTTL.Duration,
	}, stack.router, a.logger)

	stack.ledger = risk.NewLedger()
	stack.gate = risk.NewGate(risk.GateConfig{
		MaxDeploymentPct:   a.cfg.Risk.MaxCapitalDeploymentPct,
		KillSwitchUSD:      a.cfg.Risk.BalanceKillSwitchUSD,
		BalancePctPerTrade: a.cfg.Risk.BalancePercentagePerTrade,
		MaxTradeSizeUSD:    a.cfg.Risk.MaxTradeSizeUSDT,
		PortfolioTTL:       a.cfg.Risk.PortfolioCacheTTL.Duration,
	}, stack.router, stack.ledger, stack.portfolio, a.logger)

	// 3. Scanner with fixed or dynamic stake sizing.
	var bookLog scanner.BookLogger
	if a.cfg.Trading.ScanLogEnabled {
		scanLog, err := history.NewScanLog(a.cfg.History.Dir, a.logger)
		if err != nil {
			stack.close()
			return nil, fmt.Errorf("trading: open scan log: %w", err)
		}
		stack.closers = append(stack.closers, func() { _ = scanLog.Close() })
		bookLog = scanLog
	}
	scn := scanner.New(a.scannerConfig(exchangeNames), stack.router, deps.Cooldowns,
		a.stakeFunc(stack.gate), bookLog, a.logger)

	// 4. Orchestrator and rebalancer.
	orch := executor.New(executor.Config{
		PollFloor:    a.cfg.Trading.OrderPollFloor.Duration,
		PollCap:      a.cfg.Trading.OrderPollCap.Duration,
		OrderTimeout: a.cfg.Trading.OrderTimeout.Duration,
		CooldownTTL:  a.cfg.Trading.Cooldown.Duration,
	}, stack.router, stack.gate, stack.ledger, deps.Cooldowns, a.logger)

	var reb engine.InventoryRebalancer
	if a.cfg.Rebalancing.Enabled {
		reb = rebalancer.New(rebalancer.Config{
			Exchanges:             exchangeNames,
			TargetsPct:            a.cfg.Rebalancing.AssetTargetsPct,
			DefaultMaxPct:         a.cfg.Rebalancing.DefaultMaxInventoryPct,
			ThresholdPct:          a.cfg.Rebalancing.ThresholdPct,
			QuoteCurrency:         a.cfg.Trading.QuoteCurrency,
			MinNotionalUSD:        a.venueMinNotionals(),
			LeftoverWarnThreshold: a.cfg.Rebalancing.LeftoverWarnThreshold,
		}, stack.router, stack.router, stack.portfolio, a.logger)
	}

	// 5. Trade history sink.
	recorder, err := history.NewRecorder(history.RecorderConfig{
		Dir:        a.cfg.History.Dir,
		CSVEnabled: a.cfg.History.CSVEnabled,
	}, deps.TradeStore, a.logger)
	if err != nil {
		stack.close()
		return nil, fmt.Errorf("trading: open trade recorder: %w", err)
	}
	stack.closers = append(stack.closers, func() { _ = recorder.Close() })

	// 6. Engine.
	stack.engine = engine.New(engine.Config{
		ScanInterval:      a.cfg.Trading.ScanInterval.Duration,
		RebalanceEnabled:  a.cfg.Rebalancing.Enabled,
		RebalanceInterval: a.cfg.Rebalancing.Interval.Duration,
		MaxTrades:         a.cfg.Stop.MaxTrades,
		RunDuration:       a.cfg.Stop.RunDuration.Duration,
	}, scn, orch, reb, stack.gate, stack.portfolio, stack.ledger, recorder, a.logger)

	return stack, nil
}

// buildVenues constructs one adapter per configured exchange, resolving API
// secrets and applying the shared per-venue request budget. Only trade mode
// requires credentials; paper and monitor modes read public market data and
// tolerate venues without a resolvable secret.
func (a *App) buildVenues(deps *Dependencies, paperMode bool) ([]exchange.Venue, error) {
	if len(a.cfg.Exchanges) == 0 {
		return nil, fmt.Errorf("app: no exchanges configured")
	}
	requireCreds := !paperMode && a.cfg.Mode == "trade"

	venues := make([]exchange.Venue, 0, len(a.cfg.Exchanges))
	for name, ex := range a.cfg.Exchanges {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     ex.ApiSecret,
			EncryptedPath: ex.EncryptedKeyPath,
			Password:      ex.KeyPassword,
		})
		if err != nil {
			if requireCreds {
				return nil, fmt.Errorf("app: venue %s: resolve api secret: %w", name, err)
			}
			secret = ""
		}

		var v exchange.Venue = httpapi.New(httpapi.Config{
			Name:    name,
			BaseURL: ex.BaseURL,
			Auth: crypto.HMACAuth{
				Key:        ex.ApiKey,
				Secret:     secret,
				Passphrase: ex.ApiPassphrase,
			},
		})
		v = exchange.Throttle(v, deps.RateLimiter, ex.RateLimitPerSec)

		if paperMode {
			feePct := ex.TakerFeePercent
			if feePct == 0 {
				feePct = a.cfg.Trading.FeePercent
			}
			v = paper.New(paper.Config{
				Name:             name,
				StartingBalances: a.cfg.Trading.PaperStartingBalances,
				TakerFeePct:      feePct,
			}, v, a.logger)
		}
		venues = append(venues, v)
	}
	return venues, nil
}

func (a *App) scannerConfig(exchangeNames []string) scanner.Config {
	return scanner.Config{
		Symbols:        a.cfg.Trading.SymbolsToScan,
		Exchanges:      exchangeNames,
		Depth:          a.cfg.Trading.OrderBookDepth,
		MinProfitQuote: a.cfg.Trading.MinProfitUSD,
		DefaultFeePct:  a.cfg.Trading.FeePercent,
		FeePctByVenue:  a.venueFees(),
	}
}

// stakeFunc wires the configured sizing mode into the scanner.
func (a *App) stakeFunc(gate *risk.Gate) scanner.StakeFunc {
	if a.cfg.Trading.SizingMode == "dynamic" {
		return gate.DynamicTradeSize
	}
	fixed := a.cfg.Trading.TradeSizeQuote
	return func(context.Context, string, string) (float64, error) {
		return fixed, nil
	}
}

func (a *App) venueFees() map[string]float64 {
	fees := make(map[string]float64, len(a.cfg.Exchanges))
	for name, ex := range a.cfg.Exchanges {
		if ex.TakerFeePercent > 0 {
			fees[name] = ex.TakerFeePercent
		}
	}
	return fees
}

func (a *App) venueMinNotionals() map[string]float64 {
	mins := make(map[string]float64, len(a.cfg.Exchanges))
	for name, ex := range a.cfg.Exchanges {
		if ex.MinNotionalUSD > 0 {
			mins[name] = ex.MinNotionalUSD
		}
	}
	return mins
}

func (a *App) healthProbes(deps *Dependencies) map[string]handler.Probe {
	probes := map[string]handler.Probe{}
	if deps.Redis != nil {
		probes["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		probes["postgres"] = deps.Postgres.Ping
	}
	if deps.Blob != nil {
		probes["s3"] = deps.Blob.Health
	}
	return probes
}

// buildServer assembles the HTTP control API around a running engine.
func (a *App) buildServer(deps *Dependencies, eng *engine.Engine, hub *ws.Hub) *server.Server {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger, a.healthProbes(deps)),
		Status:    handler.NewStatusHandler(eng, a.cfg.Mode, a.logger),
		Engine:    handler.NewEngineHandler(eng, a.logger),
		Cooldowns: handler.NewCooldownsHandler(deps.Cooldowns, a.logger),
	}
	if deps.TradeStore != nil {
		handlers.Trades = handler.NewTradesHandler(deps.TradeStore, a.logger)
	}
	return server.NewServer(a.serverConfig(), handlers, hub, deps.RateLimiter, a.logger)
}

func (a *App) serverConfig() server.Config {
	return server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.ApiKey,
		RateLimitPerSec: a.cfg.Server.RateLimitPerSec,
	}
}

// pumpEvents drains the engine's event stream into the WebSocket hub, the
// notifier, and the optional Redis mirror. It returns when the stream closes
// or ctx is canceled.
func (a *App) pumpEvents(ctx context.Context, eng *engine.Engine, hub *ws.Hub, deps *Dependencies) {
	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	mirror := a.cfg.Trading.MirrorEventsToRedis && deps.SignalBus != nil

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if hub != nil {
				hub.Broadcast(ev)
			}
			if err := deps.Notifier.NotifyEvent(ctx, ev); err != nil {
				a.logger.WarnContext(ctx, "app: notify failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
			if mirror {
				payload, err := json.Marshal(ev)
				if err == nil {
					// Pub/Sub for live observers, stream for late joiners.
					err = deps.SignalBus.Publish(ctx, eventsChannel, payload)
					if serr := deps.SignalBus.StreamAppend(ctx, eventsChannel, payload); err == nil {
						err = serr
					}
				}
				if err != nil {
					a.logger.WarnContext(ctx, "app: event mirror failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// monitorStats backs the status endpoints in monitor mode, where scanning
// runs without an engine.
type monitorStats struct {
	source *portfolio.Service

	mu    sync.Mutex
	stats domain.Stats
}

func (m *monitorStats) Status() domain.EngineStatus { return domain.StatusRunning }

func (m *monitorStats) Stats() domain.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.Status = domain.StatusRunning
	return stats
}

func (m *monitorStats) Portfolio(ctx context.Context, forceRefresh bool) (domain.PortfolioSnapshot, error) {
	return m.source.Snapshot(ctx, forceRefresh)
}

func (m *monitorStats) recordScan(opportunities int) {
	m.mu.Lock()
	m.stats.Scans++
	m.stats.Opportunities += int64(opportunities)
	m.mu.Unlock()
}

// MonitorMode scans and reports opportunities without ever placing an order.
// Useful for validating venue connectivity and spread quality before
// committing capital.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	venues, err := a.buildVenues(deps, false)
	if err != nil {
		return err
	}
	router := exchange.NewRouter(venues...)
	source := portfolio.New(portfolio.Config{
		Exchanges:     router.Venues(),
		QuoteCurrency: a.cfg.Trading.QuoteCurrency,
		CacheTTL:      a.cfg.Risk.PortfolioCacheTTL.Duration,
	}, router, a.logger)
	status := &monitorStats{source: source}
	status.stats.SessionID = "monitor"
	status.stats.StartedAt = time.Now().UTC()

	// Fixed stake keeps monitoring free of balance calls regardless of the
	// configured sizing mode.
	fixed := a.cfg.Trading.TradeSizeQuote
	stake := func(context.Context, string, string) (float64, error) { return fixed, nil }
	scn := scanner.New(a.scannerConfig(router.Venues()), router, deps.Cooldowns, stake, nil, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(status, a.logger, ws.Config{Mode: a.cfg.Mode})
		g.Go(func() error { return hub.Run(ctx) })

		handlers := server.Handlers{
			Health:    handler.NewHealthHandler(a.logger, a.healthProbes(deps)),
			Status:    handler.NewStatusHandler(status, a.cfg.Mode, a.logger),
			Cooldowns: handler.NewCooldownsHandler(deps.Cooldowns, a.logger),
		}
		srv := server.NewServer(a.serverConfig(), handlers, hub, deps.RateLimiter, a.logger)
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Trading.ScanInterval.Duration)
		defer ticker.Stop()
		for {
			opps, err := scn.Scan(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return context.Canceled
				}
				a.logger.WarnContext(ctx, "monitor: scan failed",
					slog.String("error", err.Error()),
				)
			}
			status.recordScan(len(opps))
			for i := range opps {
				if i >= 3 {
					break
				}
				opp := opps[i]
				a.logger.InfoContext(ctx, "monitor: opportunity",
					slog.String("symbol", opp.Symbol),
					slog.String("buy", opp.BuyExchange),
					slog.String("sell", opp.SellExchange),
					slog.Float64("net_quote", opp.NetQuote),
				)
				if hub != nil {
					hub.Broadcast(domain.Event{
						Type:        domain.EventOpportunityFound,
						At:          time.Now().UTC(),
						Opportunity: &opp,
					})
				}
			}

			select {
			case <-ctx.Done():
				return context.Canceled
			case <-ticker.C:
			}
		}
	})

	return ignoreCanceled(g.Wait())
}

// ArchiveMode moves aged trade history out of Postgres into object storage
// on the configured cron schedule, or once immediately when no schedule is
// set.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: requires postgres and s3 to be enabled")
	}

	arch := history.NewArchiver(deps.Archiver, a.cfg.History.ArchiveRetentionDays, a.logger)
	if a.cfg.History.ArchiveCron == "" {
		return arch.Run(ctx)
	}
	return ignoreCanceled(arch.RunCron(ctx, a.cfg.History.ArchiveCron))
}
