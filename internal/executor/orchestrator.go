// Package executor runs a single two-legged trade attempt from risk check to
// terminal state, compensating one-sided fills with an opposite market order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// pollBackoffFactor multiplies the status-poll interval after every attempt,
// from the configured floor up to the cap.
const pollBackoffFactor = 1.5

// fillDust ignores float residue when comparing the two legs' fills.
const fillDust = 1e-9

// RiskGate performs the pre-trade checks the orchestrator relies on.
type RiskGate interface {
	CanDeployCapital(ctx context.Context, sizeUSD float64) error
	CheckBalances(ctx context.Context, opp domain.Opportunity, stakeQuote float64) error
}

// CapitalLedger tracks deployed capital around an attempt's lifetime.
type CapitalLedger interface {
	Commit(usd float64)
	Release(usd float64)
}

// Config holds monitoring and compensation tunables.
type Config struct {
	PollFloor    time.Duration // first status-poll delay
	PollCap      time.Duration // backoff ceiling
	OrderTimeout time.Duration // hard per-leg deadline
	CooldownTTL  time.Duration // suppression window placed on liquidity failures
}

// Orchestrator executes one opportunity at a time: risk checks, concurrent
// leg submission, independent monitoring to terminal state, and
// neutralization of any net fill imbalance. At most one attempt is
// non-terminal engine-wide; a second Execute is rejected with ErrEngineBusy,
// never run concurrently.
type Orchestrator struct {
	cfg       Config
	orders    domain.OrderGateway
	risk      RiskGate
	ledger    CapitalLedger
	cooldowns domain.CooldownStore
	logger    *slog.Logger

	mu      sync.Mutex
	current *domain.TradeAttempt
}

// New creates an Orchestrator with all required dependencies.
func New(
	cfg Config,
	orders domain.OrderGateway,
	risk RiskGate,
	ledger CapitalLedger,
	cooldowns domain.CooldownStore,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.PollFloor <= 0 {
		cfg.PollFloor = 150 * time.Millisecond
	}
	if cfg.PollCap < cfg.PollFloor {
		cfg.PollCap = 750 * time.Millisecond
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		orders:    orders,
		risk:      risk,
		ledger:    ledger,
		cooldowns: cooldowns,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Current returns a copy of the most recent attempt, terminal or not.
func (o *Orchestrator) Current() (domain.TradeAttempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return domain.TradeAttempt{}, false
	}
	return *o.current, true
}

// Busy reports whether an attempt is currently non-terminal.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil && !o.current.State.Terminal()
}

// Execute runs one opportunity to a terminal state and returns the finished
// attempt. Business outcomes (rejection, failure, partial success, stuck) are
// reported through TradeAttempt.State; the error return is reserved for
// ErrEngineBusy and context cancellation before any order was placed.
func (o *Orchestrator) Execute(ctx context.Context, opp domain.Opportunity) (domain.TradeAttempt, error) {
	attempt := &domain.TradeAttempt{
		ID:          uuid.Must(uuid.NewRandom()).String(),
		Opportunity: opp,
		State:       domain.AttemptPendingRisk,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.acquire(attempt); err != nil {
		return domain.TradeAttempt{}, err
	}

	log := o.logger.With(
		slog.String("attempt_id", attempt.ID),
		slog.String("symbol", opp.Symbol),
		slog.String("buy", opp.BuyExchange),
		slog.String("sell", opp.SellExchange),
	)
	log.InfoContext(ctx, "executor: attempt started",
		slog.Float64("amount", opp.Amount),
		slog.Float64("expected_net_quote", opp.NetQuote),
	)

	stake := opp.Amount * opp.BuyPrice

	// 1. Risk: capital ceiling, then both balances before either leg is
	// submitted.
	if err := o.risk.CanDeployCapital(ctx, stake); err != nil {
		o.finish(ctx, attempt, domain.AttemptRejected, err.Error())
		return *attempt, nil
	}
	if err := o.risk.CheckBalances(ctx, opp, stake); err != nil {
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			o.placeCooldown(ctx, opp)
		}
		o.finish(ctx, attempt, domain.AttemptRejected, err.Error())
		return *attempt, nil
	}

	// Capital stays committed for the attempt's entire lifetime and is
	// released on every terminal path.
	o.ledger.Commit(stake)
	defer o.ledger.Release(stake)

	// 2. Submit both legs concurrently. A failure on one leg must never
	// prevent the other from being observed.
	o.setState(ctx, attempt, domain.AttemptSubmitting)
	buySub, sellSub := o.submitLegs(ctx, opp)

	if sellSub.err != nil && (errors.Is(sellSub.err, domain.ErrInsufficientLiquidity) || errors.Is(sellSub.err, domain.ErrInsufficientBalance)) {
		o.placeCooldown(ctx, opp)
	}

	if buySub.err != nil && sellSub.err != nil {
		o.finish(ctx, attempt, domain.AttemptFailed,
			fmt.Sprintf("both submissions failed: buy: %v; sell: %v", buySub.err, sellSub.err))
		return *attempt, nil
	}

	// 3. Monitor every placed leg independently until terminal or timeout.
	// Compensation decisions are made only after both monitors have joined.
	o.setState(ctx, attempt, domain.AttemptAwaitingFill)
	buyLeg, sellLeg := o.monitorLegs(ctx, opp, buySub, sellSub)
	attempt.BuyOrder = buyLeg.orderPtr()
	attempt.SellOrder = sellLeg.orderPtr()

	// 4. A failed cancellation means the venue may still hold a live order
	// we no longer track. Deliberate fail-stop.
	if buyLeg.cancelFailed || sellLeg.cancelFailed {
		o.finish(ctx, attempt, domain.AttemptStuck, "order cancellation failed, manual intervention required")
		return *attempt, nil
	}

	// Settlement keys on amounts, not statuses: a canceled or timed-out leg
	// may still carry a partial fill that landed before the cancel.
	buyQty := buyLeg.filledAmount()
	sellQty := sellLeg.filledAmount()
	imbalance := buyQty - sellQty

	switch {
	case buyQty > fillDust && sellQty > fillDust && math.Abs(imbalance) <= fillDust:
		o.settleSuccess(ctx, attempt, buyLeg.order, sellLeg.order)

	case buyQty <= fillDust && sellQty <= fillDust:
		if buyLeg.timedOut || sellLeg.timedOut || ctx.Err() != nil {
			o.finish(ctx, attempt, domain.AttemptCanceled, "legs unfilled at timeout or stop, orders canceled")
		} else {
			o.finish(ctx, attempt, domain.AttemptFailed,
				fmt.Sprintf("both legs failed: buy: %s; sell: %s", buyLeg.describe(), sellLeg.describe()))
		}

	default:
		// Uneven fills: capital is in an unintended one-sided exposure until
		// the compensating order completes.
		o.setState(ctx, attempt, domain.AttemptNeutralizing)
		exposed := buyLeg.order
		amount := imbalance
		if imbalance < 0 {
			exposed = sellLeg.order
			amount = -imbalance
		}
		comp, err := o.neutralize(ctx, exposed, amount)
		attempt.CompOrder = comp
		if err != nil {
			log.ErrorContext(ctx, "executor: compensation failed, halting automated handling",
				slog.String("error", err.Error()),
			)
			o.finish(ctx, attempt, domain.AttemptStuck, fmt.Sprintf("compensation failed: %v", err))
			return *attempt, nil
		}
		o.settlePartial(ctx, attempt, *comp)
	}

	return *attempt, nil
}

// acquire installs attempt as current, rejecting when a non-terminal attempt
// already exists.
func (o *Orchestrator) acquire(attempt *domain.TradeAttempt) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && !o.current.State.Terminal() {
		return fmt.Errorf("executor: attempt %s still in state %s: %w",
			o.current.ID, o.current.State, domain.ErrEngineBusy)
	}
	o.current = attempt
	return nil
}

func (o *Orchestrator) setState(ctx context.Context, attempt *domain.TradeAttempt, state domain.AttemptState) {
	o.mu.Lock()
	attempt.State = state
	o.mu.Unlock()
	o.logger.DebugContext(ctx, "executor: state transition",
		slog.String("attempt_id", attempt.ID),
		slog.String("state", string(state)),
	)
}

// finish moves attempt into a terminal state and stamps completion fields.
func (o *Orchestrator) finish(ctx context.Context, attempt *domain.TradeAttempt, state domain.AttemptState, reason string) {
	now := time.Now().UTC()
	o.mu.Lock()
	attempt.State = state
	attempt.Reason = reason
	attempt.CompletedAt = &now
	attempt.LatencyMs = now.Sub(attempt.StartedAt).Milliseconds()
	attempt.FillRatio = fillRatio(attempt)
	o.mu.Unlock()

	level := slog.LevelInfo
	if state == domain.AttemptStuck {
		level = slog.LevelError
	}
	o.logger.Log(ctx, level, "executor: attempt finished",
		slog.String("attempt_id", attempt.ID),
		slog.String("state", string(state)),
		slog.Float64("net_quote", attempt.NetQuote),
		slog.Int64("latency_ms", attempt.LatencyMs),
		slog.String("reason", reason),
	)
}

func (o *Orchestrator) placeCooldown(ctx context.Context, opp domain.Opportunity) {
	if err := o.cooldowns.Set(ctx, opp.Base(), opp.SellExchange, "sell", o.cfg.CooldownTTL); err != nil {
		o.logger.WarnContext(ctx, "executor: cooldown set failed",
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.InfoContext(ctx, "executor: cooldown placed",
		slog.String("asset", opp.Base()),
		slog.String("exchange", opp.SellExchange),
		slog.Duration("ttl", o.cfg.CooldownTTL),
	)
}

type submitResult struct {
	order domain.Order
	err   error
}

// submitLegs issues both orders concurrently with isolated failures.
func (o *Orchestrator) submitLegs(ctx context.Context, opp domain.Opportunity) (buy, sell submitResult) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buy.order, buy.err = o.orders.PlaceOrder(ctx, opp.BuyExchange, opp.Symbol,
			domain.OrderSideBuy, domain.OrderTypeMarket, opp.Amount, opp.BuyPrice)
		if buy.err != nil {
			o.logger.WarnContext(ctx, "executor: buy leg submission failed",
				slog.String("exchange", opp.BuyExchange),
				slog.String("error", buy.err.Error()),
			)
		}
	}()
	go func() {
		defer wg.Done()
		sell.order, sell.err = o.orders.PlaceOrder(ctx, opp.SellExchange, opp.Symbol,
			domain.OrderSideSell, domain.OrderTypeMarket, opp.Amount, opp.SellPrice)
		if sell.err != nil {
			o.logger.WarnContext(ctx, "executor: sell leg submission failed",
				slog.String("exchange", opp.SellExchange),
				slog.String("error", sell.err.Error()),
			)
		}
	}()
	wg.Wait()
	return buy, sell
}

// legResult is the final word on one leg after monitoring.
type legResult struct {
	order        domain.Order
	placed       bool
	timedOut     bool
	cancelFailed bool
	err          error
}

func (r legResult) filled() bool {
	return r.placed && r.order.Status == domain.OrderStatusClosed && r.order.Filled > 0
}

// filledAmount is the leg's terminal fill regardless of how it ended.
// Canceled orders keep whatever landed before the cancel; unplaced legs
// report zero.
func (r legResult) filledAmount() float64 {
	if !r.placed {
		return 0
	}
	return r.order.Filled
}

func (r legResult) orderPtr() *domain.Order {
	if !r.placed {
		return nil
	}
	ord := r.order
	return &ord
}

func (r legResult) describe() string {
	if !r.placed {
		if r.err != nil {
			return r.err.Error()
		}
		return "not placed"
	}
	return string(r.order.Status)
}

// monitorLegs polls every placed leg concurrently and joins both before
// returning, so callers never act on one leg while the other is undecided.
func (o *Orchestrator) monitorLegs(ctx context.Context, opp domain.Opportunity, buySub, sellSub submitResult) (buy, sell legResult) {
	var wg sync.WaitGroup

	if buySub.err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buy = o.monitorLeg(ctx, buySub.order, opp.BuyPrice)
		}()
	} else {
		buy = legResult{err: buySub.err}
	}

	if sellSub.err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sell = o.monitorLeg(ctx, sellSub.order, opp.SellPrice)
		}()
	} else {
		sell = legResult{err: sellSub.err}
	}

	wg.Wait()
	return buy, sell
}

// monitorLeg polls one order with multiplicative backoff until it reaches a
// terminal status or the hard timeout expires, then best-effort cancels
// whatever is still open. When the status endpoint fails, open-orders
// membership decides: an order absent from the open set is closed with the
// requested amount filled.
func (o *Orchestrator) monitorLeg(ctx context.Context, ord domain.Order, expectedPrice float64) legResult {
	res := legResult{order: ord, placed: true}
	deadline := time.Now().Add(o.cfg.OrderTimeout)
	interval := o.cfg.PollFloor

	for {
		latest, err := o.orders.FetchOrderStatus(ctx, ord.Exchange, ord.ID, ord.Symbol)
		if err == nil {
			res.order = mergeOrder(res.order, latest, expectedPrice)
			if res.order.Status.Terminal() {
				return res
			}
		} else {
			closed, ok := o.closedByMembership(ctx, res.order)
			if ok && closed {
				res.order.Status = domain.OrderStatusClosed
				res.order.Filled = res.order.Amount
				if res.order.AvgPrice == 0 {
					res.order.AvgPrice = expectedPrice
				}
				return res
			}
			if !ok {
				o.logger.WarnContext(ctx, "executor: order status unavailable",
					slog.String("order_id", ord.ID),
					slog.String("exchange", ord.Exchange),
					slog.String("error", err.Error()),
				)
			}
		}

		if time.Now().After(deadline) {
			res.timedOut = true
			return o.cancelLeg(ctx, res, expectedPrice)
		}

		select {
		case <-ctx.Done():
			res.err = ctx.Err()
			return o.cancelLeg(ctx, res, expectedPrice)
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * pollBackoffFactor)
		if interval > o.cfg.PollCap {
			interval = o.cfg.PollCap
		}
	}
}

// cancelLeg best-effort cancels a still-open order and confirms the final
// state with one last status fetch, because a fill can race the cancel. A
// cancel failure marks the leg so the attempt escalates instead of losing
// track of a possibly-live order.
func (o *Orchestrator) cancelLeg(ctx context.Context, res legResult, expectedPrice float64) legResult {
	if res.order.Status.Terminal() {
		return res
	}

	// The attempt context may already be canceled; cancellation must still
	// reach the venue.
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.orders.CancelOrder(cancelCtx, res.order.Exchange, res.order.ID, res.order.Symbol); err != nil {
		o.logger.ErrorContext(ctx, "executor: order cancel failed",
			slog.String("order_id", res.order.ID),
			slog.String("exchange", res.order.Exchange),
			slog.String("error", err.Error()),
		)
		res.cancelFailed = true
		return res
	}

	latest, err := o.orders.FetchOrderStatus(cancelCtx, res.order.Exchange, res.order.ID, res.order.Symbol)
	if err == nil {
		res.order = mergeOrder(res.order, latest, expectedPrice)
	}
	if !res.order.Status.Terminal() {
		res.order.Status = domain.OrderStatusCanceled
	}
	return res
}

// closedByMembership reports whether the order is absent from the venue's
// open set. ok is false when the open-orders lookup itself failed.
func (o *Orchestrator) closedByMembership(ctx context.Context, ord domain.Order) (closed, ok bool) {
	open, err := o.orders.FetchOpenOrders(ctx, ord.Exchange, ord.Symbol)
	if err != nil {
		return false, false
	}
	for _, oo := range open {
		if oo.ID == ord.ID {
			return false, true
		}
	}
	return true, true
}

// neutralize submits and confirms an opposite-side market order on the
// exchange of the over-filled leg, sized to the net fill imbalance.
func (o *Orchestrator) neutralize(ctx context.Context, exposed domain.Order, amount float64) (*domain.Order, error) {
	side := domain.OrderSideSell
	if exposed.Side == domain.OrderSideSell {
		side = domain.OrderSideBuy
	}

	o.logger.ErrorContext(ctx, "executor: one-sided exposure, submitting compensating order",
		slog.String("exchange", exposed.Exchange),
		slog.String("symbol", exposed.Symbol),
		slog.String("side", string(side)),
		slog.Float64("amount", amount),
	)

	// Neutralization must proceed even if the attempt context was canceled;
	// the position is open either way.
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.OrderTimeout+10*time.Second)
	defer cancel()

	ord, err := o.orders.PlaceOrder(compCtx, exposed.Exchange, exposed.Symbol, side,
		domain.OrderTypeMarket, amount, 0)
	if err != nil {
		return nil, fmt.Errorf("executor: place compensating order: %w", domain.ErrCompensationFailed)
	}

	res := o.monitorLeg(compCtx, ord, exposed.AvgPrice)
	if !res.filled() {
		out := res.order
		return &out, fmt.Errorf("executor: compensating order ended %s: %w",
			res.order.Status, domain.ErrCompensationFailed)
	}
	out := res.order
	return &out, nil
}

func (o *Orchestrator) settleSuccess(ctx context.Context, attempt *domain.TradeAttempt, buy, sell domain.Order) {
	fees := buy.FeeQuote + sell.FeeQuote
	if fees == 0 {
		fees = attempt.Opportunity.FeeQuote
	}
	o.mu.Lock()
	attempt.FeesQuote = fees
	attempt.NetQuote = sell.Filled*sell.AvgPrice - buy.Filled*buy.AvgPrice - fees
	o.mu.Unlock()
	o.finish(ctx, attempt, domain.AttemptSuccess, "")
}

// settlePartial nets the cash flow of every fill that landed, legs and
// compensation alike, so partially filled canceled legs are accounted for.
func (o *Orchestrator) settlePartial(ctx context.Context, attempt *domain.TradeAttempt, comp domain.Order) {
	fees := comp.FeeQuote
	var net float64
	if b := attempt.BuyOrder; b != nil {
		fees += b.FeeQuote
		net -= b.Filled * b.AvgPrice
	}
	if s := attempt.SellOrder; s != nil {
		fees += s.FeeQuote
		net += s.Filled * s.AvgPrice
	}
	if comp.Side == domain.OrderSideSell {
		net += comp.Filled * comp.AvgPrice
	} else {
		net -= comp.Filled * comp.AvgPrice
	}
	net -= fees
	o.mu.Lock()
	attempt.FeesQuote = fees
	attempt.NetQuote = net
	o.mu.Unlock()
	o.finish(ctx, attempt, domain.AttemptPartial, "uneven fills, exposure neutralized")
}

// mergeOrder folds a freshly fetched status into the tracked order, keeping
// identity fields from the original submission.
func mergeOrder(ord, latest domain.Order, expectedPrice float64) domain.Order {
	ord.Status = latest.Status
	if latest.Filled > 0 {
		ord.Filled = latest.Filled
	}
	if latest.AvgPrice > 0 {
		ord.AvgPrice = latest.AvgPrice
	} else if ord.AvgPrice == 0 && ord.Filled > 0 {
		ord.AvgPrice = expectedPrice
	}
	if latest.FeeQuote > 0 {
		ord.FeeQuote = latest.FeeQuote
	}
	if latest.ClosedAt != nil {
		ord.ClosedAt = latest.ClosedAt
	}
	return ord
}

func fillRatio(attempt *domain.TradeAttempt) float64 {
	legs := 0
	total := 0.0
	if attempt.BuyOrder != nil {
		total += attempt.BuyOrder.FillRatio()
		legs++
	}
	if attempt.SellOrder != nil {
		total += attempt.SellOrder.FillRatio()
		legs++
	}
	if legs == 0 {
		return 0
	}
	return total / float64(legs)
}
