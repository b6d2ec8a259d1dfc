// Package scanner finds cross-exchange price discrepancies worth acting on.
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// StakeFunc returns the quote-currency stake for a trade buying on the given
// exchange, or 0 to skip this cycle. Wired to fixed or dynamic sizing.
type StakeFunc func(ctx context.Context, buyExchange, quoteCurrency string) (float64, error)

// BookLogger receives every observed top-of-book row for offline analysis.
type BookLogger interface {
	RecordScan(records []domain.ScanRecord)
}

// Config holds scanner parameters.
type Config struct {
	Symbols        []string
	Exchanges      []string
	Depth          int
	MinProfitQuote float64
	// DefaultFeePct is the taker fee applied when a venue has no entry in
	// FeePctByVenue. Percent, not bps.
	DefaultFeePct float64
	FeePctByVenue map[string]float64
}

// Scanner fetches top-of-book across all venues concurrently and ranks
// profitable (buy, sell) venue pairs by net profit.
type Scanner struct {
	cfg       Config
	market    domain.MarketDataGateway
	cooldowns domain.CooldownStore
	stake     StakeFunc
	bookLog   BookLogger // optional
	logger    *slog.Logger
}

// New creates a Scanner. bookLog may be nil.
func New(
	cfg Config,
	market domain.MarketDataGateway,
	cooldowns domain.CooldownStore,
	stake StakeFunc,
	bookLog BookLogger,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:       cfg,
		market:    market,
		cooldowns: cooldowns,
		stake:     stake,
		bookLog:   bookLog,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Scan performs one full cycle: fetch books for every symbol across every
// exchange, compare all ordered venue pairs, and return opportunities whose
// net profit clears the floor, sorted descending. A venue that fails to
// answer is skipped for this cycle; the remaining venues are still compared.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	var all []domain.Opportunity
	stakes := make(map[string]float64) // buyExchange:quote -> stake, memoized per cycle

	for _, symbol := range s.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		books := s.fetchBooks(ctx, symbol)
		if len(books) < 2 {
			s.logger.DebugContext(ctx, "scanner: not enough venues answered",
				slog.String("symbol", symbol),
				slog.Int("venues", len(books)),
			)
			continue
		}
		all = append(all, s.compare(ctx, symbol, books, stakes)...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].NetQuote > all[j].NetQuote })
	return all, nil
}

// fetchBooks fans out one order book request per exchange and joins them.
// Failures are logged and the venue skipped; they never cancel the siblings.
func (s *Scanner) fetchBooks(ctx context.Context, symbol string) map[string]domain.OrderBook {
	var (
		mu    sync.Mutex
		books = make(map[string]domain.OrderBook, len(s.cfg.Exchanges))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, exchange := range s.cfg.Exchanges {
		g.Go(func() error {
			book, err := s.market.FetchOrderBook(gctx, exchange, symbol, s.cfg.Depth)
			if err != nil {
				s.logger.WarnContext(gctx, "scanner: order book fetch failed, skipping venue this cycle",
					slog.String("exchange", exchange),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			books[exchange] = book
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers always return nil

	if s.bookLog != nil {
		s.bookLog.RecordScan(scanRecords(symbol, books))
	}
	return books
}

// compare evaluates every ordered (buy, sell) venue pair for one symbol.
func (s *Scanner) compare(ctx context.Context, symbol string, books map[string]domain.OrderBook, stakes map[string]float64) []domain.Opportunity {
	var opps []domain.Opportunity

	// Iterate venues in the configured order so results are deterministic.
	for _, buyEx := range s.cfg.Exchanges {
		buyBook, ok := books[buyEx]
		if !ok {
			continue
		}
		ask, ok := buyBook.BestAsk()
		if !ok || ask.Price <= 0 {
			continue
		}

		for _, sellEx := range s.cfg.Exchanges {
			if sellEx == buyEx {
				continue
			}
			sellBook, ok := books[sellEx]
			if !ok {
				continue
			}
			bid, ok := sellBook.BestBid()
			if !ok || bid.Price <= 0 {
				continue
			}

			opp, ok := s.price(ctx, symbol, buyEx, sellEx, ask.Price, bid.Price, stakes)
			if !ok {
				continue
			}

			active, err := s.cooldowns.Active(ctx, opp.Base(), sellEx, "sell")
			if err != nil {
				s.logger.WarnContext(ctx, "scanner: cooldown lookup failed",
					slog.String("error", err.Error()),
				)
			} else if active {
				s.logger.DebugContext(ctx, "scanner: pair suppressed by cooldown",
					slog.String("asset", opp.Base()),
					slog.String("sell_exchange", sellEx),
				)
				continue
			}

			opps = append(opps, opp)
		}
	}
	return opps
}

// price sizes and nets out one candidate pair. ok is false when the pair does
// not clear the profit floor or cannot be sized.
func (s *Scanner) price(ctx context.Context, symbol, buyEx, sellEx string, buyPrice, sellPrice float64, stakes map[string]float64) (domain.Opportunity, bool) {
	opp := domain.Opportunity{
		Symbol:       symbol,
		BuyExchange:  buyEx,
		SellExchange: sellEx,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
	}

	stakeKey := buyEx + ":" + opp.Quote()
	stake, ok := stakes[stakeKey]
	if !ok {
		var err error
		stake, err = s.stake(ctx, buyEx, opp.Quote())
		if err != nil {
			s.logger.WarnContext(ctx, "scanner: stake sizing failed",
				slog.String("exchange", buyEx),
				slog.String("error", err.Error()),
			)
			return domain.Opportunity{}, false
		}
		stakes[stakeKey] = stake
	}
	if stake <= 0 {
		return domain.Opportunity{}, false
	}

	amount := stake / buyPrice
	gross := (sellPrice - buyPrice) * amount
	fees := stake*s.feePct(buyEx)/100 + sellPrice*amount*s.feePct(sellEx)/100
	net := gross - fees
	if net <= s.cfg.MinProfitQuote {
		return domain.Opportunity{}, false
	}

	opp.ID = uuid.Must(uuid.NewRandom()).String()
	opp.Amount = amount
	opp.GrossQuote = gross
	opp.FeeQuote = fees
	opp.NetQuote = net
	opp.DetectedAt = time.Now().UTC()

	s.logger.DebugContext(ctx, "scanner: opportunity",
		slog.String("symbol", symbol),
		slog.String("buy", buyEx),
		slog.String("sell", sellEx),
		slog.Float64("buy_price", buyPrice),
		slog.Float64("sell_price", sellPrice),
		slog.Float64("net_quote", net),
	)
	return opp, true
}

func (s *Scanner) feePct(exchange string) float64 {
	if pct, ok := s.cfg.FeePctByVenue[exchange]; ok {
		return pct
	}
	return s.cfg.DefaultFeePct
}

func scanRecords(symbol string, books map[string]domain.OrderBook) []domain.ScanRecord {
	now := time.Now().UTC()
	recs := make([]domain.ScanRecord, 0, len(books))
	for exchange, book := range books {
		rec := domain.ScanRecord{Timestamp: now, Symbol: symbol, Exchange: exchange}
		if bid, ok := book.BestBid(); ok {
			rec.Bid = bid.Price
		}
		if ask, ok := book.BestAsk(); ok {
			rec.Ask = ask.Price
		}
		recs = append(recs, rec)
	}
	return recs
}
