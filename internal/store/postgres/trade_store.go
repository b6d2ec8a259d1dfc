package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

// TradeStore implements domain.TradeStore on PostgreSQL. Each finished
// attempt becomes one row in the trades table; the engine inserts them as
// they complete, the API and the archiver read them back.
type TradeStore struct {
	pool *pgxpool.Pool
}

func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `session_id, timestamp, symbol, buy_exchange, sell_exchange,
	buy_price, sell_price, amount, net_profit_usd, fees_paid_usd,
	fill_ratio, latency_ms, status, running_profit_usd`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.SessionID, &r.Timestamp, &r.Symbol,
			&r.BuyExchange, &r.SellExchange,
			&r.BuyPrice, &r.SellPrice, &r.Amount,
			&r.NetProfitUSD, &r.FeesPaidUSD,
			&r.FillRatio, &r.LatencyMs, &r.Status, &r.RunningProfitUSD,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert writes one finished trade record.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			session_id, timestamp, symbol, buy_exchange, sell_exchange,
			buy_price, sell_price, amount, net_profit_usd, fees_paid_usd,
			fill_ratio, latency_ms, status, running_profit_usd
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.SessionID, rec.Timestamp, rec.Symbol,
		rec.BuyExchange, rec.SellExchange,
		rec.BuyPrice, rec.SellPrice, rec.Amount,
		rec.NetProfitUSD, rec.FeesPaidUSD,
		rec.FillRatio, rec.LatencyMs, rec.Status, rec.RunningProfitUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// List returns trades newest first with pagination and optional time bounds.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades`
	where, args := tradeFilters(nil, opts, 1)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY timestamp DESC"
	query, args = tradePagination(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return recs, nil
}

// ListBySession returns trades for one engine session, newest first.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE session_id = $1`
	where, args := tradeFilters([]any{sessionID}, opts, 2)
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY timestamp DESC"
	query, args = tradePagination(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by session: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by session: %w", err)
	}
	return recs, nil
}

// tradeFilters renders the Since/Until clauses starting at placeholder
// argIdx, appending bound values to args.
func tradeFilters(args []any, opts domain.ListOpts, argIdx int) (string, []any) {
	var clauses []string
	if opts.Since != nil {
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", argIdx))
		args = append(args, *opts.Until)
	}
	switch len(clauses) {
	case 0:
		return "", args
	case 1:
		return clauses[0], args
	default:
		return clauses[0] + " AND " + clauses[1], args
	}
}

func tradePagination(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// SumProfit returns total net profit across trades at or after since.
func (s *TradeStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_profit_usd), 0) FROM trades WHERE timestamp >= $1`,
		since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum trade profit: %w", err)
	}
	return sum, nil
}

// DeleteBefore removes trades older than cutoff and reports how many went.
// The archiver calls this only after the rows are safely in cold storage.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
