// Package history persists per-session trade and scan records to CSV files
// and, when configured, mirrors trades into the trade store.
package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

var tradeHeader = []string{
	"timestamp", "session_id", "symbol", "buy_exchange", "sell_exchange",
	"buy_price", "sell_price", "amount", "net_profit_usd", "status",
	"latency_ms", "fees_paid_usd", "fill_ratio", "running_profit_usd",
}

// RecorderConfig controls where trade records land.
type RecorderConfig struct {
	Dir        string
	CSVEnabled bool
}

// Recorder appends finished trades to a per-session CSV file and mirrors
// them into the store when one is wired. Rows are flushed immediately so the
// file tails cleanly during a run.
type Recorder struct {
	cfg    RecorderConfig
	store  domain.TradeStore
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewRecorder opens a fresh trades CSV named by start time. store may be nil.
func NewRecorder(cfg RecorderConfig, store domain.TradeStore, logger *slog.Logger) (*Recorder, error) {
	r := &Recorder{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("component", "history")),
	}
	if !cfg.CSVEnabled {
		return r, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir %s: %w", cfg.Dir, err)
	}
	name := filepath.Join(cfg.Dir, "trades_"+time.Now().UTC().Format("20060102_150405")+".csv")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(tradeHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("history: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("history: flush header: %w", err)
	}
	r.file = f
	r.csv = w
	return r, nil
}

// Record appends rec to the CSV and the store. Both sinks are attempted; the
// first failure is returned.
func (r *Recorder) Record(ctx context.Context, rec domain.TradeRecord) error {
	var firstErr error

	if r.csv != nil {
		r.mu.Lock()
		err := r.csv.Write(tradeRow(rec))
		if err == nil {
			r.csv.Flush()
			err = r.csv.Error()
		}
		r.mu.Unlock()
		if err != nil {
			firstErr = fmt.Errorf("history: csv write: %w", err)
		}
	}

	if r.store != nil {
		if err := r.store.Insert(ctx, rec); err != nil {
			r.logger.WarnContext(ctx, "history: store insert failed",
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("history: store insert: %w", err)
			}
		}
	}
	return firstErr
}

// Path returns the CSV file location, empty when CSV output is disabled.
func (r *Recorder) Path() string {
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.csv.Flush()
	err := r.csv.Error()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	r.csv = nil
	return err
}

func tradeRow(rec domain.TradeRecord) []string {
	return []string{
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SessionID,
		rec.Symbol,
		rec.BuyExchange,
		rec.SellExchange,
		formatFloat(rec.BuyPrice),
		formatFloat(rec.SellPrice),
		formatFloat(rec.Amount),
		formatFloat(rec.NetProfitUSD),
		rec.Status,
		strconv.FormatInt(rec.LatencyMs, 10),
		formatFloat(rec.FeesPaidUSD),
		formatFloat(rec.FillRatio),
		formatFloat(rec.RunningProfitUSD),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MarshalTrades renders records as a complete CSV document in the same
// column layout the live recorder writes. Archive exports reuse it so cold
// files and session files stay interchangeable.
func MarshalTrades(recs []domain.TradeRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tradeHeader); err != nil {
		return nil, fmt.Errorf("history: marshal header: %w", err)
	}
	for _, rec := range recs {
		if err := w.Write(tradeRow(rec)); err != nil {
			return nil, fmt.Errorf("history: marshal row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("history: marshal flush: %w", err)
	}
	return buf.Bytes(), nil
}
