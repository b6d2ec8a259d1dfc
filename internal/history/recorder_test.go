package history

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []domain.TradeRecord
	err      error
}

func (f *fakeStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeStore) List(context.Context, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeStore) ListBySession(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeStore) SumProfit(context.Context, time.Time) (float64, error) { return 0, nil }

func (f *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func sampleRecord(net, running float64) domain.TradeRecord {
	return domain.TradeRecord{
		SessionID:        "sess-1",
		Timestamp:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Symbol:           "BTC/USDT",
		BuyExchange:      "alpha",
		SellExchange:     "beta",
		BuyPrice:         100,
		SellPrice:        103,
		Amount:           1,
		NetProfitUSD:     net,
		FeesPaidUSD:      0.1,
		FillRatio:        1,
		LatencyMs:        250,
		Status:           string(domain.AttemptSuccess),
		RunningProfitUSD: running,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestRecorderWritesCSV(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(RecorderConfig{Dir: dir, CSVEnabled: true}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if err := rec.Record(context.Background(), sampleRecord(2.9, 2.9)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Record(context.Background(), sampleRecord(1.5, 4.4)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	path := rec.Path()
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][len(rows[0])-1] != "running_profit_usd" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][2] != "BTC/USDT" || rows[1][8] != "2.9" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][13] != "4.4" {
		t.Errorf("running profit = %s, want 4.4", rows[2][13])
	}
}

func TestRecorderMirrorsToStore(t *testing.T) {
	store := &fakeStore{}
	rec, err := NewRecorder(RecorderConfig{CSVEnabled: false}, store, testLogger())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if rec.Path() != "" {
		t.Error("expected no CSV file when disabled")
	}
	if err := rec.Record(context.Background(), sampleRecord(2.9, 2.9)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}
	if store.inserted[0].SessionID != "sess-1" {
		t.Errorf("session = %s, want sess-1", store.inserted[0].SessionID)
	}
}

func TestRecorderStoreFailureSurfaces(t *testing.T) {
	store := &fakeStore{err: domain.ErrContextDone}
	rec, err := NewRecorder(RecorderConfig{CSVEnabled: false}, store, testLogger())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Record(context.Background(), sampleRecord(1, 1)); err == nil {
		t.Fatal("expected store failure to surface")
	}
}

func TestScanLogAppendsRows(t *testing.T) {
	dir := t.TempDir()
	sl, err := NewScanLog(dir, testLogger())
	if err != nil {
		t.Fatalf("NewScanLog: %v", err)
	}
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sl.RecordScan([]domain.ScanRecord{
		{Timestamp: ts, Symbol: "BTC/USDT", Exchange: "alpha", Bid: 99, Ask: 100},
		{Timestamp: ts, Symbol: "BTC/USDT", Exchange: "beta", Bid: 103, Ask: 104},
	})
	path := sl.Path()
	if err := sl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[1][2] != "alpha" || rows[1][3] != "99" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][2] != "beta" || rows[2][4] != "104" {
		t.Errorf("second row = %v", rows[2])
	}
}
