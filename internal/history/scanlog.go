package history

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
)

var scanHeader = []string{"timestamp", "symbol", "exchange", "bid", "ask"}

// ScanLog appends every observed best bid/ask to a per-session CSV. Write
// failures are logged, never surfaced: losing a scan row must not interfere
// with the scan itself.
type ScanLog struct {
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

func NewScanLog(dir string, logger *slog.Logger) (*ScanLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir %s: %w", dir, err)
	}
	name := filepath.Join(dir, "scans_"+time.Now().UTC().Format("20060102_150405")+".csv")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(scanHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("history: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("history: flush header: %w", err)
	}
	return &ScanLog{
		logger: logger.With(slog.String("component", "history")),
		file:   f,
		csv:    w,
	}, nil
}

// RecordScan appends one row per venue observation.
func (s *ScanLog) RecordScan(records []domain.ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csv == nil {
		return
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Exchange,
			formatFloat(rec.Bid),
			formatFloat(rec.Ask),
		}
		if err := s.csv.Write(row); err != nil {
			s.logger.Warn("history: scan row write failed", slog.String("error", err.Error()))
			return
		}
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		s.logger.Warn("history: scan log flush failed", slog.String("error", err.Error()))
	}
}

// Path returns the CSV file location.
func (s *ScanLog) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *ScanLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.csv.Flush()
	err := s.csv.Error()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	s.csv = nil
	return err
}
