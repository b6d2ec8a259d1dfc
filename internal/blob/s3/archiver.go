package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/history"
)

// ArchiveStore is the slice of the trade store the archiver needs.
type ArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeArchiver implements domain.Archiver: aged trade rows are exported to
// object storage as CSV, and deleted from the hot store only after the
// upload succeeds. A failed run therefore re-exports overlapping rows on the
// next attempt rather than losing any.
type TradeArchiver struct {
	writer domain.BlobWriter
	trades ArchiveStore

	now func() time.Time
}

func NewTradeArchiver(writer domain.BlobWriter, trades ArchiveStore) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		trades: trades,
		now:    time.Now,
	}
}

// ArchiveTrades exports every trade at or before the cutoff and removes the
// exported rows. Returns the number of rows deleted from the hot store.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.trades.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	// The store lists newest first; archives read better chronological.
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})

	buf, err := history.MarshalTrades(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(before, a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "text/csv"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	return deleted, nil
}

// archivePath names each export by its cutoff date plus the run time, so two
// runs with the same cutoff never overwrite each other.
//
//	archive/trades/2025-05-27_20250825T031500Z.csv
func archivePath(before, runAt time.Time) string {
	return fmt.Sprintf("archive/trades/%s_%s.csv",
		before.UTC().Format("2006-01-02"),
		runAt.UTC().Format("20060102T150405Z"),
	)
}

var _ domain.Archiver = (*TradeArchiver)(nil)
