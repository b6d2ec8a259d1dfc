package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists finished trade records.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	List(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]TradeRecord, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
