// Package store defines storage interfaces for persisting and retrieving
// price bars and backtest results.
package store

import (
	"context"
	"time"

	"quantbench/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists terminal backtest results.
type ResultStore interface {
	// SaveResult inserts or replaces a result.
	SaveResult(ctx context.Context, res *domain.BacktestResult) error

	// GetResult retrieves a full result by its ID. Unknown IDs return
	// domain.ErrNotFound.
	GetResult(ctx context.Context, id string) (*domain.BacktestResult, error)

	// ListResults returns result summaries, newest first, up to limit.
	ListResults(ctx context.Context, limit int) ([]domain.BacktestResult, error)
}
