package ports

import (
	"context"

	"paperTrader/internal/domain"
)

// TradeFilter narrows a trade-history read. Zero values mean "no filter";
// Limit <= 0 means no limit.
type TradeFilter struct {
	Symbol string
	Side   domain.OrderSide
	Limit  int
	Offset int
}

// TradeLedger defines the interface for the durable, append-only,
// time-ordered store of executed trades.
type TradeLedger interface {
	// Append durably stores a trade. Once Append returns nil the write is
	// never lost.
	Append(ctx context.Context, trade *domain.Trade) error
	// Query retrieves trades with startTs <= timestamp <= endTs, ascending by
	// timestamp. Fails with ErrValidation unless startTs < endTs.
	Query(ctx context.Context, startTs, endTs int64) ([]*domain.Trade, error)
	// All retrieves the full history, ascending by timestamp.
	All(ctx context.Context) ([]*domain.Trade, error)
	// Find retrieves trades matching the filter, most recent first.
	Find(ctx context.Context, filter TradeFilter) ([]*domain.Trade, error)
}

// TxRunner is implemented by stores that can group several writes into one
// atomic unit. Store calls made with the callback's context either all commit
// or, when the callback returns an error, all roll back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PositionStore defines the interface for persisting per-asset positions.
type PositionStore interface {
	// Upsert saves the position keyed by its asset, replacing any prior state.
	Upsert(ctx context.Context, pos *domain.Position) error
	// Delete removes the position for an asset. Deleting an absent asset is
	// not an error.
	Delete(ctx context.Context, asset string) error
	// FindAll retrieves every stored position keyed by asset.
	FindAll(ctx context.Context) (map[string]*domain.Position, error)
}

// RealizedPnLStore defines the interface for the append-only realized-PnL log.
type RealizedPnLStore interface {
	// Append stores one realized-PnL record. Records are never mutated.
	Append(ctx context.Context, entry *domain.RealizedPnLEntry) error
	// All retrieves the full log, ascending by timestamp.
	All(ctx context.Context) ([]*domain.RealizedPnLEntry, error)
	// TotalRealized sums realized PnL over the whole log.
	TotalRealized(ctx context.Context) (float64, error)
}

// ExclusionStore defines the interface for the durable asset blacklist.
type ExclusionStore interface {
	// Add records an exclusion. Adding an already-excluded asset is a no-op.
	Add(ctx context.Context, entry *domain.ExclusionEntry) error
	// Remove deletes an exclusion. Removing an absent asset is not an error.
	Remove(ctx context.Context, asset string) error
	// Contains reports whether the asset is currently excluded.
	Contains(ctx context.Context, asset string) (bool, error)
	// List retrieves all exclusion entries.
	List(ctx context.Context) ([]*domain.ExclusionEntry, error)
}

// AnalyticsStore persists the most recent analytics snapshot so a restart can
// serve the last computed view before the first recomputation.
type AnalyticsStore interface {
	// SaveSnapshot replaces the stored snapshot.
	SaveSnapshot(ctx context.Context, report *domain.AnalyticsReport) error
	// LoadSnapshot retrieves the stored snapshot. Returns nil, nil when no
	// snapshot exists yet.
	LoadSnapshot(ctx context.Context) (*domain.AnalyticsReport, error)
}
