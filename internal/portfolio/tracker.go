package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Tracker consumes ledger entries and maintains current per-asset holdings
// and cost basis under the weighted-average-cost model. All mutations are
// serialized through a single mutex; state is persisted on every change so a
// restart resumes from the last acknowledged trade.
type Tracker struct {
	positions  ports.PositionStore
	realized   ports.RealizedPnLStore
	exclusions ports.ExclusionStore
	exchange   ports.ExchangeClient
	logger     ports.Logger

	mu    sync.RWMutex
	state map[string]*domain.Position
}

// NewTracker creates a position tracker. Load must be called before use.
func NewTracker(
	positions ports.PositionStore,
	realized ports.RealizedPnLStore,
	exclusions ports.ExclusionStore,
	exchange ports.ExchangeClient,
	logger ports.Logger,
) (*Tracker, error) {
	if positions == nil || realized == nil || exclusions == nil || exchange == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Tracker")
	}
	return &Tracker{
		positions:  positions,
		realized:   realized,
		exclusions: exclusions,
		exchange:   exchange,
		logger:     logger,
		state:      make(map[string]*domain.Position),
	}, nil
}

// Load hydrates the in-memory position map from the durable store.
func (t *Tracker) Load(ctx context.Context) error {
	stored, err := t.positions.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	t.mu.Lock()
	t.state = stored
	t.mu.Unlock()

	t.logger.Info(ctx, "Position state loaded", map[string]interface{}{"positions": len(stored)})
	return nil
}

// ApplyTrade updates the affected asset's position for one executed trade.
// BUY trades blend the average cost; SELL trades lock in realized PnL at the
// average cost of the moment and never change it.
func (t *Tracker) ApplyTrade(ctx context.Context, trade *domain.Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if trade.Side == domain.Buy {
		return t.applyBuy(ctx, trade)
	}
	return t.applySell(ctx, trade)
}

// applyBuy blends the new purchase into the weighted-average cost.
// Assumes t.mu is held.
func (t *Tracker) applyBuy(ctx context.Context, trade *domain.Trade) error {
	asset := trade.BaseAsset()
	// Mutate a copy; the live entry is replaced only once the store accepted
	// the write, so a failed persist leaves the in-memory state untouched.
	pos, exists := t.state[asset]
	if exists {
		pos = pos.Clone()
	} else {
		pos = &domain.Position{Asset: asset, CurrentPrice: trade.Price}
	}

	oldQty := pos.TotalQuantity()
	newQty := oldQty + trade.Quantity

	var newAvgCost float64
	if oldQty == 0 {
		newAvgCost = trade.Price
	} else {
		newAvgCost = (oldQty*pos.AvgCost + trade.QuoteQty) / newQty
	}

	pos.FreeQty += trade.Quantity
	// A fee charged in the purchased asset reduces what was actually received
	// without touching the cost basis of the remainder.
	if trade.CommissionAsset == asset {
		pos.FreeQty -= trade.Commission
	}
	pos.AvgCost = newAvgCost
	pos.TotalInvested = newQty * newAvgCost
	pos.LastUpdated = trade.Timestamp

	if err := t.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist position for %s: %w", asset, err)
	}
	t.state[asset] = pos

	t.logger.Debug(ctx, "Buy applied to position", map[string]interface{}{
		"asset": asset, "quantity": trade.Quantity, "avgCost": pos.AvgCost, "totalQuantity": pos.TotalQuantity(),
	})
	return nil
}

// applySell realizes PnL against the current average cost and reduces the
// holding. Assumes t.mu is held.
func (t *Tracker) applySell(ctx context.Context, trade *domain.Trade) error {
	asset := trade.BaseAsset()
	pos, exists := t.state[asset]

	entry := &domain.RealizedPnLEntry{
		Asset:     asset,
		TradeID:   trade.ID,
		Symbol:    trade.Symbol,
		Quantity:  trade.Quantity,
		SellPrice: trade.Price,
		Timestamp: trade.Timestamp,
	}

	if !exists {
		// No cost basis to sell against; no guess is made for untracked
		// inflows. The sale is still logged with zero realized PnL.
		t.logger.Warn(ctx, "Sell for untracked asset, realized PnL recorded as 0", map[string]interface{}{
			"asset": asset, "tradeID": trade.ID,
		})
		if err := t.realized.Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to log realized PnL for %s: %w", asset, err)
		}
		return nil
	}

	entry.RealizedPnl = (trade.Price - pos.AvgCost) * trade.Quantity
	if err := t.realized.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to log realized PnL for %s: %w", asset, err)
	}

	pos = pos.Clone()
	pos.FreeQty -= trade.Quantity
	pos.TotalInvested -= pos.AvgCost * trade.Quantity
	pos.LastUpdated = trade.Timestamp

	if pos.IsDust() {
		// Residual dust is dropped, not refunded.
		if err := t.positions.Delete(ctx, asset); err != nil {
			return fmt.Errorf("failed to remove closed position for %s: %w", asset, err)
		}
		delete(t.state, asset)
		t.logger.Info(ctx, "Position closed", map[string]interface{}{
			"asset": asset, "realizedPnl": entry.RealizedPnl,
		})
		return nil
	}

	if err := t.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist position for %s: %w", asset, err)
	}
	t.state[asset] = pos
	t.logger.Debug(ctx, "Sell applied to position", map[string]interface{}{
		"asset": asset, "quantity": trade.Quantity, "realizedPnl": entry.RealizedPnl, "totalQuantity": pos.TotalQuantity(),
	})
	return nil
}

// MarkPrice sets the current price for an asset and recomputes its
// unrealized PnL.
func (t *Tracker) MarkPrice(ctx context.Context, asset string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %v", ports.ErrValidation, price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, exists := t.state[asset]
	if !exists {
		return fmt.Errorf("no tracked position for asset %s: %w", asset, ports.ErrNotFound)
	}

	pos = pos.Clone()
	pos.MarkPrice(price, time.Now().UnixMilli())
	if err := t.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist marked position for %s: %w", asset, err)
	}
	t.state[asset] = pos
	return nil
}

// RefreshPrices re-marks every tracked position against the live oracle.
// A failed lookup keeps that asset's previous snapshot and records a warning;
// it never aborts the refresh.
func (t *Tracker) RefreshPrices(ctx context.Context) {
	for _, asset := range t.trackedAssets() {
		price, err := fetchPriceWithRetry(ctx, t.exchange, asset)
		if err != nil {
			t.logger.Warn(ctx, "Price refresh failed, keeping previous snapshot", map[string]interface{}{
				"asset": asset, "error": err.Error(),
			})
			continue
		}
		if err := t.MarkPrice(ctx, asset, price); err != nil {
			t.logger.Warn(ctx, "Failed to mark refreshed price", map[string]interface{}{
				"asset": asset, "error": err.Error(),
			})
		}
	}
}

// fetchPriceWithRetry is the single retry-then-degrade price lookup used
// everywhere a live price is needed.
func fetchPriceWithRetry(ctx context.Context, exchange ports.ExchangeClient, asset string) (float64, error) {
	symbol := asset + "USDT"
	price, err := exchange.GetTickerPrice(ctx, symbol)
	if err == nil {
		return price, nil
	}
	// One retry; callers degrade on a second failure.
	price, retryErr := exchange.GetTickerPrice(ctx, symbol)
	if retryErr != nil {
		return 0, fmt.Errorf("price lookup for %s failed after retry: %w", symbol, retryErr)
	}
	return price, nil
}

// trackedAssets snapshots the asset keys so price refreshes do not hold the
// lock across network calls.
func (t *Tracker) trackedAssets() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	assets := make([]string, 0, len(t.state))
	for asset := range t.state {
		assets = append(assets, asset)
	}
	return assets
}

// Positions returns the current holdings view: excluded assets and dust are
// filtered out, and the returned positions are copies.
func (t *Tracker) Positions(ctx context.Context) (map[string]*domain.Position, error) {
	excluded, err := t.excludedSet(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	view := make(map[string]*domain.Position, len(t.state))
	for asset, pos := range t.state {
		if pos.IsDust() {
			continue
		}
		if _, isExcluded := excluded[asset]; isExcluded {
			continue
		}
		view[asset] = pos.Clone()
	}
	return view, nil
}

// Position returns a copy of one tracked position, or nil when the asset is
// untracked, excluded, or dust.
func (t *Tracker) Position(ctx context.Context, asset string) (*domain.Position, error) {
	view, err := t.Positions(ctx)
	if err != nil {
		return nil, err
	}
	return view[asset], nil
}

func (t *Tracker) excludedSet(ctx context.Context) (map[string]struct{}, error) {
	entries, err := t.exclusions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclusion registry: %w", err)
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Asset] = struct{}{}
	}
	return set, nil
}

// Reconcile overwrites tracked quantities with the exchange's ground truth:
// known assets get the exchange's free/locked amounts, previously-untracked
// assets are seeded with the current price as cost basis, and tracked assets
// the exchange no longer reports are dropped.
func (t *Tracker) Reconcile(ctx context.Context) error {
	balances, err := t.exchange.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation aborted, balance read failed: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixMilli()
	reported := make(map[string]struct{}, len(balances))

	for _, b := range balances {
		if b.Asset == "USDT" {
			continue // the quote currency itself is cash, not a position
		}
		if b.Free+b.Locked <= domain.DustThreshold {
			continue
		}
		reported[b.Asset] = struct{}{}

		if pos, exists := t.state[b.Asset]; exists {
			pos = pos.Clone()
			pos.FreeQty = b.Free
			pos.LockedQty = b.Locked
			pos.LastUpdated = now
			if err := t.positions.Upsert(ctx, pos); err != nil {
				return fmt.Errorf("failed to persist reconciled position for %s: %w", b.Asset, err)
			}
			t.state[b.Asset] = pos
			continue
		}

		// Untracked inflow: seed cost basis from the current price. A failed
		// lookup skips the asset rather than inventing a basis.
		price, err := t.exchange.GetTickerPrice(ctx, b.Asset+"USDT")
		if err != nil {
			t.logger.Warn(ctx, "Skipping untracked asset during reconciliation, no price available", map[string]interface{}{
				"asset": b.Asset, "error": err.Error(),
			})
			continue
		}
		pos := &domain.Position{
			Asset:         b.Asset,
			FreeQty:       b.Free,
			LockedQty:     b.Locked,
			AvgCost:       price,
			TotalInvested: (b.Free + b.Locked) * price,
			CurrentPrice:  price,
			LastUpdated:   now,
		}
		if err := t.positions.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("failed to persist seeded position for %s: %w", b.Asset, err)
		}
		t.state[b.Asset] = pos
		t.logger.Info(ctx, "Untracked asset added during reconciliation", map[string]interface{}{
			"asset": b.Asset, "quantity": b.Free + b.Locked, "seedPrice": price,
		})
	}

	for asset := range t.state {
		if _, ok := reported[asset]; ok {
			continue
		}
		if err := t.positions.Delete(ctx, asset); err != nil {
			return fmt.Errorf("failed to drop unreported position for %s: %w", asset, err)
		}
		delete(t.state, asset)
		t.logger.Info(ctx, "Dropped position no longer reported by exchange", map[string]interface{}{"asset": asset})
	}

	t.logger.Info(ctx, "Reconciliation with exchange completed", map[string]interface{}{"positions": len(t.state)})
	return nil
}
