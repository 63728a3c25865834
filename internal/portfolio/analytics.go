package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

const performerListSize = 5

// Aggregator derives portfolio-level analytics from current positions, the
// full trade ledger, and the lifetime realized-PnL log.
type Aggregator struct {
	tracker   *Tracker
	ledger    ports.TradeLedger
	realized  ports.RealizedPnLStore
	snapshots ports.AnalyticsStore
	logger    ports.Logger
}

// NewAggregator creates an analytics aggregator.
func NewAggregator(
	tracker *Tracker,
	ledger ports.TradeLedger,
	realized ports.RealizedPnLStore,
	snapshots ports.AnalyticsStore,
	logger ports.Logger,
) (*Aggregator, error) {
	if tracker == nil || ledger == nil || realized == nil || snapshots == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Aggregator")
	}
	return &Aggregator{
		tracker:   tracker,
		ledger:    ledger,
		realized:  realized,
		snapshots: snapshots,
		logger:    logger,
	}, nil
}

// ComputeAnalytics builds the portfolio-level report from whatever is
// currently tracked and persists it as the latest snapshot. A failed snapshot
// write is logged but does not fail the computation.
func (a *Aggregator) ComputeAnalytics(ctx context.Context) (*domain.AnalyticsReport, error) {
	positions, err := a.tracker.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions for analytics: %w", err)
	}

	report := &domain.AnalyticsReport{
		AssetAllocation: make(map[string]domain.AssetAllocation),
	}

	for _, pos := range positions {
		report.TotalPortfolioValue += pos.CurrentValue()
		report.TotalInvested += pos.TotalInvested
		report.TotalUnrealizedPnl += pos.UnrealizedPnl
	}
	if report.TotalInvested > 0 {
		report.TotalUnrealizedPnlPercent = report.TotalUnrealizedPnl / report.TotalInvested * 100
	}

	for asset, pos := range positions {
		alloc := domain.AssetAllocation{
			Value:    pos.CurrentValue(),
			Quantity: pos.TotalQuantity(),
		}
		if report.TotalPortfolioValue > 0 {
			alloc.Percentage = alloc.Value / report.TotalPortfolioValue * 100
		}
		report.AssetAllocation[asset] = alloc
	}

	report.TopPerformers, report.WorstPerformers = rankPerformers(positions)

	totalRealized, err := a.realized.TotalRealized(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sum realized PnL log: %w", err)
	}
	report.TotalRealizedPnl = totalRealized

	trades, err := a.ledger.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for trading stats: %w", err)
	}
	report.TradingStats = computeTradingStats(trades)
	report.LastUpdated = newestTimestamp(positions, trades)

	if err := a.snapshots.SaveSnapshot(ctx, report); err != nil {
		a.logger.Warn(ctx, "Failed to persist analytics snapshot", map[string]interface{}{"error": err.Error()})
	}
	return report, nil
}

// LatestSnapshot returns the last persisted analytics report, or nil when
// none has been computed yet.
func (a *Aggregator) LatestSnapshot(ctx context.Context) (*domain.AnalyticsReport, error) {
	return a.snapshots.LoadSnapshot(ctx)
}

// newestTimestamp derives the report timestamp from the newest position
// update or trade rather than the clock, so the same inputs always produce
// the same report.
func newestTimestamp(positions map[string]*domain.Position, trades []*domain.Trade) int64 {
	var ts int64
	for _, pos := range positions {
		if pos.LastUpdated > ts {
			ts = pos.LastUpdated
		}
	}
	for _, trade := range trades {
		if trade.Timestamp > ts {
			ts = trade.Timestamp
		}
	}
	return ts
}

// rankPerformers returns the up-to-5 best and up-to-5 worst positions by
// unrealized percent. With fewer than 10 positions the two lists overlap.
func rankPerformers(positions map[string]*domain.Position) (top, worst []domain.Performer) {
	ranked := make([]domain.Performer, 0, len(positions))
	for asset, pos := range positions {
		ranked = append(ranked, domain.Performer{Asset: asset, UnrealizedPnlPercent: pos.UnrealizedPnlPercent})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].UnrealizedPnlPercent != ranked[j].UnrealizedPnlPercent {
			return ranked[i].UnrealizedPnlPercent > ranked[j].UnrealizedPnlPercent
		}
		return ranked[i].Asset < ranked[j].Asset
	})

	n := len(ranked)
	topN := performerListSize
	if n < topN {
		topN = n
	}
	top = append(top, ranked[:topN]...)

	worst = make([]domain.Performer, 0, topN)
	for i := n - 1; i >= 0 && len(worst) < performerListSize; i-- {
		worst = append(worst, ranked[i])
	}
	return top, worst
}

// computeTradingStats summarizes activity over the full ledger. Ties for the
// most-traded asset go to the asset encountered first in ledger order.
func computeTradingStats(trades []*domain.Trade) domain.TradingStats {
	stats := domain.TradingStats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	minTs, maxTs := trades[0].Timestamp, trades[0].Timestamp

	for _, trade := range trades {
		switch trade.Side {
		case domain.Buy:
			stats.BuyTrades++
		case domain.Sell:
			stats.SellTrades++
		}
		stats.TotalVolume += trade.QuoteQty

		asset := trade.BaseAsset()
		if _, seen := counts[asset]; !seen {
			order = append(order, asset)
		}
		counts[asset]++

		if trade.Timestamp < minTs {
			minTs = trade.Timestamp
		}
		if trade.Timestamp > maxTs {
			maxTs = trade.Timestamp
		}
	}

	stats.AvgTradeSize = stats.TotalVolume / float64(stats.TotalTrades)

	best := -1
	for _, asset := range order {
		if counts[asset] > best {
			best = counts[asset]
			stats.MostTradedAsset = asset
		}
	}

	spanDays := float64(maxTs-minTs) / float64(24*time.Hour/time.Millisecond)
	if spanDays < 1 {
		spanDays = 1
	}
	stats.TradingFrequency = float64(stats.TotalTrades) / spanDays

	return stats
}

// AssetPerformance builds the windowed activity report for one asset over the
// trailing periodDays.
func (a *Aggregator) AssetPerformance(ctx context.Context, asset string, periodDays int) (*domain.AssetPerformance, error) {
	if asset == "" {
		return nil, fmt.Errorf("%w: asset is required", ports.ErrValidation)
	}
	if periodDays <= 0 {
		return nil, fmt.Errorf("%w: period must be positive, got %d", ports.ErrValidation, periodDays)
	}

	endTs := time.Now().UnixMilli()
	startTs := endTs - int64(periodDays)*int64(24*time.Hour/time.Millisecond)

	trades, err := a.ledger.Query(ctx, startTs, endTs)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades for %s performance: %w", asset, err)
	}

	perf := &domain.AssetPerformance{Asset: asset, PeriodDays: periodDays}
	var buyCost, sellRevenue float64

	for _, trade := range trades {
		if trade.BaseAsset() != asset {
			continue
		}
		perf.TotalTrades++
		switch trade.Side {
		case domain.Buy:
			perf.BuyTrades++
			perf.TotalBought += trade.Quantity
			buyCost += trade.QuoteQty
		case domain.Sell:
			perf.SellTrades++
			perf.TotalSold += trade.Quantity
			sellRevenue += trade.QuoteQty
		}
	}

	perf.NetPosition = perf.TotalBought - perf.TotalSold
	if perf.TotalBought > 0 {
		perf.AvgBuyPrice = buyCost / perf.TotalBought
	}
	if perf.TotalSold > 0 {
		perf.AvgSellPrice = sellRevenue / perf.TotalSold
	}

	holding, err := a.tracker.Position(ctx, asset)
	if err != nil {
		return nil, err
	}
	perf.CurrentHolding = holding

	return perf, nil
}
