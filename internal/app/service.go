package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"paperTrader/config"
	"paperTrader/internal/domain"
	"paperTrader/internal/portfolio"
	"paperTrader/internal/ports"
)

const recentTradesInReport = 50

// PortfolioService orchestrates the accounting engine: it is the single entry
// point through which trades are recorded and reports are requested.
type PortfolioService struct {
	cfg        *config.Config
	logger     ports.Logger
	exchange   ports.ExchangeClient
	ledger     ports.TradeLedger
	realized   ports.RealizedPnLStore
	exclusions ports.ExclusionStore
	tracker    *portfolio.Tracker
	calculator *portfolio.Calculator
	aggregator *portfolio.Aggregator

	// Serializes trade ingestion so the ledger and the position state always
	// agree on ordering.
	mu sync.Mutex
}

// NewPortfolioService creates a new application service instance.
func NewPortfolioService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	ledger ports.TradeLedger,
	realized ports.RealizedPnLStore,
	exclusions ports.ExclusionStore,
	tracker *portfolio.Tracker,
	calculator *portfolio.Calculator,
	aggregator *portfolio.Aggregator,
) (*PortfolioService, error) {
	if cfg == nil || logger == nil || exchange == nil || ledger == nil || realized == nil ||
		exclusions == nil || tracker == nil || calculator == nil || aggregator == nil {
		return nil, fmt.Errorf("missing required dependencies for PortfolioService")
	}
	return &PortfolioService{
		cfg:        cfg,
		logger:     logger,
		exchange:   exchange,
		ledger:     ledger,
		realized:   realized,
		exclusions: exclusions,
		tracker:    tracker,
		calculator: calculator,
		aggregator: aggregator,
	}, nil
}

// RecordTrade validates and durably records one executed trade, then applies
// it to the position state. When the ledger supports transactions the append
// and the position update commit together, so a failed write leaves nothing
// behind and the same trade can simply be resubmitted.
func (s *PortfolioService) RecordTrade(ctx context.Context, trade *domain.Trade) error {
	op := "RecordTrade"
	if trade == nil {
		return fmt.Errorf("%w: trade is required", ports.ErrValidation)
	}

	trade.Normalize()
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	persist := func(ctx context.Context) error {
		if err := s.ledger.Append(ctx, trade); err != nil {
			return fmt.Errorf("failed to record trade %s: %w", trade.ID, err)
		}
		if err := s.tracker.ApplyTrade(ctx, trade); err != nil {
			return fmt.Errorf("failed to apply trade %s to position: %w", trade.ID, err)
		}
		return nil
	}

	var err error
	if runner, ok := s.ledger.(ports.TxRunner); ok {
		err = runner.InTx(ctx, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		// Resync the in-memory positions with the store so a retry starts
		// from durable truth.
		if loadErr := s.tracker.Load(ctx); loadErr != nil {
			s.logger.Error(ctx, loadErr, op+": Failed to reload positions after write failure")
		}
		s.logger.Error(ctx, err, op+": Failed to record trade", map[string]interface{}{"tradeID": trade.ID})
		return err
	}

	s.logger.Info(ctx, op+": Trade recorded", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "side": trade.Side,
		"quantity": trade.Quantity, "price": trade.Price,
	})
	return nil
}

// GetPositions returns the current holdings view, excluded assets and dust
// filtered out.
func (s *PortfolioService) GetPositions(ctx context.Context) (map[string]*domain.Position, error) {
	return s.tracker.Positions(ctx)
}

// GetPosition returns one tracked position, or nil when untracked.
func (s *PortfolioService) GetPosition(ctx context.Context, asset string) (*domain.Position, error) {
	return s.tracker.Position(ctx, asset)
}

// GetAnalytics recomputes the portfolio analytics report and persists it as
// the latest snapshot.
func (s *PortfolioService) GetAnalytics(ctx context.Context) (*domain.AnalyticsReport, error) {
	return s.aggregator.ComputeAnalytics(ctx)
}

// GetPnL computes the windowed PnL report for [startTs, endTs].
func (s *PortfolioService) GetPnL(ctx context.Context, startTs, endTs int64) (*domain.PnLReport, error) {
	return s.calculator.CalculateRange(ctx, startTs, endTs)
}

// GetFIFOPnL computes the alternate lot-matching realized-PnL report over the
// full ledger.
func (s *PortfolioService) GetFIFOPnL(ctx context.Context) (*domain.FIFOPnLReport, error) {
	return s.calculator.CalculateLifetimeFIFO(ctx)
}

// GetTradeHistory returns recorded trades matching the filter, most recent
// first.
func (s *PortfolioService) GetTradeHistory(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	return s.ledger.Find(ctx, filter)
}

// GetAssetPerformance returns the windowed activity report for one asset.
func (s *PortfolioService) GetAssetPerformance(ctx context.Context, asset string, periodDays int) (*domain.AssetPerformance, error) {
	return s.aggregator.AssetPerformance(ctx, asset, periodDays)
}

// ReconcileWithExchange overwrites tracked quantities with the exchange's
// reported balances.
func (s *PortfolioService) ReconcileWithExchange(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Reconcile(ctx)
}

// ExcludeAsset hides an asset from all reporting views. Its trades stay in
// the ledger.
func (s *PortfolioService) ExcludeAsset(ctx context.Context, asset, reason string) error {
	if asset == "" {
		return fmt.Errorf("%w: asset is required", ports.ErrValidation)
	}
	entry := &domain.ExclusionEntry{Asset: asset, Reason: reason, AddedAt: time.Now().UnixMilli()}
	if err := s.exclusions.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to exclude asset %s: %w", asset, err)
	}
	s.logger.Info(ctx, "Asset excluded from reporting", map[string]interface{}{"asset": asset, "reason": reason})
	return nil
}

// IncludeAsset lifts an exclusion. Including a never-excluded asset is a
// no-op.
func (s *PortfolioService) IncludeAsset(ctx context.Context, asset string) error {
	if asset == "" {
		return fmt.Errorf("%w: asset is required", ports.ErrValidation)
	}
	if err := s.exclusions.Remove(ctx, asset); err != nil {
		return fmt.Errorf("failed to include asset %s: %w", asset, err)
	}
	s.logger.Info(ctx, "Asset exclusion lifted", map[string]interface{}{"asset": asset})
	return nil
}

// ListExclusions returns the current exclusion registry.
func (s *PortfolioService) ListExclusions(ctx context.Context) ([]*domain.ExclusionEntry, error) {
	return s.exclusions.List(ctx)
}

// BuildReport assembles the full portfolio export: analytics, holdings,
// recent trades, and the realized-PnL history.
func (s *PortfolioService) BuildReport(ctx context.Context) (*domain.PortfolioReport, error) {
	analytics, err := s.aggregator.ComputeAnalytics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute analytics for report: %w", err)
	}
	holdings, err := s.tracker.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read holdings for report: %w", err)
	}
	recent, err := s.ledger.Find(ctx, ports.TradeFilter{Limit: recentTradesInReport})
	if err != nil {
		return nil, fmt.Errorf("failed to read recent trades for report: %w", err)
	}
	history, err := s.realized.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read realized history for report: %w", err)
	}
	return &domain.PortfolioReport{
		GeneratedAt:     time.Now().UnixMilli(),
		Analytics:       analytics,
		Holdings:        holdings,
		RecentTrades:    recent,
		RealizedHistory: history,
	}, nil
}

// Start runs the long-lived service loop: it verifies exchange connectivity,
// hydrates position state, optionally reconciles against the exchange, and
// then refreshes prices and the analytics snapshot on a fixed interval until
// the context is cancelled or a shutdown signal arrives.
func (s *PortfolioService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Portfolio Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Verify exchange connectivity. Degraded valuation is tolerated later,
	// but starting blind is reported upfront.
	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "Exchange unreachable at startup, valuations will be degraded until it recovers", map[string]interface{}{"error": err.Error()})
	} else if serverTime, err := s.exchange.GetServerTime(ctx); err == nil {
		s.logger.Info(ctx, "Exchange connectivity verified", map[string]interface{}{"serverTime": serverTime.UnixMilli()})
	}

	// 2. Hydrate position state from the durable store.
	if err := s.tracker.Load(ctx); err != nil {
		return fmt.Errorf("failed to load position state: %w", err)
	}

	// 3. Optional reconciliation against exchange balances.
	if s.cfg.ReconcileOnStart {
		if err := s.ReconcileWithExchange(ctx); err != nil {
			s.logger.Error(ctx, err, "Startup reconciliation failed, continuing with stored state")
		}
	}

	// 4. First valuation pass so the snapshot is fresh before the ticker.
	s.refreshAndSnapshot(ctx)

	ticker := time.NewTicker(s.cfg.PriceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Portfolio Service stopped.")
			return nil
		case <-ticker.C:
			s.refreshAndSnapshot(ctx)
		}
	}
}

// refreshAndSnapshot re-marks all positions and persists a fresh analytics
// snapshot. Failures are logged, never fatal to the loop.
func (s *PortfolioService) refreshAndSnapshot(ctx context.Context) {
	s.tracker.RefreshPrices(ctx)
	if _, err := s.aggregator.ComputeAnalytics(ctx); err != nil {
		s.logger.Error(ctx, err, "Periodic analytics computation failed")
	}
}
