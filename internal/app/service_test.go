package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperTrader/config"
	"paperTrader/internal/adapters/sqlite"
	"paperTrader/internal/domain"
	"paperTrader/internal/portfolio"
	"paperTrader/internal/ports"
)

// Mock implementations

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockExchange struct {
	prices    map[string]float64
	balances  []ports.Balance
	pingErr   error
	priceErrs map[string]error
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	if err, ok := m.priceErrs[symbol]; ok {
		return 0, err
	}
	return m.prices[symbol], nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]ports.Balance, error) {
	return m.balances, nil
}

func (m *mockExchange) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

type memStore struct {
	mu         sync.Mutex
	trades     []*domain.Trade
	positions  map[string]*domain.Position
	realized   []*domain.RealizedPnLEntry
	exclusions map[string]*domain.ExclusionEntry
	snapshot   *domain.AnalyticsReport
}

func newMemStore() *memStore {
	return &memStore{
		positions:  make(map[string]*domain.Position),
		exclusions: make(map[string]*domain.ExclusionEntry),
	}
}

func (m *memStore) Append(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *trade
	m.trades = append(m.trades, &copied)
	return nil
}

func (m *memStore) Query(ctx context.Context, startTs, endTs int64) ([]*domain.Trade, error) {
	if startTs >= endTs {
		return nil, ports.ErrInvalidTimeRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.Timestamp >= startTs && t.Timestamp <= endTs {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) All(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Trade(nil), m.trades...), nil
}

func (m *memStore) Find(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if filter.Symbol != "" && t.Symbol != filter.Symbol {
			continue
		}
		if filter.Side != "" && t.Side != filter.Side {
			continue
		}
		out = append(out, t)
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) Upsert(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Asset] = pos.Clone()
	return nil
}

func (m *memStore) Delete(ctx context.Context, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, asset)
	return nil
}

func (m *memStore) FindAll(ctx context.Context) (map[string]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.Position, len(m.positions))
	for asset, pos := range m.positions {
		out[asset] = pos.Clone()
	}
	return out, nil
}

type memRealized struct{ store *memStore }

func (m memRealized) Append(ctx context.Context, entry *domain.RealizedPnLEntry) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	copied := *entry
	m.store.realized = append(m.store.realized, &copied)
	return nil
}

func (m memRealized) All(ctx context.Context) ([]*domain.RealizedPnLEntry, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return append([]*domain.RealizedPnLEntry(nil), m.store.realized...), nil
}

func (m memRealized) TotalRealized(ctx context.Context) (float64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var total float64
	for _, e := range m.store.realized {
		total += e.RealizedPnl
	}
	return total, nil
}

type memExclusions struct{ store *memStore }

func (m memExclusions) Add(ctx context.Context, entry *domain.ExclusionEntry) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, exists := m.store.exclusions[entry.Asset]; !exists {
		m.store.exclusions[entry.Asset] = entry
	}
	return nil
}

func (m memExclusions) Remove(ctx context.Context, asset string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	delete(m.store.exclusions, asset)
	return nil
}

func (m memExclusions) Contains(ctx context.Context, asset string) (bool, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	_, ok := m.store.exclusions[asset]
	return ok, nil
}

func (m memExclusions) List(ctx context.Context) ([]*domain.ExclusionEntry, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	out := make([]*domain.ExclusionEntry, 0, len(m.store.exclusions))
	for _, e := range m.store.exclusions {
		out = append(out, e)
	}
	return out, nil
}

type memSnapshots struct{ store *memStore }

func (m memSnapshots) SaveSnapshot(ctx context.Context, report *domain.AnalyticsReport) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.snapshot = report
	return nil
}

func (m memSnapshots) LoadSnapshot(ctx context.Context) (*domain.AnalyticsReport, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return m.store.snapshot, nil
}

func testConfig() *config.Config {
	return &config.Config{
		APIKey:               "test-key",
		SecretKey:            "test-secret",
		IsTestnet:            true,
		DBPath:               ":memory:",
		PriceTimeout:         time.Second,
		PriceRefreshInterval: time.Minute,
	}
}

func newTestService(t *testing.T) (*PortfolioService, *memStore, *mockExchange, *mockLogger) {
	t.Helper()
	store := newMemStore()
	exchange := &mockExchange{
		prices:    make(map[string]float64),
		priceErrs: make(map[string]error),
	}
	logger := &mockLogger{}

	tracker, err := portfolio.NewTracker(store, memRealized{store}, memExclusions{store}, exchange, logger)
	require.NoError(t, err)
	require.NoError(t, tracker.Load(context.Background()))

	calc, err := portfolio.NewCalculator(store, tracker, exchange, logger)
	require.NoError(t, err)

	agg, err := portfolio.NewAggregator(tracker, store, memRealized{store}, memSnapshots{store}, logger)
	require.NoError(t, err)

	svc, err := NewPortfolioService(testConfig(), logger, exchange, store, memRealized{store}, memExclusions{store}, tracker, calc, agg)
	require.NoError(t, err)
	return svc, store, exchange, logger
}

func TestRecordTradeAssignsIDAndNormalizes(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	trade := &domain.Trade{
		Symbol:    "BTCUSDT",
		Side:      domain.Buy,
		Quantity:  1,
		Price:     100,
		Timestamp: 1000,
	}
	require.NoError(t, svc.RecordTrade(ctx, trade))

	assert.NotEmpty(t, trade.ID)
	assert.InDelta(t, 100.0, trade.QuoteQty, 1e-9)
	assert.Equal(t, "USDT", trade.CommissionAsset)

	recorded, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, recorded, 1)

	pos, err := svc.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 100.0, pos.AvgCost, 1e-9)
}

func TestRecordTradeRejectsInvalid(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	err := svc.RecordTrade(ctx, nil)
	assert.ErrorIs(t, err, ports.ErrValidation)

	err = svc.RecordTrade(ctx, &domain.Trade{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: -1, Price: 100, Timestamp: 1000})
	assert.ErrorIs(t, err, ports.ErrValidation)

	// Nothing reached the ledger.
	recorded, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestRecordTradeKeepsProvidedID(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	trade := &domain.Trade{
		ID:        "exchange-12345",
		Symbol:    "ETHUSDT",
		Side:      domain.Buy,
		Quantity:  1,
		Price:     2000,
		Timestamp: 1000,
	}
	require.NoError(t, svc.RecordTrade(context.Background(), trade))
	assert.Equal(t, "exchange-12345", trade.ID)
}

func TestServiceEndToEndRoundTrip(t *testing.T) {
	svc, _, exchange, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 1, Price: 2000, Timestamp: 1000,
	}))
	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "ETHUSDT", Side: domain.Sell, Quantity: 1, Price: 2100, Timestamp: 2000,
	}))
	exchange.prices["ETHUSDT"] = 2100

	// Position fully closed.
	pos, err := svc.GetPosition(ctx, "ETH")
	require.NoError(t, err)
	assert.Nil(t, pos)

	analytics, err := svc.GetAnalytics(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, analytics.TotalRealizedPnl, 1e-9)

	pnl, err := svc.GetPnL(ctx, 0, 5000)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl.RealizedPnl, 1e-9)
	assert.InDelta(t, 100.0, pnl.TotalPnl, 1e-9)
}

func TestExclusionLifecycle(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "DOGEUSDT", Side: domain.Buy, Quantity: 100, Price: 0.1, Timestamp: 1000,
	}))

	require.NoError(t, svc.ExcludeAsset(ctx, "DOGE", "airdrop noise"))

	positions, err := svc.GetPositions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, positions, "DOGE")

	listed, err := svc.ListExclusions(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "DOGE", listed[0].Asset)
	assert.Equal(t, "airdrop noise", listed[0].Reason)

	require.NoError(t, svc.IncludeAsset(ctx, "DOGE"))
	positions, err = svc.GetPositions(ctx)
	require.NoError(t, err)
	assert.Contains(t, positions, "DOGE")

	// Lifting an exclusion never removed in the first place is a no-op.
	require.NoError(t, svc.IncludeAsset(ctx, "DOGE"))

	assert.ErrorIs(t, svc.ExcludeAsset(ctx, "", "x"), ports.ErrValidation)
	assert.ErrorIs(t, svc.IncludeAsset(ctx, ""), ports.ErrValidation)
}

func TestGetTradeHistoryFilters(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 100, Timestamp: 1000,
	}))
	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 1, Price: 2000, Timestamp: 2000,
	}))
	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.5, Price: 110, Timestamp: 3000,
	}))

	btcTrades, err := svc.GetTradeHistory(ctx, ports.TradeFilter{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, btcTrades, 2)
	// Most recent first.
	assert.Equal(t, domain.Sell, btcTrades[0].Side)

	sells, err := svc.GetTradeHistory(ctx, ports.TradeFilter{Side: domain.Sell})
	require.NoError(t, err)
	require.Len(t, sells, 1)
}

func TestReconcileWithExchange(t *testing.T) {
	svc, _, exchange, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 100, Timestamp: 1000,
	}))

	exchange.balances = []ports.Balance{{Asset: "BTC", Free: 0.7}}
	require.NoError(t, svc.ReconcileWithExchange(ctx))

	pos, err := svc.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.7, pos.FreeQty, 1e-9)
}

func TestBuildReport(t *testing.T) {
	svc, _, exchange, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 100, Timestamp: 1000,
	}))
	require.NoError(t, svc.RecordTrade(ctx, &domain.Trade{
		Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.5, Price: 120, Timestamp: 2000,
	}))
	exchange.prices["BTCUSDT"] = 130

	report, err := svc.BuildReport(ctx)
	require.NoError(t, err)

	assert.NotZero(t, report.GeneratedAt)
	require.NotNil(t, report.Analytics)
	assert.InDelta(t, 10.0, report.Analytics.TotalRealizedPnl, 1e-9)
	assert.Contains(t, report.Holdings, "BTC")
	assert.Len(t, report.RecentTrades, 2)
	assert.Len(t, report.RealizedHistory, 1)
}

func TestNewPortfolioServiceRequiresDependencies(t *testing.T) {
	_, err := NewPortfolioService(nil, nil, nil, nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

// failingPositionStore rejects a fixed number of upserts before delegating.
type failingPositionStore struct {
	ports.PositionStore
	failures int
}

func (f *failingPositionStore) Upsert(ctx context.Context, pos *domain.Position) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("position store busy: %w", ports.ErrConcurrency)
	}
	return f.PositionStore.Upsert(ctx, pos)
}

func TestRecordTradeRetrySucceedsAfterTransientStoreFailure(t *testing.T) {
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	exchange := &mockExchange{prices: make(map[string]float64), priceErrs: make(map[string]error)}
	logger := &mockLogger{}
	positions := &failingPositionStore{PositionStore: repo, failures: 1}

	tracker, err := portfolio.NewTracker(positions, repo.Realized(), repo.Exclusions(), exchange, logger)
	require.NoError(t, err)
	require.NoError(t, tracker.Load(ctx))

	calc, err := portfolio.NewCalculator(repo, tracker, exchange, logger)
	require.NoError(t, err)
	agg, err := portfolio.NewAggregator(tracker, repo, repo.Realized(), repo, logger)
	require.NoError(t, err)

	svc, err := NewPortfolioService(testConfig(), logger, exchange, repo, repo.Realized(), repo.Exclusions(), tracker, calc, agg)
	require.NoError(t, err)

	trade := &domain.Trade{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 1, Price: 100, Timestamp: 1000}
	err = svc.RecordTrade(ctx, trade)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConcurrency)

	// The rolled-back append left the ledger empty and the position untouched.
	recorded, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, recorded)
	pos, err := svc.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)

	// Resubmitting the identical trade goes through cleanly.
	require.NoError(t, svc.RecordTrade(ctx, trade))
	recorded, err = repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, trade.ID, recorded[0].ID)

	// A tracker rebuilt from the store sees the position.
	restored, err := portfolio.NewTracker(repo, repo.Realized(), repo.Exclusions(), exchange, logger)
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))
	pos, err = restored.Position(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 1.0, pos.FreeQty, 1e-9)
	assert.InDelta(t, 100.0, pos.AvgCost, 1e-9)
}
