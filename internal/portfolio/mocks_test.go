package portfolio

import (
	"context"
	"sync"
	"time"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Mock implementations shared by the portfolio package tests.

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

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	upsertErr error
	deleteErr error
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]*domain.Position)}
}

func (m *memPositionStore) Upsert(ctx context.Context, pos *domain.Position) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Asset] = pos.Clone()
	return nil
}

func (m *memPositionStore) Delete(ctx context.Context, asset string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, asset)
	return nil
}

func (m *memPositionStore) FindAll(ctx context.Context) (map[string]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.Position, len(m.positions))
	for asset, pos := range m.positions {
		out[asset] = pos.Clone()
	}
	return out, nil
}

type memRealizedStore struct {
	mu        sync.Mutex
	entries   []*domain.RealizedPnLEntry
	appendErr error
}

func (m *memRealizedStore) Append(ctx context.Context, entry *domain.RealizedPnLEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.entries = append(m.entries, &copied)
	return nil
}

func (m *memRealizedStore) All(ctx context.Context) ([]*domain.RealizedPnLEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.RealizedPnLEntry(nil), m.entries...), nil
}

func (m *memRealizedStore) TotalRealized(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, e := range m.entries {
		total += e.RealizedPnl
	}
	return total, nil
}

type memExclusionStore struct {
	mu      sync.Mutex
	entries map[string]*domain.ExclusionEntry
}

func newMemExclusionStore() *memExclusionStore {
	return &memExclusionStore{entries: make(map[string]*domain.ExclusionEntry)}
}

func (m *memExclusionStore) Add(ctx context.Context, entry *domain.ExclusionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.Asset]; !exists {
		m.entries[entry.Asset] = entry
	}
	return nil
}

func (m *memExclusionStore) Remove(ctx context.Context, asset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, asset)
	return nil
}

func (m *memExclusionStore) Contains(ctx context.Context, asset string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[asset]
	return ok, nil
}

func (m *memExclusionStore) List(ctx context.Context) ([]*domain.ExclusionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ExclusionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

type memAnalyticsStore struct {
	mu       sync.Mutex
	snapshot *domain.AnalyticsReport
	saveErr  error
}

func (m *memAnalyticsStore) SaveSnapshot(ctx context.Context, report *domain.AnalyticsReport) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = report
	return nil
}

func (m *memAnalyticsStore) LoadSnapshot(ctx context.Context) (*domain.AnalyticsReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

type memTradeLedger struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

func (m *memTradeLedger) Append(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *trade
	m.trades = append(m.trades, &copied)
	return nil
}

func (m *memTradeLedger) Query(ctx context.Context, startTs, endTs int64) ([]*domain.Trade, error) {
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

func (m *memTradeLedger) All(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Trade(nil), m.trades...), nil
}

func (m *memTradeLedger) Find(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
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
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

type mockExchange struct {
	mu         sync.Mutex
	prices     map[string]float64
	priceErrs  map[string]error
	priceCalls map[string]int
	balances   []ports.Balance
	balanceErr error
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		prices:     make(map[string]float64),
		priceErrs:  make(map[string]error),
		priceCalls: make(map[string]int),
	}
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls[symbol]++
	if err, ok := m.priceErrs[symbol]; ok {
		return 0, err
	}
	return m.prices[symbol], nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]ports.Balance, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balances, nil
}

func (m *mockExchange) Ping(ctx context.Context) error {
	return nil
}

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}
