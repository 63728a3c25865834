package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseAssetOf(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{symbol: "BTCUSDT", want: "BTC"},
		{symbol: "ETHUSDT", want: "ETH"},
		{symbol: "ETHBTC", want: "ETH"},
		{symbol: "SOLETH", want: "SOL"},
		{symbol: "USDT", want: "USDT"},   // never stripped to empty
		{symbol: "WEIRD", want: "WEIRD"}, // unknown quote, returned unchanged
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseAssetOf(tt.symbol))
		})
	}
}

func TestTradeQuoteAsset(t *testing.T) {
	assert.Equal(t, "USDT", (&Trade{Symbol: "BTCUSDT"}).QuoteAsset())
	assert.Equal(t, "BTC", (&Trade{Symbol: "ETHBTC"}).QuoteAsset())
	assert.Equal(t, "USDT", (&Trade{Symbol: "WEIRD"}).QuoteAsset())
}

func TestTradeNormalize(t *testing.T) {
	trade := &Trade{Symbol: "ETHUSDT", Side: Buy, Quantity: 2, Price: 2000, Timestamp: 1}
	trade.Normalize()
	assert.InDelta(t, 4000.0, trade.QuoteQty, 1e-9)
	assert.Equal(t, "USDT", trade.CommissionAsset)
	assert.Equal(t, "MARKET", trade.OrderType)

	// Already-set fields are preserved.
	trade = &Trade{Symbol: "ETHUSDT", QuoteQty: 3999.5, CommissionAsset: "ETH", OrderType: "LIMIT"}
	trade.Normalize()
	assert.InDelta(t, 3999.5, trade.QuoteQty, 1e-9)
	assert.Equal(t, "ETH", trade.CommissionAsset)
	assert.Equal(t, "LIMIT", trade.OrderType)
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{Symbol: "BTCUSDT", Side: Buy, Quantity: 1, Price: 100, Timestamp: 1}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Trade)
	}{
		{name: "empty symbol", mutate: func(t *Trade) { t.Symbol = "" }},
		{name: "bad side", mutate: func(t *Trade) { t.Side = "HOLD" }},
		{name: "zero quantity", mutate: func(t *Trade) { t.Quantity = 0 }},
		{name: "negative price", mutate: func(t *Trade) { t.Price = -1 }},
		{name: "negative commission", mutate: func(t *Trade) { t.Commission = -0.1 }},
		{name: "zero timestamp", mutate: func(t *Trade) { t.Timestamp = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := valid
			tt.mutate(&trade)
			assert.Error(t, trade.Validate())
		})
	}
}

func TestPositionMarkPrice(t *testing.T) {
	pos := &Position{Asset: "BTC", FreeQty: 2, AvgCost: 100, TotalInvested: 200}
	pos.MarkPrice(120, 5000)

	assert.InDelta(t, 120.0, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, 40.0, pos.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 20.0, pos.UnrealizedPnlPercent, 1e-9)
	assert.Equal(t, int64(5000), pos.LastUpdated)

	// Zero average cost never divides.
	seeded := &Position{Asset: "AIR", FreeQty: 10}
	seeded.MarkPrice(3, 5000)
	assert.Zero(t, seeded.UnrealizedPnlPercent)
	assert.InDelta(t, 30.0, seeded.UnrealizedPnl, 1e-9)
}

func TestPositionDust(t *testing.T) {
	assert.True(t, (&Position{FreeQty: 0}).IsDust())
	assert.True(t, (&Position{FreeQty: 5e-7}).IsDust())
	assert.False(t, (&Position{FreeQty: 2e-6}).IsDust())
	assert.False(t, (&Position{LockedQty: 1}).IsDust())
}
