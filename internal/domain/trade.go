package domain

import (
	"fmt"
	"strings"
)

// Trade represents a single executed (filled) trade. Trades are immutable once
// recorded: the ledger only ever appends them.
type Trade struct {
	ID              string    // Unique identifier assigned at ingestion
	Symbol          string    // Trading symbol, base+quote concatenated (e.g., "ETHUSDT")
	Side            OrderSide // BUY or SELL
	Quantity        float64   // Base asset quantity, always positive
	Price           float64   // Execution price in the quote asset
	QuoteQty        float64   // Quantity * Price unless fees distorted the fill
	Commission      float64   // Fee charged by the exchange
	CommissionAsset string    // Asset the fee was denominated in
	Timestamp       int64     // Execution time, milliseconds since epoch
	OrderType       string    // Order type that produced the fill (e.g., "MARKET")
	ExchangeTradeID string    // Exchange-side trade/order identifier, if known
}

// BaseAsset derives the traded asset from the symbol by stripping a known
// quote suffix (e.g., "BTC" from "BTCUSDT"). Symbols without a recognized
// suffix are returned unchanged.
func (t *Trade) BaseAsset() string {
	return BaseAssetOf(t.Symbol)
}

// QuoteAsset derives the pricing asset from the symbol. Defaults to USDT when
// no known suffix matches.
func (t *Trade) QuoteAsset() string {
	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(t.Symbol, quote) && t.Symbol != quote {
			return quote
		}
	}
	return "USDT"
}

// BaseAssetOf strips a known quote suffix from a concatenated symbol.
func BaseAssetOf(symbol string) string {
	for _, quote := range quoteSuffixes {
		if strings.HasSuffix(symbol, quote) && symbol != quote {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

// Validate checks the fields every recorded trade must carry. It is applied at
// the ingestion boundary; trades that fail here are rejected, never stored.
func (t *Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("trade symbol is required")
	}
	if !t.Side.IsValid() {
		return fmt.Errorf("invalid trade side %q: must be BUY or SELL", t.Side)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive, got %v", t.Quantity)
	}
	if t.Price <= 0 {
		return fmt.Errorf("trade price must be positive, got %v", t.Price)
	}
	if t.Commission < 0 {
		return fmt.Errorf("trade commission cannot be negative, got %v", t.Commission)
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("trade timestamp must be positive, got %v", t.Timestamp)
	}
	return nil
}

// Normalize fills derivable fields: QuoteQty from quantity and price when the
// producer omitted it, and a default commission asset of the quote currency.
func (t *Trade) Normalize() {
	if t.QuoteQty == 0 {
		t.QuoteQty = t.Quantity * t.Price
	}
	if t.CommissionAsset == "" {
		t.CommissionAsset = t.QuoteAsset()
	}
	if t.OrderType == "" {
		t.OrderType = "MARKET"
	}
}
