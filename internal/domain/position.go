package domain

// Position represents the current holding of a single asset, maintained by
// the position tracker from the stream of executed trades.
type Position struct {
	Asset                string  // Base asset held (e.g., "ETH")
	FreeQty              float64 // Quantity available for trading
	LockedQty            float64 // Quantity locked in open orders
	AvgCost              float64 // Weighted-average acquisition price per unit
	TotalInvested        float64 // Authoritative running cost basis (AvgCost * total quantity)
	CurrentPrice         float64 // Last known market price
	UnrealizedPnl        float64 // (CurrentPrice - AvgCost) * total quantity
	UnrealizedPnlPercent float64 // Unrealized PnL relative to AvgCost, in percent
	LastUpdated          int64   // Last state change, milliseconds since epoch
}

// TotalQuantity is the full holding, free plus locked. It must never be
// negative for any valid trade sequence.
func (p *Position) TotalQuantity() float64 {
	return p.FreeQty + p.LockedQty
}

// CurrentValue is the holding marked to the last known price.
func (p *Position) CurrentValue() float64 {
	return p.TotalQuantity() * p.CurrentPrice
}

// IsDust reports whether the holding has fallen to or below the dust
// threshold and should be dropped from all views.
func (p *Position) IsDust() bool {
	return p.TotalQuantity() <= DustThreshold
}

// MarkPrice refreshes the market price and recomputes the unrealized PnL
// figures against the position's average cost.
func (p *Position) MarkPrice(price float64, now int64) {
	p.CurrentPrice = price
	p.UnrealizedPnl = (price - p.AvgCost) * p.TotalQuantity()
	if p.AvgCost > 0 {
		p.UnrealizedPnlPercent = (price - p.AvgCost) / p.AvgCost * 100
	} else {
		p.UnrealizedPnlPercent = 0
	}
	p.LastUpdated = now
}

// Clone returns an independent copy so concurrent readers never observe a
// position being mutated.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
