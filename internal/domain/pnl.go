package domain

// RealizedPnLEntry records the profit or loss locked in by one SELL trade,
// computed with the position's average cost at the moment of the sale. The
// log is append-only; later trades never retroactively alter an entry.
type RealizedPnLEntry struct {
	Asset       string  // Base asset sold
	TradeID     string  // Trade that triggered the sale
	Symbol      string  // Symbol the sale executed on
	Quantity    float64 // Quantity sold
	SellPrice   float64 // Execution price of the sale
	RealizedPnl float64 // (SellPrice - AvgCost at sale) * Quantity
	Timestamp   int64   // Sale time, milliseconds since epoch
}
