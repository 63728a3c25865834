package domain

// PnLReport is the result of a time-ranged profit/loss calculation. The
// summary realized figure is a window-scoped cash-flow measure (USDT received
// minus USDT spent), distinct from the lifetime realized-PnL log.
type PnLReport struct {
	StartTime         int64               // Window start, milliseconds since epoch
	EndTime           int64               // Window end, milliseconds since epoch
	UsdtSpent         float64             // Sum of quote quantities across BUY trades
	UsdtReceived      float64             // Sum of quote quantities across SELL trades, net of quote-denominated fees
	RealizedPnl       float64             // UsdtReceived - UsdtSpent
	UnrealizedPnl     float64             // Sum of per-asset unrealized figures
	TotalPnl          float64             // RealizedPnl + UnrealizedPnl
	RoiPercent        float64             // TotalPnl / UsdtSpent * 100 (0 when nothing was spent)
	Assets            map[string]AssetPnL // Per-asset breakdown, keyed by base asset
	CommissionByAsset map[string]float64  // Fees aggregated by the asset they were paid in
	Degraded          bool                // True when any price lookup failed and an unrealized figure was zeroed
}

// AssetPnL is the per-asset slice of a PnLReport.
type AssetPnL struct {
	CurrentBalance float64 // Holding used for the unrealized computation
	TotalCost      float64 // Cost basis accumulated inside the window
	TotalSales     float64 // Sales revenue accumulated inside the window
	CurrentPrice   float64 // Price used to value the holding (0 when lookup failed)
	CurrentValue   float64 // CurrentBalance * CurrentPrice
	RealizedPnl    float64 // TotalSales - TotalCost
	UnrealizedPnl  float64 // CurrentValue - remaining cost basis (0 when degraded)
	TotalPnl       float64 // RealizedPnl + UnrealizedPnl
}

// LotPnL is one matched SELL fragment produced by the FIFO lot-matching
// report variant.
type LotPnL struct {
	Asset       string
	Quantity    float64 // Matched fragment quantity
	BuyPrice    float64 // Price of the lot the fragment was matched against
	SellPrice   float64
	Commission  float64 // Commission apportioned to this fragment
	RealizedPnl float64
	BuyTime     int64
	SellTime    int64
}

// FIFOPnLReport is the alternate, lot-matching realized-PnL report. It can
// disagree with the weighted-average model on the same trade sequence and is
// never used to feed the realized-PnL log.
type FIFOPnLReport struct {
	StartTime   int64
	EndTime     int64
	RealizedPnl float64
	Lots        []LotPnL
	// UnmatchedSellQty counts sell quantity that had no remaining buy lot to
	// match against (sales of inflows the ledger never saw).
	UnmatchedSellQty map[string]float64
}

// AnalyticsReport is the portfolio-level view derived from current positions
// and the full trade history.
type AnalyticsReport struct {
	TotalPortfolioValue       float64
	TotalInvested             float64
	TotalUnrealizedPnl        float64
	TotalUnrealizedPnlPercent float64
	TotalRealizedPnl          float64 // Lifetime sum over the realized-PnL log
	AssetAllocation           map[string]AssetAllocation
	TopPerformers             []Performer // Up to 5, best unrealized percent first
	WorstPerformers           []Performer // Up to 5, worst unrealized percent first; may overlap TopPerformers
	TradingStats              TradingStats
	LastUpdated               int64
}

// AssetAllocation describes one asset's share of the portfolio.
type AssetAllocation struct {
	Value      float64
	Percentage float64
	Quantity   float64
}

// Performer pairs an asset with its unrealized performance.
type Performer struct {
	Asset                string
	UnrealizedPnlPercent float64
}

// TradingStats summarizes trading activity over the full ledger.
type TradingStats struct {
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	TotalVolume      float64 // Total quote volume
	AvgTradeSize     float64
	MostTradedAsset  string  // Base asset with the most trades; first encountered wins ties
	TradingFrequency float64 // Trades per day over the observed span, span floored at 1 day
}

// AssetPerformance is the windowed per-asset activity report.
type AssetPerformance struct {
	Asset          string
	PeriodDays     int
	TotalTrades    int
	BuyTrades      int
	SellTrades     int
	TotalBought    float64
	TotalSold      float64
	NetPosition    float64
	AvgBuyPrice    float64 // Volume-weighted
	AvgSellPrice   float64 // Volume-weighted
	CurrentHolding *Position
}

// PortfolioReport bundles everything a full export needs.
type PortfolioReport struct {
	GeneratedAt     int64
	Analytics       *AnalyticsReport
	Holdings        map[string]*Position
	RecentTrades    []*Trade
	RealizedHistory []*RealizedPnLEntry
}
