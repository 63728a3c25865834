package portfolio

import (
	"context"
	"fmt"
	"sort"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Calculator produces profit/loss reports from the trade ledger. The primary
// report is the windowed cash-flow measure; a FIFO lot-matching variant is
// provided as a clearly-labeled alternative and never feeds the realized-PnL
// log.
type Calculator struct {
	ledger   ports.TradeLedger
	tracker  *Tracker
	exchange ports.ExchangeClient
	logger   ports.Logger
}

// NewCalculator creates a PnL calculator.
func NewCalculator(ledger ports.TradeLedger, tracker *Tracker, exchange ports.ExchangeClient, logger ports.Logger) (*Calculator, error) {
	if ledger == nil || tracker == nil || exchange == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Calculator")
	}
	return &Calculator{ledger: ledger, tracker: tracker, exchange: exchange, logger: logger}, nil
}

// windowTotals accumulates the per-asset flows observed inside the window.
type windowTotals struct {
	holdings     map[string]float64
	costBasis    map[string]float64
	salesRevenue map[string]float64
}

// CalculateRange computes the time-ranged PnL report: aggregate USDT flows,
// a per-asset breakdown, and unrealized PnL on whatever is still held. Price
// lookup failures degrade the affected asset's unrealized figure to zero and
// mark the report as degraded instead of failing it.
func (c *Calculator) CalculateRange(ctx context.Context, startTs, endTs int64) (*domain.PnLReport, error) {
	if startTs >= endTs {
		return nil, fmt.Errorf("%w: start=%d end=%d", ports.ErrInvalidTimeRange, startTs, endTs)
	}

	trades, err := c.ledger.Query(ctx, startTs, endTs)
	if err != nil {
		return nil, fmt.Errorf("failed to read trades for PnL window: %w", err)
	}

	report := &domain.PnLReport{
		StartTime:         startTs,
		EndTime:           endTs,
		Assets:            make(map[string]domain.AssetPnL),
		CommissionByAsset: make(map[string]float64),
	}
	totals := windowTotals{
		holdings:     make(map[string]float64),
		costBasis:    make(map[string]float64),
		salesRevenue: make(map[string]float64),
	}

	for _, trade := range trades {
		asset := trade.BaseAsset()
		report.CommissionByAsset[trade.CommissionAsset] += trade.Commission

		switch trade.Side {
		case domain.Buy:
			report.UsdtSpent += trade.QuoteQty
			totals.holdings[asset] += trade.Quantity
			totals.costBasis[asset] += trade.QuoteQty
			// Fee paid in the purchased asset reduces what was received.
			if trade.CommissionAsset == asset {
				totals.holdings[asset] -= trade.Commission
			}
		case domain.Sell:
			report.UsdtReceived += trade.QuoteQty
			totals.holdings[asset] -= trade.Quantity
			totals.salesRevenue[asset] += trade.QuoteQty
			// Fee paid in the quote currency reduces the cash received.
			if trade.CommissionAsset == "USDT" {
				report.UsdtReceived -= trade.Commission
				totals.salesRevenue[asset] -= trade.Commission
			}
		}
	}

	report.RealizedPnl = report.UsdtReceived - report.UsdtSpent

	// Live holdings override the windowed reconstruction: trades before the
	// window can leave more (or less) of an asset than the window implies.
	livePositions, err := c.tracker.Positions(ctx)
	if err != nil {
		c.logger.Warn(ctx, "Falling back to windowed holdings, live positions unavailable", map[string]interface{}{"error": err.Error()})
		livePositions = nil
	}

	for _, asset := range touchedAssets(totals) {
		holding := totals.holdings[asset]
		if pos, ok := livePositions[asset]; ok {
			holding = pos.TotalQuantity()
		}

		costBasis := totals.costBasis[asset]
		salesRevenue := totals.salesRevenue[asset]
		detail := domain.AssetPnL{
			CurrentBalance: holding,
			TotalCost:      costBasis,
			TotalSales:     salesRevenue,
			RealizedPnl:    salesRevenue - costBasis,
		}

		if holding > 0 {
			price, err := fetchPriceWithRetry(ctx, c.exchange, asset)
			if err != nil {
				c.logger.Warn(ctx, "Price lookup failed, unrealized PnL degraded to 0", map[string]interface{}{
					"asset": asset, "error": err.Error(),
				})
				report.Degraded = true
			} else {
				detail.CurrentPrice = price
				detail.CurrentValue = holding * price
				detail.UnrealizedPnl = detail.CurrentValue - remainingCostBasis(costBasis, salesRevenue)
				report.UnrealizedPnl += detail.UnrealizedPnl
			}
		}

		detail.TotalPnl = detail.RealizedPnl + detail.UnrealizedPnl
		report.Assets[asset] = detail
	}

	report.TotalPnl = report.RealizedPnl + report.UnrealizedPnl
	if report.UsdtSpent > 0 {
		report.RoiPercent = report.TotalPnl / report.UsdtSpent * 100
	}
	return report, nil
}

// remainingCostBasis estimates the cost basis still attached to a holding
// after in-window sales. When both buys and sells occurred the sold part is
// assumed to have consumed basis proportional to its revenue, floored at 0;
// otherwise the full basis applies.
func remainingCostBasis(costBasis, salesRevenue float64) float64 {
	if costBasis > 0 && salesRevenue > 0 {
		remaining := costBasis - salesRevenue
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return costBasis
}

// touchedAssets returns every asset the window saw, in deterministic order so
// repeated runs produce identical reports.
func touchedAssets(totals windowTotals) []string {
	seen := make(map[string]struct{})
	for asset := range totals.holdings {
		seen[asset] = struct{}{}
	}
	for asset := range totals.costBasis {
		seen[asset] = struct{}{}
	}
	for asset := range totals.salesRevenue {
		seen[asset] = struct{}{}
	}
	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// buyLot is one purchase awaiting FIFO matching.
type buyLot struct {
	quantity   float64
	price      float64
	commission float64 // quote-denominated fee still attached to this lot
	timestamp  int64
}

// CalculateLifetimeFIFO is the alternate realized-PnL report: SELL quantities
// are matched against BUY lots in strict time order, oldest lot first, with
// commissions split proportionally across matched fragments. It can disagree
// with the weighted-average model on the same trade sequence.
func (c *Calculator) CalculateLifetimeFIFO(ctx context.Context) (*domain.FIFOPnLReport, error) {
	trades, err := c.ledger.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for FIFO report: %w", err)
	}

	report := &domain.FIFOPnLReport{
		UnmatchedSellQty: make(map[string]float64),
	}
	if len(trades) > 0 {
		report.StartTime = trades[0].Timestamp
		report.EndTime = trades[len(trades)-1].Timestamp
	}

	lots := make(map[string][]buyLot)

	for _, trade := range trades {
		asset := trade.BaseAsset()

		if trade.Side == domain.Buy {
			quantity := trade.Quantity
			var quoteFee float64
			if trade.CommissionAsset == asset {
				// Fee in kind shrinks the lot itself.
				quantity -= trade.Commission
			} else if trade.CommissionAsset == trade.QuoteAsset() {
				quoteFee = trade.Commission
			}
			if quantity <= 0 {
				continue
			}
			lots[asset] = append(lots[asset], buyLot{
				quantity:   quantity,
				price:      trade.Price,
				commission: quoteFee,
				timestamp:  trade.Timestamp,
			})
			continue
		}

		// SELL: consume lots oldest-first.
		remaining := trade.Quantity
		var sellFee float64
		if trade.CommissionAsset == trade.QuoteAsset() {
			sellFee = trade.Commission
		}

		queue := lots[asset]
		for remaining > domain.DustThreshold && len(queue) > 0 {
			lot := &queue[0]
			matched := lot.quantity
			if matched > remaining {
				matched = remaining
			}

			buyFeeShare := lot.commission * (matched / lot.quantity)
			sellFeeShare := sellFee * (matched / trade.Quantity)

			fragment := domain.LotPnL{
				Asset:       asset,
				Quantity:    matched,
				BuyPrice:    lot.price,
				SellPrice:   trade.Price,
				Commission:  buyFeeShare + sellFeeShare,
				RealizedPnl: (trade.Price-lot.price)*matched - buyFeeShare - sellFeeShare,
				BuyTime:     lot.timestamp,
				SellTime:    trade.Timestamp,
			}
			report.Lots = append(report.Lots, fragment)
			report.RealizedPnl += fragment.RealizedPnl

			lot.quantity -= matched
			lot.commission -= buyFeeShare
			remaining -= matched
			if lot.quantity <= domain.DustThreshold {
				queue = queue[1:]
			}
		}
		lots[asset] = queue

		if remaining > domain.DustThreshold {
			// Sale of quantity the ledger never saw bought; no basis exists.
			report.UnmatchedSellQty[asset] += remaining
			c.logger.Warn(ctx, "FIFO matching found sell quantity with no buy lot", map[string]interface{}{
				"asset": asset, "quantity": remaining, "tradeID": trade.ID,
			})
		}
	}

	return report, nil
}
