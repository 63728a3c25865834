package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"paperTrader/internal/domain"
)

func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"time", "symbol", "side", "quantity", "price", "quote_qty", "commission", "commission_asset", "trade_id"})

	for _, t := range trades {
		writer.Write([]string{
			time.UnixMilli(t.Timestamp).UTC().Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.QuoteQty, 'f', -1, 64),
			strconv.FormatFloat(t.Commission, 'f', -1, 64),
			t.CommissionAsset,
			t.ID,
		})
	}
	return writer.Error()
}

func WriteRealizedPnLToCSV(entries []*domain.RealizedPnLEntry, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"time", "asset", "symbol", "quantity", "sell_price", "realized_pnl", "trade_id"})

	for _, e := range entries {
		writer.Write([]string{
			time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339),
			e.Asset,
			e.Symbol,
			strconv.FormatFloat(e.Quantity, 'f', -1, 64),
			strconv.FormatFloat(e.SellPrice, 'f', -1, 64),
			strconv.FormatFloat(e.RealizedPnl, 'f', -1, 64),
			e.TradeID,
		})
	}
	return writer.Error()
}
