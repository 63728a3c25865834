// Package jsonimport reads legacy trade_history.json exports and converts
// them into ledger trades. The legacy files were written by several versions
// of the old tooling, so field names vary (camelCase and snake_case) and
// numbers appear both as JSON numbers and as strings.
package jsonimport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"paperTrader/internal/domain"
	"paperTrader/internal/ports"
)

// Importer parses legacy trade-history files into domain trades.
type Importer struct {
	logger ports.Logger
}

// NewImporter creates a legacy trade importer.
func NewImporter(logger ports.Logger) (*Importer, error) {
	if logger == nil {
		return nil, fmt.Errorf("missing required logger for Importer")
	}
	return &Importer{logger: logger}, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", string(data), err)
	}
	*f = flexFloat(d.InexactFloat64())
	return nil
}

// flexString accepts a JSON string or number (old exports stored exchange
// order IDs as raw integers).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexString(s)
	return nil
}

// rawTrade mirrors every field spelling the legacy files ever used.
type rawTrade struct {
	Symbol               string     `json:"symbol"`
	Side                 string     `json:"side"`
	Quantity             flexFloat  `json:"quantity"`
	Price                flexFloat  `json:"price"`
	QuoteQty             flexFloat  `json:"quoteQty"`
	QuoteQtySnake        flexFloat  `json:"quote_qty"`
	Commission           flexFloat  `json:"commission"`
	CommissionAsset      string     `json:"commissionAsset"`
	CommissionAssetSnake string     `json:"commission_asset"`
	Time                 int64      `json:"time"`
	Timestamp            int64      `json:"timestamp"`
	TradeID              flexString `json:"tradeId"`
	ID                   flexString `json:"id"`
	OrderType            string     `json:"orderType"`
	OrderTypeSnake       string     `json:"order_type"`
}

func (r *rawTrade) toDomain() *domain.Trade {
	trade := &domain.Trade{
		Symbol:          r.Symbol,
		Side:            domain.OrderSide(strings.ToUpper(r.Side)),
		Quantity:        float64(r.Quantity),
		Price:           float64(r.Price),
		QuoteQty:        float64(firstNonZero(r.QuoteQty, r.QuoteQtySnake)),
		Commission:      float64(r.Commission),
		CommissionAsset: firstNonEmpty(r.CommissionAsset, r.CommissionAssetSnake),
		Timestamp:       firstNonZeroInt(r.Time, r.Timestamp),
		OrderType:       firstNonEmpty(r.OrderType, r.OrderTypeSnake),
	}
	trade.ExchangeTradeID = firstNonEmpty(string(r.TradeID), string(r.ID))
	// Old exports wrote "Unknown" for fields they could not resolve; treat it
	// as absent so Normalize fills a sensible default.
	if trade.CommissionAsset == "Unknown" {
		trade.CommissionAsset = ""
	}
	if trade.OrderType == "Unknown" {
		trade.OrderType = ""
	}
	if trade.ExchangeTradeID == "Unknown" {
		trade.ExchangeTradeID = ""
	}
	trade.Normalize()
	return trade
}

// ImportFile parses a legacy trade-history file. Records that cannot be
// parsed or fail validation are skipped with a warning; the rest are returned
// ascending by timestamp, ready to be replayed through the service.
func (i *Importer) ImportFile(ctx context.Context, path string) ([]*domain.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade history file %s: %w", path, err)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON trade array: %v", ports.ErrDataIntegrity, path, err)
	}

	trades := make([]*domain.Trade, 0, len(raws))
	skipped := 0
	for idx, msg := range raws {
		var raw rawTrade
		if err := json.Unmarshal(msg, &raw); err != nil {
			i.logger.Warn(ctx, "Skipping unparseable trade record", map[string]interface{}{
				"index": idx, "error": err.Error(),
			})
			skipped++
			continue
		}
		trade := raw.toDomain()
		if err := trade.Validate(); err != nil {
			i.logger.Warn(ctx, "Skipping invalid trade record", map[string]interface{}{
				"index": idx, "symbol": raw.Symbol, "error": err.Error(),
			})
			skipped++
			continue
		}
		trades = append(trades, trade)
	}

	sort.SliceStable(trades, func(a, b int) bool {
		return trades[a].Timestamp < trades[b].Timestamp
	})

	i.logger.Info(ctx, "Legacy trade history parsed", map[string]interface{}{
		"file": path, "imported": len(trades), "skipped": skipped,
	})
	return trades, nil
}

func firstNonZero(values ...flexFloat) flexFloat {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroInt(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
