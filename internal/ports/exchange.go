package ports

import (
	"context"
	"time"
)

// Balance is one asset's balance as reported by the exchange.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// ExchangeClient defines the read-only surface this system consumes from the
// exchange collaborator: live prices for valuation and ground-truth balances
// for reconciliation. Order signing, placement, and fill reporting live in a
// separate connectivity layer outside this module.
type ExchangeClient interface {
	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetBalances retrieves every nonzero balance on the account.
	GetBalances(ctx context.Context) ([]Balance, error)

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}
