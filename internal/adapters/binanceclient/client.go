package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperTrader/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements the ports.ExchangeClient interface using the go-binance
// spot API: ticker prices for valuation and account balances for
// reconciliation.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	timeout    time.Duration
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
	Timeout    time.Duration // Bound on a single API call (e.g., 5 * time.Second)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
		timeout:    timeout,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = fmt.Errorf("%w: unknown symbol", ports.ErrValidation)
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrAuthenticationFailed
		default:
			mappedErr = ports.ErrExchangeUnavailable
		}
		c.logger.Error(ctx, mappedErr, "Binance API error", fields)
		return fmt.Errorf("%s failed: %w (code %d: %s)", operation, mappedErr, apiErr.Code, apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error(ctx, err, "Binance API call timed out", fields)
		return fmt.Errorf("%s failed: %w", operation, ports.ErrTimeout)
	}

	c.logger.Error(ctx, err, "Binance API call failed", fields)
	return fmt.Errorf("%s failed: %w: %v", operation, ports.ErrExchangeUnavailable, err)
}

// parseDecimal converts one of the exchange's decimal strings to float64 via
// an exact intermediate representation, so values like "0.00000001" survive
// the trip without strconv surprises.
func parseDecimal(value, field string) (float64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, value, err)
	}
	return d.InexactFloat64(), nil
}

// GetTickerPrice retrieves the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, "GetTickerPrice")
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("GetTickerPrice: no price returned for symbol %s: %w", symbol, ports.ErrPriceUnavailable)
	}

	price, err := parseDecimal(prices[0].Price, "ticker price")
	if err != nil {
		return 0, fmt.Errorf("GetTickerPrice: %w", err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("GetTickerPrice: non-positive price %v for symbol %s: %w", price, symbol, ports.ErrPriceUnavailable)
	}
	c.logger.Debug(ctx, "Fetched ticker price", map[string]interface{}{"symbol": symbol, "price": price})
	return price, nil
}

// GetBalances retrieves every nonzero balance on the account.
func (c *Client) GetBalances(ctx context.Context) ([]ports.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	account, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, "GetBalances")
	}

	balances := make([]ports.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := parseDecimal(b.Free, "free balance")
		if err != nil {
			c.logger.Warn(ctx, "Skipping balance with unparseable free amount", map[string]interface{}{"asset": b.Asset, "free": b.Free})
			continue
		}
		locked, err := parseDecimal(b.Locked, "locked balance")
		if err != nil {
			c.logger.Warn(ctx, "Skipping balance with unparseable locked amount", map[string]interface{}{"asset": b.Asset, "locked": b.Locked})
			continue
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, ports.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	c.logger.Debug(ctx, "Fetched account balances", map[string]interface{}{"count": len(balances)})
	return balances, nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	serverTimeMs, err := c.spotClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, "GetServerTime")
	}
	return time.UnixMilli(serverTimeMs), nil
}
