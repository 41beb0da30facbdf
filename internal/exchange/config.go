// Package exchange provides a typed Binance spot client for the trading
// bot: historical kline fetching, account balance queries, and the
// money-moving order endpoints.
//
// Every response is decoded into an explicit typed record and validated at
// the boundary before conversion; dynamic lookups never propagate inward.
// Venue failures surface as *APIError values carrying the HTTP status and
// the venue's own error code and message.
package exchange

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig indicates that the provided Config contains invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoHoldings indicates an order that needs a base-asset balance was
	// attempted while the account holds none.
	ErrNoHoldings = errors.New("no holdings to place order against")
)

const (
	// klinePageLimit is the maximum number of candles one kline request returns.
	klinePageLimit = 1000

	// maxFetchAttempts bounds retries of a flaky candle fetch before the
	// failure is considered fatal.
	maxFetchAttempts = 5

	// fetchRetryDelay is the fixed pause between candle fetch retries.
	fetchRetryDelay = 12 * time.Second

	// lotSizePlaces is the quantity precision accepted by the venue's
	// LOT_SIZE filter for the supported symbol.
	lotSizePlaces = 4

	// tickSizePlaces is the price precision accepted by the venue's
	// PRICE_FILTER for the supported symbol.
	tickSizePlaces = 2
)

// Config provides connection and instrument parameters for the client.
type Config struct {
	// BaseURL is the REST endpoint of the venue.
	BaseURL string

	// StreamURL is the WebSocket endpoint of the venue's market streams.
	StreamURL string

	// APIKey and APISecret sign account and order requests. Public market
	// data endpoints work without them.
	APIKey    string
	APISecret string

	// Symbol is the traded pair, e.g. "ETHUSDT".
	Symbol string

	// BaseAsset is the asset being accumulated, e.g. "ETH".
	BaseAsset string

	// QuoteAsset is the fiat/stable asset orders are funded from, e.g. "USDT".
	QuoteAsset string

	// RecvWindow is the signed-request validity window in milliseconds.
	RecvWindow int64

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
}

// defaultConfig provides sensible defaults for production Binance spot.
var defaultConfig = Config{
	BaseURL:    "https://api.binance.com",
	StreamURL:  "wss://stream.binance.com:9443",
	Symbol:     "ETHUSDT",
	BaseAsset:  "ETH",
	QuoteAsset: "USDT",
	RecvWindow: 60_000,
	Timeout:    10 * time.Second,
}

// TestnetConfig returns defaults pointed at the Binance spot testnet.
func TestnetConfig() Config {
	cfg := defaultConfig
	cfg.BaseURL = "https://testnet.binance.vision"
	cfg.StreamURL = "wss://stream.testnet.binance.vision"
	return cfg
}

// validateConfig ensures all required configuration fields are present,
// applying defaults for optional fields when possible.
func validateConfig(cfg *Config, defaults *Config) error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaults.StreamURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = defaults.Symbol
	}
	if cfg.BaseAsset == "" {
		cfg.BaseAsset = defaults.BaseAsset
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaults.QuoteAsset
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaults.RecvWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return nil
}

// APIError is a venue-side request failure: a rejected order, an
// insufficient balance, a rate limit. It is never retried automatically.
type APIError struct {
	Status  int    // HTTP status code
	Code    int64  // venue error code
	Message string // venue error message
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error: status=%d code=%d message=%q",
		e.Status, e.Code, e.Message)
}
