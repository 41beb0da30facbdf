package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/model"
	"crossbot/internal/series"
	"crossbot/internal/utils"
)

// minOrderPrice is the venue PRICE_FILTER floor: no order may rest below it.
var minOrderPrice = decimal.RequireFromString("0.01")

// stopLimitDiscount positions the stop's limit price 5% below the trigger
// so the protective sell still fills in a fast market.
var stopLimitDiscount = decimal.RequireFromString("0.95")

// Client is a Binance spot REST client scoped to one trading pair.
//
// The client is passed explicitly to its consumers; a connection suspected
// of going stale is refreshed with Reconnect rather than by constructing a
// new client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	validate   *validator.Validate
	now        func() time.Time
}

// NewClient creates a Binance client with the given configuration. A nil
// configuration uses production spot defaults.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		c := defaultConfig
		cfg = &c
	}
	if err := validateConfig(cfg, &defaultConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := utils.ValidateSymbol(cfg.Symbol); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Client{
		cfg:        *cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		validate:   validator.New(),
		now:        time.Now,
	}, nil
}

// Symbol returns the trading pair this client is scoped to.
func (c *Client) Symbol() string { return c.cfg.Symbol }

// BaseAsset returns the accumulated asset symbol (e.g. "ETH").
func (c *Client) BaseAsset() string { return c.cfg.BaseAsset }

// QuoteAsset returns the funding asset symbol (e.g. "USDT").
func (c *Client) QuoteAsset() string { return c.cfg.QuoteAsset }

// Reconnect discards the underlying HTTP client, dropping any pooled
// connections that may have gone stale during a long sleep.
func (c *Client) Reconnect() {
	c.httpClient.CloseIdleConnections()
	c.httpClient = &http.Client{Timeout: c.cfg.Timeout}
	log.Debug().Str("baseURL", c.cfg.BaseURL).Msg("exchange client reconnected")
}

// sign produces the hex HMAC-SHA256 signature of a query string.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs one HTTP round trip and returns the response body.
// Signed requests get a timestamp, recvWindow and signature appended and
// carry the API key header. Non-2xx responses are decoded into *APIError.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		query = params.Encode()
		query += "&signature=" + c.sign(query)
	}

	reqURL := c.cfg.BaseURL + path
	if query != "" {
		reqURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(body)}
		var we wireError
		if err := json.Unmarshal(body, &we); err == nil && we.Message != "" {
			apiErr.Code = we.Code
			apiErr.Message = we.Message
		}
		return nil, apiErr
	}
	return body, nil
}

// Klines fetches all candles of the given timeframe between startTime and
// endTime (millisecond epochs, endTime zero meaning "now") and returns them
// as an ordered series.
//
// The venue caps each response at 1000 rows, so the fetch paginates by
// re-issuing with the start time advanced past the last returned candle
// until a short page comes back. Transport errors are retried a bounded
// number of times with a fixed delay; exhausting the retries is fatal and
// propagates to the caller's supervisor.
func (c *Client) Klines(ctx context.Context, timeframe string, startTime, endTime int64) (*series.Series, error) {
	intervalMillis, err := intervalMillisFor(timeframe)
	if err != nil {
		return nil, err
	}
	if endTime <= 0 {
		endTime = c.now().UnixMilli()
	}

	all := series.New(timeframe)
	calls := 0
	for {
		calls++
		log.Debug().Int("call", calls).Int64("startTime", startTime).Msg("fetching kline page")

		body, err := c.requestWithRetry(ctx, http.MethodGet, "/api/v3/klines", url.Values{
			"symbol":    {c.cfg.Symbol},
			"interval":  {timeframe},
			"limit":     {strconv.Itoa(klinePageLimit)},
			"startTime": {strconv.FormatInt(startTime, 10)},
			"endTime":   {strconv.FormatInt(endTime, 10)},
		})
		if err != nil {
			return nil, err
		}

		var rows [][]json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode klines: %w", err)
		}

		for _, raw := range rows {
			wk, err := decodeKlineRow(raw)
			if err != nil {
				return nil, err
			}
			if err := c.validate.Struct(&wk); err != nil {
				return nil, fmt.Errorf("kline validation failed: %w", err)
			}
			candle, err := wk.toCandle()
			if err != nil {
				return nil, err
			}
			if err := all.AppendCandle(candle); err != nil {
				return nil, err
			}
		}

		if len(rows) < klinePageLimit {
			return all, nil
		}
		// start from the bar after the last one returned
		startTime = all.Candles[all.Len()-1].OpenTime + intervalMillis
	}
}

// requestWithRetry wraps request with bounded fixed-delay retries for
// transport-level failures. Venue rejections (*APIError) are never retried.
func (c *Client) requestWithRetry(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		body, err := c.request(ctx, method, path, params, false)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).
			Int("attempt", attempt).
			Int("remaining", maxFetchAttempts-attempt).
			Msg("transient fetch error, retrying")
		if attempt == maxFetchAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fetchRetryDelay):
		}
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", maxFetchAttempts, lastErr)
}

// AccountBalance returns the account's balance of one asset. With
// includeLocked set, funds locked in resting orders (such as a standing
// stop) count toward the balance, so a protective stop does not masquerade
// as "no position". A missing asset row reports zero.
func (c *Client) AccountBalance(ctx context.Context, asset string, includeLocked bool) (decimal.Decimal, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return decimal.Zero, err
	}

	var account wireAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return decimal.Zero, fmt.Errorf("decode account: %w", err)
	}
	if err := c.validate.Struct(&account); err != nil {
		return decimal.Zero, fmt.Errorf("account validation failed: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance free: %w", err)
		}
		if !includeLocked {
			return free, nil
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance locked: %w", err)
		}
		return free.Add(locked), nil
	}
	log.Warn().Str("asset", asset).Msg("no balance row found, treating as zero")
	return decimal.Zero, nil
}

// AvgPrice returns the venue's current rolling average price for the
// configured symbol.
func (c *Client) AvgPrice(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/avgPrice", url.Values{
		"symbol": {c.cfg.Symbol},
	}, false)
	if err != nil {
		return decimal.Zero, err
	}
	var ap wireAvgPrice
	if err := json.Unmarshal(body, &ap); err != nil {
		return decimal.Zero, fmt.Errorf("decode avgPrice: %w", err)
	}
	if err := c.validate.Struct(&ap); err != nil {
		return decimal.Zero, fmt.Errorf("avgPrice validation failed: %w", err)
	}
	return decimal.NewFromString(ap.Price)
}

// MarketOrder places a market order for the configured symbol and returns
// its fills.
//
// A BUY spends qty of the QUOTE asset (quoteOrderQty — "buy as much as this
// fiat amount allows"); a SELL disposes qty of the BASE asset. Quantities
// are rounded down to the venue's lot size before submission.
func (c *Client) MarketOrder(ctx context.Context, side model.Side, qty decimal.Decimal) ([]model.Fill, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("invalid order side %q", side)
	}
	qty = utils.RoundDownDecimal(qty, lotSizePlaces)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order quantity %s is not positive", qty)
	}

	params := url.Values{
		"symbol": {c.cfg.Symbol},
		"side":   {string(side)},
		"type":   {string(model.OrderTypeMarket)},
	}
	if side == model.SideBuy {
		params.Set("quoteOrderQty", qty.String())
	} else {
		params.Set("quantity", qty.String())
	}

	body, err := c.request(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var order wireOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if err := c.validate.Struct(&order); err != nil {
		return nil, fmt.Errorf("order validation failed: %w", err)
	}
	return c.convertFills(order.Fills)
}

// PlaceStopOrder places a stop-loss-limit sell for the account's entire
// free base-asset balance, triggering at stopPrice with the limit set 5%
// below it. Returns the resting order's ID.
func (c *Client) PlaceStopOrder(ctx context.Context, stopPrice decimal.Decimal) (int64, error) {
	balance, err := c.AccountBalance(ctx, c.cfg.BaseAsset, false)
	if err != nil {
		return 0, err
	}
	qty := utils.RoundDownDecimal(balance, lotSizePlaces)
	if qty.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: %s balance is %s", ErrNoHoldings, c.cfg.BaseAsset, balance)
	}

	limitPrice := stopPrice.Mul(stopLimitDiscount).Round(tickSizePlaces)
	stopPrice = stopPrice.Round(tickSizePlaces)
	if limitPrice.LessThan(minOrderPrice) {
		return 0, fmt.Errorf("stop limit price %s is below venue minimum %s", limitPrice, minOrderPrice)
	}

	log.Info().
		Str("symbol", c.cfg.Symbol).
		Str("quantity", qty.String()).
		Str("stopPrice", stopPrice.String()).
		Str("price", limitPrice.String()).
		Msg("placing stop order")

	body, err := c.request(ctx, http.MethodPost, "/api/v3/order", url.Values{
		"symbol":      {c.cfg.Symbol},
		"side":        {string(model.SideSell)},
		"type":        {string(model.OrderTypeStopLossLimit)},
		"quantity":    {qty.String()},
		"timeInForce": {"GTC"},
		"stopPrice":   {stopPrice.String()},
		"price":       {limitPrice.String()},
	}, true)
	if err != nil {
		return 0, err
	}

	var order wireOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return 0, fmt.Errorf("decode stop order: %w", err)
	}
	if err := c.validate.Struct(&order); err != nil {
		return 0, fmt.Errorf("stop order validation failed: %w", err)
	}
	return order.OrderID, nil
}

// OpenOrders lists the account's resting orders for the configured symbol,
// optionally filtered to one order type.
func (c *Client) OpenOrders(ctx context.Context, typeFilter *model.OrderType) ([]model.OpenOrder, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/openOrders", url.Values{
		"symbol": {c.cfg.Symbol},
	}, true)
	if err != nil {
		return nil, err
	}

	var rows []wireOpenOrder
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]model.OpenOrder, 0, len(rows))
	for _, row := range rows {
		if err := c.validate.Struct(&row); err != nil {
			return nil, fmt.Errorf("open order validation failed: %w", err)
		}
		order, err := row.toOpenOrder()
		if err != nil {
			return nil, err
		}
		if typeFilter != nil && order.Type != *typeFilter {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// CancelOrdersByType cancels every resting order of the given type and
// returns how many were cancelled. A cancellation the venue does not
// confirm aborts the sweep.
func (c *Client) CancelOrdersByType(ctx context.Context, typ model.OrderType) (int, error) {
	orders, err := c.OpenOrders(ctx, &typ)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		log.Info().Str("type", string(typ)).Msg("no open orders of type to cancel")
		return 0, nil
	}

	cancelled := 0
	for _, order := range orders {
		body, err := c.request(ctx, http.MethodDelete, "/api/v3/order", url.Values{
			"symbol":  {c.cfg.Symbol},
			"orderId": {strconv.FormatInt(order.OrderID, 10)},
		}, true)
		if err != nil {
			return cancelled, err
		}
		var res wireCancel
		if err := json.Unmarshal(body, &res); err != nil {
			return cancelled, fmt.Errorf("decode cancel: %w", err)
		}
		if res.Status != "CANCELED" {
			return cancelled, fmt.Errorf("order %d not cancelled, venue reports status %q", order.OrderID, res.Status)
		}
		cancelled++
		log.Info().
			Int64("orderId", order.OrderID).
			Str("price", res.Price).
			Str("origQty", res.OrigQty).
			Str("type", res.Type).
			Str("side", res.Side).
			Msg("cancelled order")
	}
	return cancelled, nil
}

// CancelAndReplaceWithSell atomically cancels a resting order and submits a
// market sell for qty of the base asset in its place. The venue is asked to
// stop on cancellation failure — if the old order cannot be removed the
// sell is not placed, since the quantity is still locked by it.
func (c *Client) CancelAndReplaceWithSell(ctx context.Context, orderID int64, qty decimal.Decimal) ([]model.Fill, error) {
	if orderID == 0 {
		return nil, fmt.Errorf("cannot cancel empty order ID")
	}
	qty = utils.RoundDownDecimal(qty, lotSizePlaces)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("cannot sell non-positive quantity %s", qty)
	}

	body, err := c.request(ctx, http.MethodPost, "/api/v3/order/cancelReplace", url.Values{
		"symbol":            {c.cfg.Symbol},
		"cancelOrderId":     {strconv.FormatInt(orderID, 10)},
		"side":              {string(model.SideSell)},
		"type":              {string(model.OrderTypeMarket)},
		"cancelReplaceMode": {"STOP_ON_FAILURE"},
		"quantity":          {qty.String()},
	}, true)
	if err != nil {
		return nil, err
	}

	var res wireCancelReplace
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode cancelReplace: %w", err)
	}
	if err := c.validate.Struct(&res); err != nil {
		return nil, fmt.Errorf("cancelReplace validation failed: %w", err)
	}
	return c.convertFills(res.NewOrderResponse.Fills)
}

// Trades returns the account's execution history for the configured symbol.
func (c *Client) Trades(ctx context.Context) ([]model.AccountTrade, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/myTrades", url.Values{
		"symbol": {c.cfg.Symbol},
	}, true)
	if err != nil {
		return nil, err
	}

	var rows []wireTrade
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	trades := make([]model.AccountTrade, 0, len(rows))
	for _, row := range rows {
		if err := c.validate.Struct(&row); err != nil {
			return nil, fmt.Errorf("trade validation failed: %w", err)
		}
		trade, err := row.toAccountTrade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (c *Client) convertFills(rows []wireFill) ([]model.Fill, error) {
	fills := make([]model.Fill, 0, len(rows))
	for _, row := range rows {
		if err := c.validate.Struct(&row); err != nil {
			return nil, fmt.Errorf("fill validation failed: %w", err)
		}
		fill, err := row.toFill()
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// intervalMillisFor converts a timeframe string to its bar duration.
func intervalMillisFor(timeframe string) (int64, error) {
	bph, err := series.BarsPerHour(timeframe)
	if err != nil {
		return 0, err
	}
	return int64(3_600_000 / bph), nil
}
