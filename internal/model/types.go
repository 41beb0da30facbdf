// Package model defines core data types for the crossover trading bot.
//
// This package contains the fundamental data structures shared across the
// system: exchange candlesticks, order vocabulary, and live trade ticks.
// All monetary values use decimal.Decimal for precise financial calculations
// to avoid floating-point precision issues common in financial applications.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, or of a suggested trade action.
type Side string

const (
	// SideBuy marks a buy order or buy suggestion.
	SideBuy Side = "BUY"

	// SideSell marks a sell order or sell suggestion.
	SideSell Side = "SELL"
)

// PositionType reduces current account holdings to a binary state: either we
// hold a meaningful quantity of the traded asset (bought) or we do not
// (sold). Holdings below the venue's minimum tradable threshold count as
// dust, not a position.
type PositionType int

const (
	// PositionSold means the account holds no meaningful asset quantity.
	PositionSold PositionType = iota

	// PositionBought means the account holds an above-threshold quantity.
	PositionBought
)

// String returns a human-readable name for the position state.
func (p PositionType) String() string {
	switch p {
	case PositionBought:
		return "BOUGHT"
	default:
		return "SOLD"
	}
}

// OrderType enumerates the venue order types the bot interacts with.
type OrderType string

const (
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeLimitMaker      OrderType = "LIMIT_MAKER"
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// Candle represents a single immutable OHLCV bar as returned by the exchange
// kline endpoint.
//
// OpenTime and CloseTime are millisecond epoch timestamps; CloseTime is the
// inclusive end of the bar (conventionally OpenTime + interval - 1ms).
// Price and volume fields use decimal.Decimal so no precision is lost
// between the exchange's string representation and our arithmetic.
type Candle struct {
	OpenTime                 int64           `json:"openTime"`
	Open                     decimal.Decimal `json:"open"`
	High                     decimal.Decimal `json:"high"`
	Low                      decimal.Decimal `json:"low"`
	Close                    decimal.Decimal `json:"close"`
	Volume                   decimal.Decimal `json:"volume"`
	CloseTime                int64           `json:"closeTime"`
	QuoteAssetVolume         decimal.Decimal `json:"quoteAssetVolume"`
	NumberOfTrades           int64           `json:"numberOfTrades"`
	TakerBuyBaseAssetVolume  decimal.Decimal `json:"takerBuyBaseAssetVolume"`
	TakerBuyQuoteAssetVolume decimal.Decimal `json:"takerBuyQuoteAssetVolume"`
	Ignore                   string          `json:"ignore"` // unused passthrough field from the venue
}

// Fill is one execution of a market order. A single order may produce
// several fills at different prices.
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// WeightedAvgPrice returns the total quantity and the quantity-weighted
// average price across a set of fills. The average is zero when no quantity
// was filled.
func WeightedAvgPrice(fills []Fill) (qty, wap decimal.Decimal) {
	notional := decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if qty.IsZero() {
		return qty, decimal.Zero
	}
	return qty, notional.Div(qty)
}

// OpenOrder is a typed view of a resting order on the venue.
type OpenOrder struct {
	OrderID     int64
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	OrigQty     decimal.Decimal
	ExecutedQty decimal.Decimal
	Status      string
	TimeInForce string
	Type        OrderType
	Time        int64 // millisecond epoch the order was placed
}

// AccountTrade is one historical execution on the account, used to compute
// net position and P&L summaries.
type AccountTrade struct {
	Symbol     string
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Commission decimal.Decimal
	IsBuyer    bool
	Time       int64
}

// TradeEvent represents a single live trade tick from the exchange stream.
type TradeEvent struct {
	Pair      string          // Trading pair symbol (e.g. "ETHUSDT")
	Price     decimal.Decimal // Trade execution price
	Quantity  decimal.Decimal // Volume of base asset traded
	Timestamp time.Time       // Exchange timestamp of the trade
}
