package exchange

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"crossbot/internal/model"
)

// Wire structures mapping the venue's JSON responses. Numeric money values
// arrive as strings and stay strings until validation passes, preserving
// precision through decoding.

// wireError is the venue's error payload on non-2xx responses.
type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

// wireKline is one kline row after positional decoding. The venue returns
// klines as 12-element JSON arrays, not objects.
//
// Example row:
//
//	[1634567880000, "3601.01", "3605.00", "3600.55", "3604.99",
//	 "12.5", 1634567939999, "45062.3", 321, "6.2", "22340.1", "0"]
type wireKline struct {
	OpenTime                 int64  `validate:"required,gt=0"`
	Open                     string `validate:"required,numeric"`
	High                     string `validate:"required,numeric"`
	Low                      string `validate:"required,numeric"`
	Close                    string `validate:"required,numeric"`
	Volume                   string `validate:"required,numeric"`
	CloseTime                int64  `validate:"required,gt=0"`
	QuoteAssetVolume         string `validate:"required,numeric"`
	NumberOfTrades           int64  `validate:"gte=0"`
	TakerBuyBaseAssetVolume  string `validate:"required,numeric"`
	TakerBuyQuoteAssetVolume string `validate:"required,numeric"`
	Ignore                   string
}

// decodeKlineRow maps the positional elements of one kline array onto a
// wireKline. It fails fast on rows with missing or mistyped elements.
func decodeKlineRow(raw []json.RawMessage) (wireKline, error) {
	var k wireKline
	if len(raw) < 12 {
		return k, fmt.Errorf("kline row has %d elements, expected 12", len(raw))
	}
	dests := []any{
		&k.OpenTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume,
		&k.CloseTime, &k.QuoteAssetVolume, &k.NumberOfTrades,
		&k.TakerBuyBaseAssetVolume, &k.TakerBuyQuoteAssetVolume, &k.Ignore,
	}
	for i, dest := range dests {
		if err := json.Unmarshal(raw[i], dest); err != nil {
			return k, fmt.Errorf("kline element %d: %w", i, err)
		}
	}
	return k, nil
}

// toCandle converts a validated wireKline into a model Candle.
func (k wireKline) toCandle() (model.Candle, error) {
	fields := map[string]string{
		"open": k.Open, "high": k.High, "low": k.Low, "close": k.Close,
		"volume": k.Volume, "quoteAssetVolume": k.QuoteAssetVolume,
		"takerBuyBaseAssetVolume":  k.TakerBuyBaseAssetVolume,
		"takerBuyQuoteAssetVolume": k.TakerBuyQuoteAssetVolume,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, v := range fields {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline field %s: %w", name, err)
		}
		parsed[name] = d
	}
	return model.Candle{
		OpenTime:                 k.OpenTime,
		Open:                     parsed["open"],
		High:                     parsed["high"],
		Low:                      parsed["low"],
		Close:                    parsed["close"],
		Volume:                   parsed["volume"],
		CloseTime:                k.CloseTime,
		QuoteAssetVolume:         parsed["quoteAssetVolume"],
		NumberOfTrades:           k.NumberOfTrades,
		TakerBuyBaseAssetVolume:  parsed["takerBuyBaseAssetVolume"],
		TakerBuyQuoteAssetVolume: parsed["takerBuyQuoteAssetVolume"],
		Ignore:                   k.Ignore,
	}, nil
}

// wireBalance is one asset row of the account endpoint.
type wireBalance struct {
	Asset  string `json:"asset" validate:"required"`
	Free   string `json:"free" validate:"required,numeric"`
	Locked string `json:"locked" validate:"required,numeric"`
}

// wireAccount is the account endpoint response, reduced to what we use.
type wireAccount struct {
	Balances []wireBalance `json:"balances" validate:"required"`
}

// wireFill is one fill row inside an order response.
type wireFill struct {
	Price string `json:"price" validate:"required,numeric"`
	Qty   string `json:"qty" validate:"required,numeric"`
}

func (f wireFill) toFill() (model.Fill, error) {
	price, err := decimal.NewFromString(f.Price)
	if err != nil {
		return model.Fill{}, fmt.Errorf("fill price: %w", err)
	}
	qty, err := decimal.NewFromString(f.Qty)
	if err != nil {
		return model.Fill{}, fmt.Errorf("fill qty: %w", err)
	}
	return model.Fill{Price: price, Qty: qty}, nil
}

// wireOrder is the new-order endpoint response.
type wireOrder struct {
	OrderID int64      `json:"orderId" validate:"required"`
	Status  string     `json:"status" validate:"required"`
	Fills   []wireFill `json:"fills"`
}

// wireCancelReplace wraps the cancel-and-replace response: the venue nests
// the replacement order under newOrderResponse.
type wireCancelReplace struct {
	NewOrderResponse wireOrder `json:"newOrderResponse" validate:"required"`
}

// wireCancel is the cancel-order endpoint response.
type wireCancel struct {
	OrderID int64  `json:"orderId" validate:"required"`
	Status  string `json:"status" validate:"required"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
	Side    string `json:"side"`
	Type    string `json:"type"`
}

// wireOpenOrder is one row of the open-orders endpoint.
type wireOpenOrder struct {
	OrderID     int64  `json:"orderId" validate:"required"`
	Symbol      string `json:"symbol" validate:"required"`
	Side        string `json:"side" validate:"required"`
	Price       string `json:"price" validate:"required,numeric"`
	OrigQty     string `json:"origQty" validate:"required,numeric"`
	ExecutedQty string `json:"executedQty" validate:"omitempty,numeric"`
	Status      string `json:"status" validate:"required"`
	TimeInForce string `json:"timeInForce"`
	Type        string `json:"type" validate:"required"`
	Time        int64  `json:"time" validate:"required,gt=0"`
}

func (o wireOpenOrder) toOpenOrder() (model.OpenOrder, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return model.OpenOrder{}, fmt.Errorf("order price: %w", err)
	}
	origQty, err := decimal.NewFromString(o.OrigQty)
	if err != nil {
		return model.OpenOrder{}, fmt.Errorf("order origQty: %w", err)
	}
	executedQty := decimal.Zero
	if o.ExecutedQty != "" {
		if executedQty, err = decimal.NewFromString(o.ExecutedQty); err != nil {
			return model.OpenOrder{}, fmt.Errorf("order executedQty: %w", err)
		}
	}
	return model.OpenOrder{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Side:        model.Side(o.Side),
		Price:       price,
		OrigQty:     origQty,
		ExecutedQty: executedQty,
		Status:      o.Status,
		TimeInForce: o.TimeInForce,
		Type:        model.OrderType(o.Type),
		Time:        o.Time,
	}, nil
}

// wireTrade is one row of the account trade history endpoint.
type wireTrade struct {
	Symbol     string `json:"symbol" validate:"required"`
	Price      string `json:"price" validate:"required,numeric"`
	Qty        string `json:"qty" validate:"required,numeric"`
	Commission string `json:"commission" validate:"required,numeric"`
	IsBuyer    bool   `json:"isBuyer"`
	Time       int64  `json:"time" validate:"required,gt=0"`
}

func (t wireTrade) toAccountTrade() (model.AccountTrade, error) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return model.AccountTrade{}, fmt.Errorf("trade price: %w", err)
	}
	qty, err := decimal.NewFromString(t.Qty)
	if err != nil {
		return model.AccountTrade{}, fmt.Errorf("trade qty: %w", err)
	}
	commission, err := decimal.NewFromString(t.Commission)
	if err != nil {
		return model.AccountTrade{}, fmt.Errorf("trade commission: %w", err)
	}
	return model.AccountTrade{
		Symbol:     t.Symbol,
		Price:      price,
		Qty:        qty,
		Commission: commission,
		IsBuyer:    t.IsBuyer,
		Time:       t.Time,
	}, nil
}

// wireAvgPrice is the average price endpoint response.
type wireAvgPrice struct {
	Price string `json:"price" validate:"required,numeric"`
}
