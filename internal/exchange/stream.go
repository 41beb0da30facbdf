package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/model"
	"crossbot/internal/stream"
)

// streamMsg is the outer wrapper of a combined-stream message. The trade
// payload arrives nested under "data" as raw JSON.
//
// Example:
//
//	{
//		"stream": "ethusdt@trade",
//		"data": {"s": "ETHUSDT", "p": "3601.12", "q": "0.05", "T": 1634567890123}
//	}
type streamMsg struct {
	Stream string          `json:"stream" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

// streamTrade is one trade print from the venue's trade stream. Prices and
// quantities stay strings until validated.
type streamTrade struct {
	Symbol   string `json:"s" validate:"required"`
	Price    string `json:"p" validate:"required,numeric"`
	Quantity string `json:"q" validate:"required,numeric"`
	Time     int64  `json:"T" validate:"required,gt=0"`
}

// SubscribeToTrades opens a WebSocket subscription to live trade prints for
// the client's configured symbol and returns the event channel plus the
// stream client for lifecycle control. The channel closes when the
// connection drops; watchers reconnect by subscribing again.
func (c *Client) SubscribeToTrades(ctx context.Context) (<-chan model.TradeEvent, *stream.Client, error) {
	endpoint := fmt.Sprintf("%s/stream?streams=%s@trade",
		c.cfg.StreamURL, strings.ToLower(c.cfg.Symbol))

	sc, err := stream.NewClient(ctx, stream.Config{
		Endpoint: endpoint,
		Handler:  c.handleTradeMessage,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create trade stream client")
		return nil, nil, err
	}
	return sc.Events(), sc, nil
}

// handleTradeMessage decodes and validates one raw trade message and pushes
// the parsed event onto the channel.
func (c *Client) handleTradeMessage(raw []byte, events chan<- model.TradeEvent) error {
	var m streamMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Error().Err(err).Msg("invalid outer JSON")
		return err
	}

	var t streamTrade
	if err := json.Unmarshal(m.Data, &t); err != nil {
		log.Error().Err(err).Msg("invalid trade payload JSON")
		return err
	}
	if err := c.validate.Struct(&t); err != nil {
		log.Warn().Err(err).Interface("trade", t).Msg("trade validation failed")
		return err
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		log.Error().Err(err).Msg("invalid trade price")
		return err
	}
	quantity, err := decimal.NewFromString(t.Quantity)
	if err != nil {
		log.Error().Err(err).Msg("invalid trade quantity")
		return err
	}

	events <- model.TradeEvent{
		Pair:      t.Symbol,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.UnixMilli(t.Time),
	}
	return nil
}
