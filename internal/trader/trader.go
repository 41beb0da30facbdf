// Package trader runs the live moving-average crossover loop: keep the
// candle series current, derive the crossover frame, compare the suggested
// side against the account's actual position, and move money when they
// disagree.
//
// The loop is deliberately single-threaded. One cycle per candle close:
// fetch, append, trim, persist, decide, sleep. Order placement failures are
// reported and skipped — the next cycle re-derives the decision from
// scratch, so a missed trade heals itself as long as the signal persists.
package trader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/chart"
	"crossbot/internal/model"
	"crossbot/internal/notify"
	"crossbot/internal/series"
	"crossbot/internal/signal"
	"crossbot/internal/store"
	"crossbot/internal/utils"
)

// Exchange is the trading venue surface the loop needs. *exchange.Client
// satisfies it; tests substitute a mock.
type Exchange interface {
	Klines(ctx context.Context, timeframe string, startTime, endTime int64) (*series.Series, error)
	AccountBalance(ctx context.Context, asset string, includeLocked bool) (decimal.Decimal, error)
	AvgPrice(ctx context.Context) (decimal.Decimal, error)
	MarketOrder(ctx context.Context, side model.Side, qty decimal.Decimal) ([]model.Fill, error)
	PlaceStopOrder(ctx context.Context, stopPrice decimal.Decimal) (int64, error)
	OpenOrders(ctx context.Context, typeFilter *model.OrderType) ([]model.OpenOrder, error)
	CancelOrdersByType(ctx context.Context, typ model.OrderType) (int, error)
	CancelAndReplaceWithSell(ctx context.Context, orderID int64, qty decimal.Decimal) ([]model.Fill, error)
	Trades(ctx context.Context) ([]model.AccountTrade, error)
	Reconnect()
	BaseAsset() string
	QuoteAsset() string
}

// Notifier delivers advisory messages; delivery failure never stops trading.
type Notifier interface {
	Notify(message, channel string)
	UploadImage(path, title, comment, channel string)
}

// Store persists the candle series between restarts.
type Store interface {
	Load(timeframe string) (*series.Series, error)
	Save(s *series.Series) error
}

var (
	// ErrInvalidTraderConfig indicates unusable trader settings.
	ErrInvalidTraderConfig = errors.New("invalid trader configuration")
)

// defaultPositionThreshold is the base-asset balance above which the
// account counts as holding a position. Keeps accumulated dust from
// masquerading as an open position.
var defaultPositionThreshold = decimal.RequireFromString("0.00076")

// defaultStopMultiplier places the protective stop 10% under the entry.
var defaultStopMultiplier = decimal.RequireFromString("0.90")

const (
	// retentionDays is how much candle history the series keeps.
	retentionDays = 30

	// snapshotEveryMinutes spaces chart snapshots along bar close times.
	snapshotEveryMinutes = 10
)

// repeat latch: when the signal keeps suggesting the side we already hold,
// notify once, then stay quiet. Only an executed trade rearms it.
type repeatLatch int

const (
	latchNone repeatLatch = iota
	latchRepeatBuy
	latchRepeatSell
)

// Config carries the trading parameters of one bot instance.
type Config struct {
	// Timeframe of the candle series, e.g. "1m".
	Timeframe string

	// ShortWindow and LongWindow are the crossover window widths in Unit.
	ShortWindow int
	LongWindow  int
	Unit        signal.Unit

	// PositionThreshold is the minimum base balance that counts as holding.
	PositionThreshold decimal.Decimal

	// StopMultiplier scales the entry price down to the stop trigger.
	StopMultiplier decimal.Decimal

	// ChartDir is where snapshot charts are written.
	ChartDir string
}

// defaultTraderConfig provides the production trading parameters.
var defaultTraderConfig = Config{
	Timeframe:         "1m",
	ShortWindow:       5,
	LongWindow:        20,
	Unit:              signal.UnitHours,
	PositionThreshold: defaultPositionThreshold,
	StopMultiplier:    defaultStopMultiplier,
	ChartDir:          "data",
}

// validateConfig fills defaults and rejects unusable settings.
func validateConfig(cfg *Config, defaults *Config) error {
	if cfg.Timeframe == "" {
		cfg.Timeframe = defaults.Timeframe
	}
	if cfg.ShortWindow == 0 {
		cfg.ShortWindow = defaults.ShortWindow
	}
	if cfg.LongWindow == 0 {
		cfg.LongWindow = defaults.LongWindow
	}
	if cfg.Unit == "" {
		cfg.Unit = defaults.Unit
	}
	if cfg.PositionThreshold.IsZero() {
		cfg.PositionThreshold = defaults.PositionThreshold
	}
	if cfg.StopMultiplier.IsZero() {
		cfg.StopMultiplier = defaults.StopMultiplier
	}
	if cfg.ChartDir == "" {
		cfg.ChartDir = defaults.ChartDir
	}
	if cfg.ShortWindow < 1 || cfg.LongWindow < 1 || cfg.ShortWindow >= cfg.LongWindow {
		return fmt.Errorf("%w: short=%d long=%d (need 0 < short < long)",
			ErrInvalidTraderConfig, cfg.ShortWindow, cfg.LongWindow)
	}
	if _, err := series.BarsPerHour(cfg.Timeframe); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTraderConfig, err)
	}
	return nil
}

// Bot is the live trading loop.
type Bot struct {
	cfg      Config
	exchange Exchange
	notifier Notifier
	store    Store

	series *series.Series
	latch  repeatLatch

	// retentionBars bounds the series length, derived from the timeframe.
	retentionBars  int
	intervalMillis int64

	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	renderChart func(f *signal.Frame, title, path string) error
}

// New builds a bot. All collaborators are required; cfg may be nil for the
// production defaults.
func New(cfg *Config, ex Exchange, n Notifier, st Store) (*Bot, error) {
	if cfg == nil {
		c := defaultTraderConfig
		cfg = &c
	}
	if err := validateConfig(cfg, &defaultTraderConfig); err != nil {
		return nil, err
	}
	if ex == nil || n == nil || st == nil {
		return nil, fmt.Errorf("%w: exchange, notifier and store are required", ErrInvalidTraderConfig)
	}

	bph, err := series.BarsPerHour(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ChartDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart directory: %w", err)
	}

	return &Bot{
		cfg:            *cfg,
		exchange:       ex,
		notifier:       n,
		store:          st,
		retentionBars:  retentionDays * 24 * bph,
		intervalMillis: int64(3_600_000 / bph),
		now:            time.Now,
		sleep:          sleepCtx,
		renderChart:    chart.RenderToFile,
	}, nil
}

// sleepCtx pauses for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// PositionFromBalance classifies a base-asset balance: at or above the
// threshold the account holds a position, below it the account is flat.
func PositionFromBalance(balance, threshold decimal.Decimal) model.PositionType {
	if balance.GreaterThanOrEqual(threshold) {
		return model.PositionBought
	}
	return model.PositionSold
}

// Run drives the trading loop until the context is cancelled. It returns
// only on cancellation or an unrecoverable data error (candle fetch retries
// exhausted, series integrity violation).
func (b *Bot) Run(ctx context.Context) error {
	if err := b.warmUp(ctx); err != nil {
		return err
	}

	log.Info().
		Str("timeframe", b.cfg.Timeframe).
		Int("shortWindow", b.cfg.ShortWindow).
		Int("longWindow", b.cfg.LongWindow).
		Str("unit", string(b.cfg.Unit)).
		Int("candles", b.series.Len()).
		Msg("trading loop starting")
	b.notifier.Notify("Trading bot started", notify.ChannelTrades)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("trading loop aborted: %w", err)
		}
	}
}

// warmUp restores the candle series from disk or backfills the full
// retention window from the venue.
func (b *Bot) warmUp(ctx context.Context) error {
	s, err := b.store.Load(b.cfg.Timeframe)
	switch {
	case err == nil:
		b.series = s
		log.Info().Int("candles", s.Len()).Msg("restored series from disk")
		return nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to backfill
	default:
		log.Warn().Err(err).Msg("stored series unusable, backfilling from venue")
	}

	start := b.now().Add(-retentionDays * 24 * time.Hour).UnixMilli()
	s, err = b.exchange.Klines(ctx, b.cfg.Timeframe, start, 0)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	b.series = s
	if err := b.store.Save(b.series); err != nil {
		log.Warn().Err(err).Msg("failed to persist backfilled series")
	}
	log.Info().Int("candles", s.Len()).Msg("backfilled series from venue")
	return nil
}

// cycle runs one fetch-decide-sleep iteration.
func (b *Bot) cycle(ctx context.Context) error {
	cycleStart := b.now()

	batch, err := b.exchange.Klines(ctx, b.cfg.Timeframe, b.series.LastCloseTime(), 0)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		// bar still forming; wait for its close
		return b.sleep(ctx, b.sleepUntilNextBar(cycleStart))
	}

	if err := b.series.Append(batch); err != nil {
		return err
	}
	if err := b.series.Trim(b.retentionBars, 0); err != nil {
		return err
	}
	if err := b.store.Save(b.series); err != nil {
		log.Warn().Err(err).Msg("failed to persist series")
	}

	frame, err := signal.BuildFrame(b.series, b.cfg.ShortWindow, b.cfg.LongWindow, b.cfg.Unit)
	if err != nil {
		return err
	}

	b.decide(ctx, frame)
	b.maybeSnapshot(ctx, frame)

	if err := b.sleep(ctx, b.sleepUntilNextBar(cycleStart)); err != nil {
		return err
	}
	// pooled connections go stale across the bar-length sleep
	b.exchange.Reconnect()
	return nil
}

// sleepUntilNextBar computes how long to pause so the next cycle starts
// just after the upcoming bar close: one interval minus the time this
// cycle already consumed.
func (b *Bot) sleepUntilNextBar(cycleStart time.Time) time.Duration {
	elapsed := b.now().Sub(cycleStart)
	d := time.Duration(b.intervalMillis)*time.Millisecond - elapsed
	if d < 0 {
		return 0
	}
	return d
}

// decide compares the frame's suggestion with the account's position and
// acts on a disagreement. Action errors are reported and dropped; the next
// cycle retries from a clean slate.
func (b *Bot) decide(ctx context.Context, frame *signal.Frame) {
	side, actionable, err := frame.SuggestedSide(b.cfg.Timeframe)
	if err != nil {
		b.reportError("signal derivation failed", err)
		return
	}
	if !actionable {
		log.Debug().Msg("no crossover in window, holding")
		return
	}

	balance, err := b.exchange.AccountBalance(ctx, b.exchange.BaseAsset(), true)
	if err != nil {
		b.reportError("balance check failed", err)
		return
	}
	position := PositionFromBalance(balance, b.cfg.PositionThreshold)

	switch {
	case side == model.SideBuy && position == model.PositionSold:
		if err := b.executeBuy(ctx); err != nil {
			b.reportError("buy failed", err)
			return
		}
		b.latch = latchNone
	case side == model.SideSell && position == model.PositionBought:
		if err := b.executeSell(ctx, balance); err != nil {
			b.reportError("sell failed", err)
			return
		}
		b.latch = latchNone
	case side == model.SideBuy:
		if b.latch != latchRepeatBuy {
			b.latch = latchRepeatBuy
			log.Info().Msg("buy suggested but already holding, ignoring")
			b.notifier.Notify("Buy signal while already bought, holding position", notify.ChannelTrades)
		}
	case side == model.SideSell:
		if b.latch != latchRepeatSell {
			b.latch = latchRepeatSell
			log.Info().Msg("sell suggested but already flat, ignoring")
			b.notifier.Notify("Sell signal while already sold, staying out", notify.ChannelTrades)
		}
	}
}

// executeBuy spends the full quote balance on a market buy, clears any
// stale stops, and parks a fresh protective stop under the entry price.
func (b *Bot) executeBuy(ctx context.Context) error {
	fiat, err := b.exchange.AccountBalance(ctx, b.exchange.QuoteAsset(), false)
	if err != nil {
		return err
	}
	if fiat.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("no %s available to buy with", b.exchange.QuoteAsset())
	}

	fills, err := b.exchange.MarketOrder(ctx, model.SideBuy, fiat)
	if err != nil {
		return err
	}
	qty, avgPrice := model.WeightedAvgPrice(fills)
	log.Info().
		Str("quantity", qty.String()).
		Str("avgPrice", avgPrice.String()).
		Msg("market buy filled")

	// replace any leftover stop from a previous position before arming a
	// new one, otherwise the old stop strands part of the balance
	if _, err := b.exchange.CancelOrdersByType(ctx, model.OrderTypeStopLossLimit); err != nil {
		return fmt.Errorf("cancelling stale stops: %w", err)
	}

	stopPrice := avgPrice.Mul(b.cfg.StopMultiplier)
	orderID, err := b.exchange.PlaceStopOrder(ctx, stopPrice)
	if err != nil {
		return fmt.Errorf("placing stop: %w", err)
	}

	b.notifier.Notify(fmt.Sprintf("Bought %s %s at avg %s, stop order %d at %s",
		qty, b.exchange.BaseAsset(), avgPrice, orderID, stopPrice.Round(2)), notify.ChannelTrades)
	return nil
}

// executeSell unwinds the position. With exactly one resting stop the stop
// is atomically replaced by a market sell for its quantity (the fast path:
// no moment without an order in the book). Otherwise every stop is
// cancelled and the free balance sold outright.
func (b *Bot) executeSell(ctx context.Context, balance decimal.Decimal) error {
	stopType := model.OrderTypeStopLossLimit
	stops, err := b.exchange.OpenOrders(ctx, &stopType)
	if err != nil {
		return err
	}

	var fills []model.Fill
	if len(stops) == 1 {
		fills, err = b.exchange.CancelAndReplaceWithSell(ctx, stops[0].OrderID, stops[0].OrigQty)
		if err != nil {
			return fmt.Errorf("cancel-replace sell: %w", err)
		}
	} else {
		if _, err := b.exchange.CancelOrdersByType(ctx, stopType); err != nil {
			return fmt.Errorf("cancelling stops: %w", err)
		}
		free, err := b.exchange.AccountBalance(ctx, b.exchange.BaseAsset(), false)
		if err != nil {
			return err
		}
		if free.LessThanOrEqual(decimal.Zero) {
			free = balance
		}
		fills, err = b.exchange.MarketOrder(ctx, model.SideSell, free)
		if err != nil {
			return fmt.Errorf("market sell: %w", err)
		}
	}

	qty, avgPrice := model.WeightedAvgPrice(fills)
	log.Info().
		Str("quantity", qty.String()).
		Str("avgPrice", avgPrice.String()).
		Msg("position sold")
	b.notifier.Notify(fmt.Sprintf("Sold %s %s at avg %s",
		qty, b.exchange.BaseAsset(), avgPrice), notify.ChannelTrades)
	return nil
}

// maybeSnapshot posts an operator update on bar closes landing on a
// ten-minute boundary: the crossover chart, a position and P&L summary, and
// the resting order listing. Best-effort throughout; a failed piece is
// logged and the rest still goes out.
func (b *Bot) maybeSnapshot(ctx context.Context, frame *signal.Frame) {
	last, ok := b.series.Last()
	if !ok || frame.Len() == 0 {
		return
	}
	if utils.EpochMinutes(last.CloseTime)%snapshotEveryMinutes != 0 {
		return
	}

	title := fmt.Sprintf("Crossover %s short=%d long=%d %s",
		b.cfg.Timeframe, b.cfg.ShortWindow, b.cfg.LongWindow, utils.EpochToDate(last.CloseTime))
	path := filepath.Join(b.cfg.ChartDir, fmt.Sprintf("crossover-%s.svg", b.cfg.Timeframe))
	if err := b.renderChart(frame, title, path); err != nil {
		log.Warn().Err(err).Msg("snapshot render failed")
	} else {
		row, _ := frame.Last()
		comment := fmt.Sprintf("close=%s short=%s long=%s", row.Close, row.Short.Round(2), row.Long.Round(2))
		b.notifier.UploadImage(path, title, comment, notify.ChannelTrades)
	}

	summary, err := b.positionSummary(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot summary failed")
		return
	}
	b.notifier.Notify(summary, notify.ChannelTrades)
}

// positionSummary describes the account for the snapshot: current holdings
// valued at the venue's average price, lifetime traded flow with the
// resulting P&L, and every resting order.
func (b *Bot) positionSummary(ctx context.Context) (string, error) {
	base, quote := b.exchange.BaseAsset(), b.exchange.QuoteAsset()

	balance, err := b.exchange.AccountBalance(ctx, base, true)
	if err != nil {
		return "", err
	}
	price, err := b.exchange.AvgPrice(ctx)
	if err != nil {
		return "", err
	}
	value := balance.Mul(price)

	trades, err := b.exchange.Trades(ctx)
	if err != nil {
		return "", err
	}
	spent, received := decimal.Zero, decimal.Zero
	for _, tr := range trades {
		notional := tr.Price.Mul(tr.Qty)
		if tr.IsBuyer {
			spent = spent.Add(notional)
		} else {
			received = received.Add(notional)
		}
	}
	pnl := received.Add(value).Sub(spent)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Position: %s %s, worth %s %s at avg %s\n",
		balance, base, value.Round(2), quote, price.Round(2))
	fmt.Fprintf(&sb, "P&L: spent %s, received %s, net %s %s\n",
		spent.Round(2), received.Round(2), pnl.Round(2), quote)

	orders, err := b.exchange.OpenOrders(ctx, nil)
	if err != nil {
		return "", err
	}
	if len(orders) == 0 {
		sb.WriteString("Open orders: none")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Open orders: %d", len(orders))
	for _, o := range orders {
		fmt.Fprintf(&sb, "\n  #%d %s %s %s @ %s", o.OrderID, o.Side, o.Type, o.OrigQty, o.Price)
	}
	return sb.String(), nil
}

// reportError logs a loop-survivable failure and raises a high-priority
// notification.
func (b *Bot) reportError(what string, err error) {
	log.Error().Err(err).Msg(what)
	b.notifier.Notify(fmt.Sprintf("ERROR: %s: %v", what, err), notify.ChannelAlerts)
}
