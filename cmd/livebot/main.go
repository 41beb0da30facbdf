/*
Package main runs the live moving-average crossover trading bot.

The bot keeps a rolling window of candles for one trading pair, derives the
short/long crossover signal each bar close, and places market and stop
orders on the exchange when the signal disagrees with the account's actual
position. Trade activity and error alerts are posted to Slack.

Usage:

	go run main.go -timeframe=1m -short=5 -long=20 -unit=hours

Exchange and Slack credentials come from .env or the environment
(BINANCE_API_KEY, BINANCE_API_SECRET, SLACK_TOKEN).
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crossbot/internal/config"
	"crossbot/internal/exchange"
	"crossbot/internal/notify"
	crossover "crossbot/internal/signal"
	"crossbot/internal/store"
	"crossbot/internal/trader"
)

var (
	// timeframe is the candle interval the bot trades on
	timeframe = flag.String("timeframe", "1m", "Candle timeframe (1m, 15m, 1h)")
	// shortWindow is the short moving-average width
	shortWindow = flag.Int("short", 5, "Short moving-average window")
	// longWindow is the long moving-average width
	longWindow = flag.Int("long", 20, "Long moving-average window")
	// unit is the unit both windows are expressed in
	unit = flag.String("unit", "hours", "Window unit (hours or days)")
)

func main() {
	flag.Parse()

	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("initiating graceful shutdown")
		cancel()
	}()

	bot, err := newBot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initiate trading bot")
	}

	log.Info().
		Str("timeframe", *timeframe).
		Int("short", *shortWindow).
		Int("long", *longWindow).
		Str("unit", *unit).
		Bool("testnet", cfg.Testnet).
		Msg("bot starting")

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("trading loop failed")
	}
	log.Info().Msg("bot stopped")
}

// validateConfig checks the command-line parameters before the bot starts.
func validateConfig() error {
	if *timeframe == "" {
		return fmt.Errorf("timeframe cannot be empty")
	}
	if *shortWindow < 1 || *longWindow < 1 {
		return fmt.Errorf("window widths must be positive")
	}
	if *shortWindow >= *longWindow {
		return fmt.Errorf("short window (%d) must be below long window (%d)", *shortWindow, *longWindow)
	}
	if *unit != string(crossover.UnitHours) && *unit != string(crossover.UnitDays) {
		return fmt.Errorf("unit must be %q or %q", crossover.UnitHours, crossover.UnitDays)
	}
	return nil
}

// newBot wires the exchange client, notifier and store into a trading bot.
func newBot(cfg config.Config) (*trader.Bot, error) {
	exCfg := exchange.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.Testnet {
		tc := exchange.TestnetConfig()
		tc.APIKey = cfg.APIKey
		tc.APISecret = cfg.APISecret
		exCfg = tc
	}

	client, err := exchange.NewClient(&exCfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to create exchange client")
		return nil, err
	}

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to create series store")
		return nil, err
	}

	notifier := notify.NewSlack(cfg.SlackToken)

	return trader.New(&trader.Config{
		Timeframe:   *timeframe,
		ShortWindow: *shortWindow,
		LongWindow:  *longWindow,
		Unit:        crossover.Unit(*unit),
		ChartDir:    filepath.Join(cfg.DataDir, "charts"),
	}, client, notifier, fileStore)
}
