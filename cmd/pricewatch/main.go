/*
Package main tails live trade prints for one trading pair and reports how
each print sits against the moving average of recent candle closes.

It fetches the last hour of minute candles to seed the average, then
streams trades over the exchange's WebSocket trade feed, logging every
print with its distance from the average. Useful for eyeballing the feed
the bot trades against and for verifying connectivity before letting the
live loop place orders.

Usage:

	go run main.go -symbol=ETHUSDT -lookback=60
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/exchange"
	"crossbot/internal/series"
	"crossbot/internal/utils"
)

var (
	// symbol is the trading pair to watch
	symbol = flag.String("symbol", "ETHUSDT", "Trading pair to watch")
	// lookback is how many minute candles seed the reference average
	lookback = flag.Int("lookback", 60, "Minutes of closes behind the reference average")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
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

	client, err := exchange.NewClient(&exchange.Config{Symbol: *symbol})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create exchange client")
	}

	avg, err := referenceAverage(ctx, client)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compute reference average")
	}
	log.Info().
		Str("symbol", *symbol).
		Int("lookback", *lookback).
		Str("average", avg.Round(2).String()).
		Msg("reference average computed")

	events, sc, err := client.SubscribeToTrades(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to trade stream")
	}
	defer sc.Close()

	for event := range events {
		direction := "above"
		if event.Price.LessThan(avg) {
			direction = "below"
		}
		log.Info().
			Str("pair", event.Pair).
			Str("price", event.Price.String()).
			Str("quantity", event.Quantity.String()).
			Str("vsAverage", direction).
			Str("delta", event.Price.Sub(avg).Round(2).String()).
			Time("time", event.Timestamp).
			Msg("trade")
	}

	select {
	case err := <-sc.ErrChan():
		log.Warn().Err(err).Msg("trade stream closed")
	default:
		log.Info().Msg("trade stream closed")
	}
}

// validateConfig checks the command-line parameters.
func validateConfig() error {
	if err := utils.ValidateSymbol(*symbol); err != nil {
		return err
	}
	if *lookback < 1 {
		return fmt.Errorf("lookback must be positive")
	}
	return nil
}

// referenceAverage fetches the trailing lookback of minute candles and
// returns the mean close.
func referenceAverage(ctx context.Context, client *exchange.Client) (decimal.Decimal, error) {
	start := time.Now().Add(-time.Duration(*lookback) * time.Minute).UnixMilli()
	s, err := client.Klines(ctx, "1m", start, 0)
	if err != nil {
		return decimal.Zero, err
	}
	if s.Len() == 0 {
		return decimal.Zero, fmt.Errorf("no candles in the last %d minutes", *lookback)
	}
	return meanCloses(s), nil
}

// meanCloses averages every close in the series.
func meanCloses(s *series.Series) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range s.Closes() {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(s.Len())))
}
