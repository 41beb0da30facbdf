/*
Package main sweeps crossover window combinations over historical candles
and ranks them by simulated profit.

Candle history is cached on disk between runs: the cache is loaded, the
missing tail fetched from the exchange's public kline endpoint (no
credentials needed) and the cache refreshed. The evaluation window is then
carved out of the cached series, the strategy replayed for every
short-window/multiplier pair in the grid, and a ranked report written.

Usage:

	go run main.go -timeframe=1h -days=30 -drop-days=0 -out=data
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/backtest"
	"crossbot/internal/exchange"
	"crossbot/internal/series"
	"crossbot/internal/store"
)

var (
	// timeframe is the candle interval to replay
	timeframe = flag.String("timeframe", "1h", "Candle timeframe (1m, 15m, 1h)")
	// days is the span of the evaluation window
	days = flag.Int("days", 30, "Days of candle history to backtest over")
	// dropDays shifts the evaluation window back from now
	dropDays = flag.Int("drop-days", 0, "Most recent days to exclude from the window")
	// cacheDir is where the candle cache lives
	cacheDir = flag.String("cache", "data", "Directory for the candle cache")
	// out is the report directory
	out = flag.String("out", "data", "Directory for the report file")
	// startFiat is the simulated opening balance
	startFiat = flag.Int("fiat", 200, "Simulated starting fiat balance")
	// top bounds how many results are printed to the console
	top = flag.Int("top", 10, "Number of top results to print")
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s, err := loadHistory(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candle history")
	}

	if err := carveWindow(s); err != nil {
		log.Fatal().Err(err).Msg("failed to carve evaluation window")
	}
	log.Info().
		Int("candles", s.Len()).
		Str("timeframe", *timeframe).
		Int("days", *days).
		Int("dropDays", *dropDays).
		Msg("evaluation window ready")

	runner, err := backtest.NewRunner(&backtest.Config{
		StartFiat: decimal.NewFromInt(int64(*startFiat)),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create backtest runner")
	}

	results, err := runner.Run(s)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	path, err := backtest.WriteReport(results, *out, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}
	log.Info().Str("path", path).Msg("report written")

	limit := *top
	if limit > len(results) {
		limit = len(results)
	}
	for i := 0; i < limit; i++ {
		fmt.Printf("%3d. %s\n", i+1, results[i])
	}
}

// validateConfig checks the command-line parameters.
func validateConfig() error {
	if _, err := series.BarsPerHour(*timeframe); err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("days must be positive")
	}
	if *dropDays < 0 {
		return fmt.Errorf("drop-days cannot be negative")
	}
	if *cacheDir == "" || *out == "" {
		return fmt.Errorf("cache and output directories cannot be empty")
	}
	if *startFiat < 1 {
		return fmt.Errorf("starting fiat must be positive")
	}
	return nil
}

// loadHistory restores the cached series, fetches the missing tail from the
// venue and refreshes the cache.
func loadHistory(ctx context.Context) (*series.Series, error) {
	client, err := exchange.NewClient(nil)
	if err != nil {
		return nil, err
	}
	fileStore, err := store.NewFileStore(*cacheDir)
	if err != nil {
		return nil, err
	}

	span := time.Duration(*days+*dropDays) * 24 * time.Hour
	s, err := fileStore.Load(*timeframe)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("cache unusable, refetching")
		}
		if s, err = client.Klines(ctx, *timeframe, time.Now().Add(-span).UnixMilli(), 0); err != nil {
			return nil, err
		}
	} else {
		tail, err := client.Klines(ctx, *timeframe, s.LastCloseTime(), 0)
		if err != nil {
			return nil, err
		}
		if err := s.Append(tail); err != nil {
			return nil, err
		}
	}

	if err := fileStore.Save(s); err != nil {
		log.Warn().Err(err).Msg("failed to refresh candle cache")
	}
	return s, nil
}

// carveWindow bounds the series to the requested evaluation window: keep
// the most recent days+dropDays of bars, then cut dropDays off the end.
func carveWindow(s *series.Series) error {
	bph, err := s.BarsPerHour()
	if err != nil {
		return err
	}
	keep := (*days + *dropDays) * 24 * bph
	drop := *dropDays * 24 * bph
	return s.Trim(keep, drop)
}
