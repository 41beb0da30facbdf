// Package backtest replays the crossover strategy over historical candles
// for a grid of window combinations and ranks them by profit.
//
// The simulation is intentionally naive: fills at the bar close, a flat
// percentage fee, no slippage, all-in position sizing. It exists to compare
// window widths against each other, not to predict absolute returns.
package backtest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crossbot/internal/series"
	"crossbot/internal/signal"
)

// ErrNoHistory indicates a run over a series too short to evaluate.
var ErrNoHistory = errors.New("not enough candle history to backtest")

// Config carries the simulation parameters.
type Config struct {
	// StartFiat is the simulated opening balance in the quote asset.
	StartFiat decimal.Decimal

	// FeeRate is the per-trade fee fraction (0.001 = 0.1%).
	FeeRate decimal.Decimal

	// ShortWindows are the short window widths to sweep.
	ShortWindows []int

	// Multipliers derive each long window as short * multiplier.
	Multipliers []int

	// Unit applies to every window width.
	Unit signal.Unit
}

// defaultBacktestConfig mirrors the live strategy's search space.
var defaultBacktestConfig = Config{
	StartFiat:    decimal.NewFromInt(200),
	FeeRate:      decimal.RequireFromString("0.001"),
	ShortWindows: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	Multipliers:  []int{2, 3, 4, 5},
	Unit:         signal.UnitDays,
}

func validateConfig(cfg *Config, defaults *Config) error {
	if cfg.StartFiat.IsZero() {
		cfg.StartFiat = defaults.StartFiat
	}
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = defaults.FeeRate
	}
	if len(cfg.ShortWindows) == 0 {
		cfg.ShortWindows = defaults.ShortWindows
	}
	if len(cfg.Multipliers) == 0 {
		cfg.Multipliers = defaults.Multipliers
	}
	if cfg.Unit == "" {
		cfg.Unit = defaults.Unit
	}
	if cfg.StartFiat.LessThanOrEqual(decimal.Zero) {
		return errors.New("start fiat must be positive")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("fee rate must be in [0, 1)")
	}
	return nil
}

// Result is the outcome of one window combination.
type Result struct {
	ShortWindow int
	LongWindow  int
	Unit        signal.Unit
	Buys        int
	Sells       int
	FinalFiat   decimal.Decimal
	PnL         decimal.Decimal
}

func (r Result) String() string {
	return fmt.Sprintf("short=%-3d long=%-3d %-5s buys=%-4d sells=%-4d final=%-12s pnl=%s",
		r.ShortWindow, r.LongWindow, r.Unit, r.Buys, r.Sells,
		r.FinalFiat.Round(2), r.PnL.Round(2))
}

// Runner sweeps the window grid over one candle series.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner; a nil config uses the default grid.
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil {
		c := defaultBacktestConfig
		cfg = &c
	}
	if err := validateConfig(cfg, &defaultBacktestConfig); err != nil {
		return nil, err
	}
	return &Runner{cfg: *cfg}, nil
}

// Run evaluates every short-window/multiplier combination over the series
// and returns the results ordered by descending profit.
func (r *Runner) Run(s *series.Series) ([]Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, ErrNoHistory
	}

	results := make([]Result, 0, len(r.cfg.ShortWindows)*len(r.cfg.Multipliers))
	for _, short := range r.cfg.ShortWindows {
		for _, mult := range r.cfg.Multipliers {
			long := short * mult
			res, err := r.simulate(s, short, long)
			if err != nil {
				return nil, fmt.Errorf("short=%d long=%d: %w", short, long, err)
			}
			results = append(results, res)
			log.Debug().
				Int("shortWindow", short).
				Int("longWindow", long).
				Str("pnl", res.PnL.Round(2).String()).
				Msg("combination evaluated")
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].PnL.GreaterThan(results[j].PnL)
	})
	return results, nil
}

// simulate replays one window combination. Buys go all-in at the bar close
// with the fee deducted from the spend; a position still open at the end of
// history is liquidated at the final close so every combination is
// compared in fiat.
func (r *Runner) simulate(s *series.Series, short, long int) (Result, error) {
	frame, err := signal.BuildFrame(s, short, long, r.cfg.Unit)
	if err != nil {
		return Result{}, err
	}

	res := Result{ShortWindow: short, LongWindow: long, Unit: r.cfg.Unit}
	fiat := r.cfg.StartFiat
	holdings := decimal.Zero
	feeKeep := decimal.NewFromInt(1).Sub(r.cfg.FeeRate)

	for _, row := range frame.Rows {
		switch {
		case row.Position == 1 && holdings.IsZero():
			holdings = fiat.Mul(feeKeep).Div(row.Close)
			fiat = decimal.Zero
			res.Buys++
		case row.Position == -1 && !holdings.IsZero():
			fiat = holdings.Mul(row.Close).Mul(feeKeep)
			holdings = decimal.Zero
			res.Sells++
		}
	}

	if !holdings.IsZero() {
		last := frame.Rows[len(frame.Rows)-1]
		fiat = holdings.Mul(last.Close).Mul(feeKeep)
		res.Sells++
	}

	res.FinalFiat = fiat
	res.PnL = fiat.Sub(r.cfg.StartFiat)
	return res, nil
}

// WriteReport formats the ranked results into a timestamped text file under
// dir and returns its path.
func WriteReport(results []Result, dir string, at time.Time) (string, error) {
	if len(results) == 0 {
		return "", ErrNoHistory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Backtest report %s\n", at.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "%d combinations, ranked by PnL\n\n", len(results))
	for i, res := range results {
		fmt.Fprintf(&b, "%3d. %s\n", i+1, res)
	}

	path := filepath.Join(dir, fmt.Sprintf("backtest-%s.txt", at.UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
