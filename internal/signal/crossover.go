// Package signal computes the moving-average crossover signal over a candle
// series.
//
// A Frame is a derived, read-only projection of a series: for every candle
// with enough history to fill both rolling windows it carries the close
// price, the short and long rolling means, a binary Signal (short above
// long) and a Position marker (+1 on crossover-up, -1 on crossover-down,
// 0 otherwise). The frame is recomputed in full from the current series on
// every evaluation — O(series length) per cycle, a deliberate trade of
// cycles for simplicity.
package signal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"crossbot/internal/model"
	"crossbot/internal/series"
	"crossbot/internal/utils"
)

// Unit is the unit in which moving-average window widths are expressed.
type Unit string

const (
	// UnitHours expresses windows directly in hours.
	UnitHours Unit = "hours"

	// UnitDays expresses windows in days (converted to hours internally).
	UnitDays Unit = "days"
)

var (
	// ErrUnsupportedUnit indicates a window unit other than hours or days.
	ErrUnsupportedUnit = errors.New("unsupported window unit")

	// ErrInvalidWindow indicates window widths that cannot produce a
	// meaningful signal (non-positive, or short >= long).
	ErrInvalidWindow = errors.New("invalid window sizes")

	// ErrUnexpectedSignal indicates a Position value outside {-1, 0, +1}.
	// Seeing it means frame derivation itself is broken.
	ErrUnexpectedSignal = errors.New("unexpected signal value")
)

// Row is one frame entry: a candle close with its rolling means and derived
// signal state.
type Row struct {
	Label    string          // human-readable close timestamp
	Close    decimal.Decimal // candle close price
	Short    decimal.Decimal // short-window rolling mean of Close
	Long     decimal.Decimal // long-window rolling mean of Close
	Signal   int             // 1 while Short > Long, else 0
	Position int             // first difference of Signal: +1, -1 or 0
}

// Frame is the crossover projection of one candle series. It is immutable
// once built; rebuild it after the series grows.
type Frame struct {
	Timeframe string
	Rows      []Row
}

// look-back window per timeframe: with fast 1-minute bars a crossover can
// slip past one polling cycle, so a 10-bar trailing window catches it;
// slower candles need no trailing tolerance.
func lookBackWindow(timeframe string) (int, error) {
	switch timeframe {
	case "1m":
		return 10, nil
	case "15m", "1h":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", series.ErrUnsupportedTimeframe, timeframe)
	}
}

// convertToHours normalizes a window width to hours.
func convertToHours(window int, unit Unit) (int, error) {
	switch unit {
	case UnitDays:
		return window * 24, nil
	case UnitHours:
		return window, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}
}

// BuildFrame computes the crossover frame for a series with the given
// short/long window widths.
//
// Windows are converted to hours (days multiply by 24), then to bar counts
// using the series' own bars-per-hour. Rows whose long window is not yet
// full are dropped before the signal is derived — a mean over a partial
// window would skew the first crossover. BuildFrame is a pure function of
// its inputs and safe to recompute repeatedly.
func BuildFrame(s *series.Series, shortWindow, longWindow int, unit Unit) (*Frame, error) {
	if shortWindow < 1 || longWindow < 1 || shortWindow >= longWindow {
		return nil, fmt.Errorf("%w: short=%d long=%d (need 0 < short < long)",
			ErrInvalidWindow, shortWindow, longWindow)
	}

	shortHours, err := convertToHours(shortWindow, unit)
	if err != nil {
		return nil, err
	}
	longHours, err := convertToHours(longWindow, unit)
	if err != nil {
		return nil, err
	}

	bph, err := s.BarsPerHour()
	if err != nil {
		return nil, err
	}
	shortBars := shortHours * bph
	longBars := longHours * bph

	frame := &Frame{Timeframe: s.Timeframe}
	if s.Len() < longBars {
		return frame, nil // not enough history for a single full window
	}

	closes := s.Closes()
	shortMeans := rollingMeans(closes, shortBars)
	longMeans := rollingMeans(closes, longBars)

	// Rows exist only from the first index where the long window is full.
	// shortBars < longBars, so the short mean is always available there.
	frame.Rows = make([]Row, 0, len(closes)-longBars+1)
	prevSignal := 0
	for i := longBars - 1; i < len(closes); i++ {
		row := Row{
			Label: utils.EpochToDate(s.Candles[i].CloseTime),
			Close: closes[i],
			Short: shortMeans[i],
			Long:  longMeans[i],
		}
		if row.Short.GreaterThan(row.Long) {
			row.Signal = 1
		}
		if i > longBars-1 {
			row.Position = row.Signal - prevSignal
		}
		prevSignal = row.Signal
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// rollingMeans computes the trailing mean of width window at every index
// where the window is full; earlier indexes hold zero values and are never
// read by BuildFrame. A running sum keeps this O(n).
func rollingMeans(values []decimal.Decimal, window int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	if window < 1 || len(values) < window {
		return out
	}
	width := decimal.NewFromInt(int64(window))
	sum := decimal.Zero
	for i, v := range values {
		sum = sum.Add(v)
		if i >= window {
			sum = sum.Sub(values[i-window])
		}
		if i >= window-1 {
			out[i] = sum.Div(width)
		}
	}
	return out
}

// Len returns the number of rows in the frame.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Last returns the most recent frame row, or false when the frame is empty.
func (f *Frame) Last() (Row, bool) {
	if len(f.Rows) == 0 {
		return Row{}, false
	}
	return f.Rows[len(f.Rows)-1], true
}

// SuggestedPosition examines only the most recent look-back window of rows
// and returns the last non-zero Position found within it, or 0 (hold) when
// the window holds no crossover.
func (f *Frame) SuggestedPosition(timeframe string) (int, error) {
	lookBack, err := lookBackWindow(timeframe)
	if err != nil {
		return 0, err
	}
	if lookBack > len(f.Rows) {
		lookBack = len(f.Rows)
	}
	for i := len(f.Rows) - 1; i >= len(f.Rows)-lookBack; i-- {
		if f.Rows[i].Position != 0 {
			return f.Rows[i].Position, nil
		}
	}
	return 0, nil
}

// SuggestedSide maps the suggested position onto an order side: +1 is a
// buy, -1 a sell. The second return value is false when the suggestion is
// to hold. Any other position value violates the frame's own invariant and
// returns ErrUnexpectedSignal.
func (f *Frame) SuggestedSide(timeframe string) (model.Side, bool, error) {
	pos, err := f.SuggestedPosition(timeframe)
	if err != nil {
		return "", false, err
	}
	switch pos {
	case 1:
		return model.SideBuy, true, nil
	case -1:
		return model.SideSell, true, nil
	case 0:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: %d", ErrUnexpectedSignal, pos)
	}
}
