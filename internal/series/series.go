// Package series implements an append-only, time-ordered store of
// fixed-interval OHLCV candles for a single instrument and timeframe.
//
// A Series only ever grows at the end: new candles must start at or after
// the close time of the last candle already held, and every candle in a
// series shares one timeframe. Violating either rule is a hard error, never
// silently repaired — an out-of-order append means the caller's fetch logic
// is broken and the data cannot be trusted.
package series

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"crossbot/internal/model"
)

// Sentinel errors for series integrity violations. These are programmer or
// data errors: callers must not retry them.
var (
	// ErrOutOfOrder indicates an appended batch starts before the close
	// time of the series' last candle.
	ErrOutOfOrder = errors.New("candle batch opens before end of series")

	// ErrTimeframeMismatch indicates an append between series of
	// different timeframes.
	ErrTimeframeMismatch = errors.New("candle timeframe mismatch")

	// ErrUnsupportedTimeframe indicates a timeframe string outside the
	// supported minute/hour intervals.
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

	// ErrInvalidTrim indicates malformed trim arguments.
	ErrInvalidTrim = errors.New("invalid trim arguments")
)

// Series is an ordered sequence of candles sharing one timeframe.
//
// The zero value is not usable; construct with New or FromCandles. The
// exported fields exist only for JSON persistence — mutate the series
// through its methods so the ordering invariant holds.
type Series struct {
	Timeframe string         `json:"timeframe"`
	Candles   []model.Candle `json:"candles"`
}

// New creates an empty series with a declared timeframe (e.g. "1m", "15m",
// "1h"). The timeframe may be left empty and inferred from the first
// appended candle batch.
func New(timeframe string) *Series {
	return &Series{Timeframe: timeframe}
}

// FromCandles creates a series from an already-ordered candle slice. The
// candles are validated pairwise for ordering.
func FromCandles(timeframe string, candles []model.Candle) (*Series, error) {
	s := New(timeframe)
	for _, c := range candles {
		if err := s.AppendCandle(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	return len(s.Candles)
}

// Last returns the most recent candle, or false when the series is empty.
func (s *Series) Last() (model.Candle, bool) {
	if len(s.Candles) == 0 {
		return model.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// LastCloseTime returns the close time of the most recent candle, or zero
// for an empty series.
func (s *Series) LastCloseTime() int64 {
	last, ok := s.Last()
	if !ok {
		return 0
	}
	return last.CloseTime
}

// Append concatenates a batch of candles onto the end of the series.
//
// The batch's first candle must not open before this series' last close
// time (ErrOutOfOrder) and both series must share a timeframe
// (ErrTimeframeMismatch). An empty batch is a no-op. O(len(batch)).
func (s *Series) Append(batch *Series) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	if err := s.adoptTimeframe(batch.Timeframe); err != nil {
		return err
	}
	if last, ok := s.Last(); ok && batch.Candles[0].OpenTime < last.CloseTime {
		return fmt.Errorf("%w: batch opens at %d, series closes at %d",
			ErrOutOfOrder, batch.Candles[0].OpenTime, last.CloseTime)
	}
	s.Candles = append(s.Candles, batch.Candles...)
	return nil
}

// AppendCandle appends one candle, inferring the series timeframe from the
// declared one if the series is still empty and untyped.
func (s *Series) AppendCandle(c model.Candle) error {
	if last, ok := s.Last(); ok && c.OpenTime < last.CloseTime {
		return fmt.Errorf("%w: candle opens at %d, series closes at %d",
			ErrOutOfOrder, c.OpenTime, last.CloseTime)
	}
	s.Candles = append(s.Candles, c)
	return nil
}

// adoptTimeframe sets the series timeframe on first use and rejects any
// later change.
func (s *Series) adoptTimeframe(timeframe string) error {
	if s.Timeframe == "" {
		s.Timeframe = timeframe
		return nil
	}
	if timeframe != "" && timeframe != s.Timeframe {
		return fmt.Errorf("%w: series is %q, batch is %q",
			ErrTimeframeMismatch, s.Timeframe, timeframe)
	}
	return nil
}

// Trim bounds the series to its most recent keepFromEnd candles, dropping
// the oldest first, then optionally drops the most recent dropFromEnd of
// those. The second cut lets a backtest carve an evaluation window offset
// from "now".
//
// Trimming a series already shorter than keepFromEnd is a no-op. Trim is
// idempotent: applying the same arguments twice changes nothing after the
// first call.
func (s *Series) Trim(keepFromEnd, dropFromEnd int) error {
	if keepFromEnd < 1 {
		return fmt.Errorf("%w: keepFromEnd must be a positive integer, got %d",
			ErrInvalidTrim, keepFromEnd)
	}
	if dropFromEnd < 0 {
		return fmt.Errorf("%w: dropFromEnd cannot be negative, got %d",
			ErrInvalidTrim, dropFromEnd)
	}
	if dropFromEnd > keepFromEnd {
		return fmt.Errorf("%w: dropFromEnd (%d) cannot exceed keepFromEnd (%d)",
			ErrInvalidTrim, dropFromEnd, keepFromEnd)
	}
	if len(s.Candles) > keepFromEnd {
		s.Candles = s.Candles[len(s.Candles)-keepFromEnd:]
	}
	if dropFromEnd > 0 {
		if dropFromEnd >= len(s.Candles) {
			s.Candles = s.Candles[:0]
		} else {
			s.Candles = s.Candles[:len(s.Candles)-dropFromEnd]
		}
	}
	return nil
}

// BarsPerHour derives how many candles of this series' timeframe fit in one
// hour: 60 for "1m", 4 for "15m", 1 for "1h". Only minute and whole-hour
// timeframes are supported.
func (s *Series) BarsPerHour() (int, error) {
	return BarsPerHour(s.Timeframe)
}

// BarsPerHour is the package-level form of Series.BarsPerHour for callers
// holding only a timeframe string.
func BarsPerHour(timeframe string) (int, error) {
	if timeframe == "" {
		return 0, fmt.Errorf("%w: timeframe is unset", ErrUnsupportedTimeframe)
	}
	unit := timeframe[len(timeframe)-1]
	amount, err := strconv.Atoi(strings.TrimSuffix(timeframe, string(unit)))
	if err != nil || amount < 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, timeframe)
	}
	switch unit {
	case 'm':
		if 60%amount != 0 {
			return 0, fmt.Errorf("%w: %q does not divide one hour", ErrUnsupportedTimeframe, timeframe)
		}
		return 60 / amount, nil
	case 'h':
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, timeframe)
	}
}

// IntervalMillis returns the candle duration of this series' timeframe in
// milliseconds.
func (s *Series) IntervalMillis() (int64, error) {
	bph, err := s.BarsPerHour()
	if err != nil {
		return 0, err
	}
	return int64(3_600_000 / bph), nil
}

// Closes returns the close price of every candle, oldest first.
func (s *Series) Closes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}
