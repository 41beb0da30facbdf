// Package utils provides small shared helpers for time conversion, rounding
// and symbol validation.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the human-readable timestamp format used for frame labels
// and log output.
const DateLayout = "2006-01-02 15:04:05"

// EpochToDate converts a millisecond epoch timestamp to a human-readable
// UTC date string.
//
// Sub-second remainders round UP to the next whole second, so a candle close
// time of 14:03:59.999 is labelled 14:04:00. This matters: bar alignment
// downstream relies on close labels landing on whole minutes.
func EpochToDate(epochMillis int64) string {
	secs := epochMillis / 1000
	if epochMillis%1000 != 0 {
		secs++
	}
	return time.Unix(secs, 0).UTC().Format(DateLayout)
}

// EpochMinutes returns the minute-of-hour component of a millisecond epoch
// timestamp, after the same round-up applied by EpochToDate.
func EpochMinutes(epochMillis int64) int {
	secs := epochMillis / 1000
	if epochMillis%1000 != 0 {
		secs++
	}
	return time.Unix(secs, 0).UTC().Minute()
}

// RoundDownDecimal truncates d toward zero to the given number of decimal
// places. Order quantities must round DOWN to satisfy the venue's LOT_SIZE
// filter; rounding half-up could request more than the account holds.
func RoundDownDecimal(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundDown(places)
}

// Error definitions for symbol validation.
var (
	ErrEmptySymbol = errors.New("symbol cannot be empty")
)

// ValidateSymbol checks that a trading pair symbol is a plausible
// BASEQUOTE identifier (uppercase alphanumerics, at least five characters).
// It does not consult the venue's symbol list; a bad symbol still fails
// fast on the first API call.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	if len(symbol) < 5 {
		return fmt.Errorf("symbol %q too short: expected BASEQUOTE form", symbol)
	}
	if symbol != strings.ToUpper(symbol) {
		return fmt.Errorf("symbol %q must be uppercase", symbol)
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
		}
	}
	return nil
}
