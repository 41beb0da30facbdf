package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// Test_EpochToDate tests millisecond epoch conversion including sub-second
// round-up behavior
func Test_EpochToDate(t *testing.T) {
	tests := []struct {
		name        string
		epochMillis int64
		expected    string
		description string
	}{
		{
			name:        "Whole second",
			epochMillis: 1634567880000,
			expected:    "2021-10-18 14:38:00",
			description: "Should format an exact second without adjustment",
		},
		{
			name:        "Sub-second remainder rounds up",
			epochMillis: 1634567939999,
			expected:    "2021-10-18 14:39:00",
			description: "Candle close at :59.999 should label the next whole minute",
		},
		{
			name:        "One millisecond past the second rounds up",
			epochMillis: 1634567880001,
			expected:    "2021-10-18 14:38:01",
			description: "Any remainder should bump to the next second",
		},
		{
			name:        "Epoch zero",
			epochMillis: 0,
			expected:    "1970-01-01 00:00:00",
			description: "Should handle the epoch origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EpochToDate(tt.epochMillis), tt.description)
		})
	}
}

// Test_EpochMinutes tests minute extraction with the same rounding rule
func Test_EpochMinutes(t *testing.T) {
	tests := []struct {
		name        string
		epochMillis int64
		expected    int
		description string
	}{
		{
			name:        "Exact minute",
			epochMillis: 1634567880000, // 14:38:00
			expected:    38,
			description: "Should return the minute of an exact timestamp",
		},
		{
			name:        "Close time rounds into next minute",
			epochMillis: 1634567939999, // 14:38:59.999
			expected:    39,
			description: "A close at :59.999 counts as the next minute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EpochMinutes(tt.epochMillis), tt.description)
		})
	}
}

// Test_RoundDownDecimal tests truncation toward zero
func Test_RoundDownDecimal(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		places      int32
		expected    string
		description string
	}{
		{
			name:        "Truncates excess precision",
			input:       "0.123456789",
			places:      4,
			expected:    "0.1234",
			description: "Should drop digits past the requested precision",
		},
		{
			name:        "Never rounds up",
			input:       "1.99999",
			places:      4,
			expected:    "1.9999",
			description: "A quantity must never grow from rounding",
		},
		{
			name:        "Already exact",
			input:       "2.5",
			places:      4,
			expected:    "2.5",
			description: "Exact values should pass through unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decimal.RequireFromString(tt.input)
			got := RoundDownDecimal(d, tt.places)
			assert.Equal(t, tt.expected, got.String(), tt.description)
		})
	}
}

// Test_ValidateSymbol tests trading pair symbol validation
func Test_ValidateSymbol(t *testing.T) {
	tests := []struct {
		name        string
		symbol      string
		expectError bool
		description string
	}{
		{
			name:        "Valid ETHUSDT",
			symbol:      "ETHUSDT",
			expectError: false,
			description: "Should accept a standard pair symbol",
		},
		{
			name:        "Valid with digits",
			symbol:      "1INCHUSDT",
			expectError: false,
			description: "Should accept digits in the symbol",
		},
		{
			name:        "Empty symbol",
			symbol:      "",
			expectError: true,
			description: "Should reject an empty symbol",
		},
		{
			name:        "Too short",
			symbol:      "ETH",
			expectError: true,
			description: "Should reject symbols shorter than BASEQUOTE form",
		},
		{
			name:        "Lowercase",
			symbol:      "ethusdt",
			expectError: true,
			description: "Should reject lowercase symbols",
		},
		{
			name:        "Invalid character",
			symbol:      "ETH-USDT",
			expectError: true,
			description: "Should reject separator characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.expectError {
				assert.Error(t, err, tt.description)
			} else {
				assert.NoError(t, err, tt.description)
			}
		})
	}
}
