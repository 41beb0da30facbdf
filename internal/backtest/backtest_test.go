package backtest

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbot/internal/model"
	"crossbot/internal/series"
	"crossbot/internal/signal"
)

// hourlySeries builds a 1h series from close prices
func hourlySeries(t *testing.T, closes []float64) *series.Series {
	t.Helper()
	base := int64(1_700_000_000_000)
	s := series.New("1h")
	for i, c := range closes {
		openTime := base + int64(i)*3_600_000
		require.NoError(t, s.AppendCandle(model.Candle{
			OpenTime:  openTime,
			Close:     decimal.NewFromFloat(c),
			CloseTime: openTime + 3_599_999,
		}))
	}
	return s
}

// vShape produces a fall-then-rise close sequence that forces at least one
// crossover in each direction for small windows
func vShape(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if i < n/2 {
			closes[i] = 1000 - float64(i)*5
		} else {
			closes[i] = 1000 - float64(n/2)*5 + float64(i-n/2)*8
		}
	}
	return closes
}

// Test_NewRunner tests configuration defaulting and validation
func Test_NewRunner(t *testing.T) {
	t.Run("Defaults fill the grid", func(t *testing.T) {
		r, err := NewRunner(nil)
		require.NoError(t, err)
		assert.Len(t, r.cfg.ShortWindows, 11)
		assert.Len(t, r.cfg.Multipliers, 4)
		assert.Equal(t, signal.UnitDays, r.cfg.Unit)
		assert.True(t, r.cfg.StartFiat.Equal(decimal.NewFromInt(200)))
	})

	t.Run("Rejects a negative fee", func(t *testing.T) {
		_, err := NewRunner(&Config{FeeRate: decimal.RequireFromString("-0.1")})
		assert.Error(t, err)
	})

	t.Run("Rejects a fee of one or more", func(t *testing.T) {
		_, err := NewRunner(&Config{FeeRate: decimal.NewFromInt(1)})
		assert.Error(t, err)
	})
}

// Test_Run tests the grid sweep and result ordering
func Test_Run(t *testing.T) {
	s := hourlySeries(t, vShape(200))

	runner, err := NewRunner(&Config{
		ShortWindows: []int{1, 2},
		Multipliers:  []int{2, 3},
		Unit:         signal.UnitHours,
	})
	require.NoError(t, err)

	results, err := runner.Run(s)
	require.NoError(t, err)
	require.Len(t, results, 4, "Every grid combination produces a result")

	for i := 1; i < len(results); i++ {
		assert.True(t, results[i-1].PnL.GreaterThanOrEqual(results[i].PnL),
			"Results must be ordered by descending PnL")
	}
	for _, res := range results {
		assert.True(t, res.FinalFiat.Sub(res.PnL).Equal(decimal.NewFromInt(200)),
			"PnL must be final fiat minus the starting balance")
	}
}

// Test_Run_EmptySeries tests rejection of missing history
func Test_Run_EmptySeries(t *testing.T) {
	runner, err := NewRunner(nil)
	require.NoError(t, err)

	_, err = runner.Run(series.New("1h"))
	assert.ErrorIs(t, err, ErrNoHistory)

	_, err = runner.Run(nil)
	assert.ErrorIs(t, err, ErrNoHistory)
}

// Test_Simulate_ForcedLiquidation tests that an open position is sold at
// the final close so combinations compare in fiat
func Test_Simulate_ForcedLiquidation(t *testing.T) {
	// monotonically rising closes: one buy crossover, never a sell
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	// depress the early closes so the short mean starts below the long mean
	for i := 0; i < 10; i++ {
		closes[i] = 300 - float64(i)*20
	}
	s := hourlySeries(t, closes)

	runner, err := NewRunner(&Config{
		ShortWindows: []int{2},
		Multipliers:  []int{3},
		Unit:         signal.UnitHours,
	})
	require.NoError(t, err)

	results, err := runner.Run(s)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.GreaterOrEqual(t, res.Buys, 1, "The rise must trigger at least one buy")
	assert.Equal(t, res.Buys, res.Sells, "Forced liquidation closes every open position")
	assert.True(t, res.PnL.GreaterThan(decimal.Zero), "Riding a monotonic rise should profit")
}

// Test_Simulate_Fees tests that fees reduce the outcome
func Test_Simulate_Fees(t *testing.T) {
	s := hourlySeries(t, vShape(200))
	grid := &Config{ShortWindows: []int{2}, Multipliers: []int{2}, Unit: signal.UnitHours}

	free, err := NewRunner(&Config{
		ShortWindows: grid.ShortWindows, Multipliers: grid.Multipliers, Unit: grid.Unit,
		FeeRate: decimal.RequireFromString("0.000000001"),
	})
	require.NoError(t, err)
	costly, err := NewRunner(&Config{
		ShortWindows: grid.ShortWindows, Multipliers: grid.Multipliers, Unit: grid.Unit,
		FeeRate: decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)

	freeRes, err := free.Run(s)
	require.NoError(t, err)
	costlyRes, err := costly.Run(s)
	require.NoError(t, err)

	assert.True(t, freeRes[0].PnL.GreaterThan(costlyRes[0].PnL),
		"A higher fee rate must never improve the result")
}

// Test_WriteReport tests report formatting and file placement
func Test_WriteReport(t *testing.T) {
	dir := t.TempDir()
	results := []Result{
		{ShortWindow: 2, LongWindow: 6, Unit: signal.UnitHours, Buys: 3, Sells: 3,
			FinalFiat: decimal.RequireFromString("250.5"), PnL: decimal.RequireFromString("50.5")},
		{ShortWindow: 1, LongWindow: 2, Unit: signal.UnitHours, Buys: 9, Sells: 9,
			FinalFiat: decimal.RequireFromString("180"), PnL: decimal.RequireFromString("-20")},
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path, err := WriteReport(results, dir, at)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, path, "backtest-20240301-120000.txt")
	assert.Contains(t, content, "2 combinations")
	assert.Contains(t, content, "short=2")
	assert.Contains(t, content, "pnl=50.5")

	_, err = WriteReport(nil, dir, at)
	assert.ErrorIs(t, err, ErrNoHistory, "An empty result set has nothing to report")
}
