package metrics_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/internal/metrics"
	"github.com/atlas-desktop/backtester/pkg/types"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestEquityToReturns(t *testing.T) {
	returns, err := metrics.EquityToReturns([]float64{100, 110, 99})
	require.NoError(t, err)
	require.Len(t, returns, 3)
	assert.Equal(t, 0.0, returns[0])
	assert.InDelta(t, 0.1, returns[1], 1e-12)
	assert.InDelta(t, -0.1, returns[2], 1e-12)
}

func TestEquityToReturnsRejectsNonPositive(t *testing.T) {
	for _, curve := range [][]float64{
		{100, 0, 110},
		{100, -5},
		{100, math.NaN()},
		{100, math.Inf(1)},
	} {
		_, err := metrics.EquityToReturns(curve)
		assert.ErrorIs(t, err, metrics.ErrNonPositiveEquity)
	}
}

func TestTotalReturnAndCAGR(t *testing.T) {
	equity := []float64{100, 105, 121}
	assert.InDelta(t, 0.21, metrics.TotalReturn(equity), 1e-12)

	// two periods of 10% at 2 periods per year is 21% annualized
	assert.InDelta(t, 0.21, metrics.CAGR(equity, 2), 1e-9)

	assert.Equal(t, 0.0, metrics.CAGR([]float64{100}, 252))
}

func TestVolatilityAndSharpe(t *testing.T) {
	// alternating +1%/-1% after the synthetic zero first return
	returns := []float64{0, 0.01, -0.01, 0.01, -0.01}

	vol := metrics.Volatility(returns, 252)
	assert.Greater(t, vol, 0.0)

	// zero mean excess return yields zero Sharpe
	s := metrics.Sharpe(returns, 0, 252)
	assert.InDelta(t, 0.0, s, 1e-9)

	// constant returns have no deviation
	flat := []float64{0, 0.01, 0.01, 0.01}
	assert.Equal(t, 0.0, metrics.Sharpe(flat, 0, 252))
}

func TestMaxDrawdown(t *testing.T) {
	equity := []float64{100, 120, 90, 110, 80}
	// trough 80 against peak 120
	assert.InDelta(t, 80.0/120.0-1, metrics.MaxDrawdown(equity), 1e-12)

	assert.Equal(t, 0.0, metrics.MaxDrawdown([]float64{100, 110, 120}))
	assert.Equal(t, 0.0, metrics.MaxDrawdown(nil))
}

func TestDrawdownSeries(t *testing.T) {
	dd := metrics.DrawdownSeries([]float64{100, 110, 99})
	require.Len(t, dd, 3)
	assert.Equal(t, 0.0, dd[0])
	assert.Equal(t, 0.0, dd[1])
	assert.InDelta(t, 0.9-1, dd[2], 1e-12)
}

func TestCalculatorSummarize(t *testing.T) {
	ledger := []types.LedgerRow{
		{Timestamp: t0, Equity: 100},
		{Timestamp: t0.Add(24 * time.Hour), Equity: 110},
		{Timestamp: t0.Add(48 * time.Hour), Equity: 105},
	}
	calc := metrics.NewCalculator(zap.NewNop())
	summary, err := calc.Summarize(ledger, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, summary.TotalReturn, 1e-12)
	assert.Less(t, summary.MaxDrawdown, 0.0)
}

func TestCalculatorSummarizeNaNEquity(t *testing.T) {
	ledger := []types.LedgerRow{
		{Timestamp: t0, Equity: 100},
		{Timestamp: t0.Add(24 * time.Hour), Equity: math.NaN()},
	}
	calc := metrics.NewCalculator(zap.NewNop())
	_, err := calc.Summarize(ledger, 0)
	assert.ErrorIs(t, err, metrics.ErrNonPositiveEquity)
}

func TestCalculatorTrades(t *testing.T) {
	trades := []types.Trade{
		{PnLNet: 100, HoldingPeriod: 24 * time.Hour},
		{PnLNet: -40, HoldingPeriod: 48 * time.Hour},
		{PnLNet: 60, HoldingPeriod: 24 * time.Hour},
	}
	calc := metrics.NewCalculator(zap.NewNop())
	stats := calc.Trades(trades)

	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-12)
	assert.InDelta(t, 80.0, stats.AvgWin, 1e-12)
	assert.InDelta(t, 40.0, stats.AvgLoss, 1e-12)
	assert.InDelta(t, 100.0, stats.LargestWin, 1e-12)
	assert.InDelta(t, 40.0, stats.LargestLoss, 1e-12)
	assert.InDelta(t, 4.0, stats.ProfitFactor, 1e-12)
	assert.Equal(t, 32*time.Hour, stats.AvgHoldingTime)
}

func TestCalculatorTurnover(t *testing.T) {
	ledger := []types.LedgerRow{
		{Timestamp: t0, Equity: 1000},
		{Timestamp: t0.Add(24 * time.Hour), Equity: 1000},
		{Timestamp: t0.Add(48 * time.Hour), Equity: math.NaN()},
	}
	fills := []types.Fill{
		{Timestamp: t0, Symbol: "AAA", Qty: 1, Price: 100},
		{Timestamp: t0, Symbol: "BBB", Qty: -1, Price: 100},
		{Timestamp: t0.Add(24 * time.Hour), Symbol: "AAA", Qty: 4, Price: 100},
		{Timestamp: t0.Add(48 * time.Hour), Symbol: "AAA", Qty: 1, Price: 100},
	}
	calc := metrics.NewCalculator(zap.NewNop())
	stats := calc.Turnover(ledger, fills, 252)

	// bar 0 ratio 0.2, bar 1 ratio 0.4; the NaN-equity bar is skipped
	assert.InDelta(t, 0.3, stats.Mean, 1e-12)
	assert.InDelta(t, 0.3, stats.Median, 1e-12)
	assert.InDelta(t, 0.3*252, stats.Annualized, 1e-9)
}

func TestCalculatorTurnoverEmpty(t *testing.T) {
	calc := metrics.NewCalculator(zap.NewNop())
	assert.Equal(t, metrics.TurnoverStats{}, calc.Turnover(nil, nil, 252))
}
