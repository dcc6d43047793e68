// Package metrics computes performance statistics from backtest output.
package metrics

import (
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// PeriodsPerYear is the annualization factor for daily bars.
const PeriodsPerYear = 252

// ErrNonPositiveEquity is returned when an equity curve contains a value
// that is zero, negative, or not finite.
var ErrNonPositiveEquity = errors.New("metrics: equity must be finite and > 0")

// Summary holds the headline performance figures for a run.
type Summary struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	AnnualVol   float64 `json:"annual_vol"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// TradeStats summarizes closed round-trip trades.
type TradeStats struct {
	TotalTrades    int           `json:"total_trades"`
	WinningTrades  int           `json:"winning_trades"`
	LosingTrades   int           `json:"losing_trades"`
	WinRate        float64       `json:"win_rate"`
	AvgWin         float64       `json:"avg_win"`
	AvgLoss        float64       `json:"avg_loss"`
	LargestWin     float64       `json:"largest_win"`
	LargestLoss    float64       `json:"largest_loss"`
	ProfitFactor   float64       `json:"profit_factor"`
	Expectancy     float64       `json:"expectancy"`
	AvgHoldingTime time.Duration `json:"avg_holding_time"`
}

// TurnoverStats summarizes traded notional relative to equity.
type TurnoverStats struct {
	Mean       float64 `json:"turnover_mean"`
	Median     float64 `json:"turnover_median"`
	Annualized float64 `json:"turnover_annualized"`
}

// Calculator computes performance metrics.
type Calculator struct {
	logger *zap.Logger
}

// NewCalculator creates a metrics calculator.
func NewCalculator(logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{logger: logger}
}

// EquityToReturns converts an equity curve into simple per-period returns.
// The first return is defined as zero. Every equity value must be finite
// and strictly positive.
func EquityToReturns(equity []float64) ([]float64, error) {
	for _, e := range equity {
		if !fmath.IsFinite(e) || e <= 0 {
			return nil, ErrNonPositiveEquity
		}
	}
	if len(equity) == 0 {
		return nil, nil
	}
	returns := make([]float64, len(equity))
	for i := 1; i < len(equity); i++ {
		returns[i] = equity[i]/equity[i-1] - 1
	}
	return returns, nil
}

// TotalReturn is the cumulative return over the whole curve.
func TotalReturn(equity []float64) float64 {
	if len(equity) == 0 || equity[0] == 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1
}

// CAGR annualizes the total return assuming periodsPerYear bars per year.
func CAGR(equity []float64, periodsPerYear int) float64 {
	n := len(equity) - 1
	if n <= 0 || equity[0] <= 0 {
		return 0
	}
	return math.Pow(equity[len(equity)-1]/equity[0], float64(periodsPerYear)/float64(n)) - 1
}

// Volatility is the annualized sample standard deviation of returns.
// The synthetic first return is excluded.
func Volatility(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	tail := returns[1:]
	return sampleStdDev(tail, mean(tail)) * math.Sqrt(float64(periodsPerYear))
}

// Sharpe is the annualized Sharpe ratio of returns in excess of a flat
// annual risk-free rate. Returns 0 when the excess-return deviation is
// effectively zero.
func Sharpe(returns []float64, rf float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	perPeriodRF := rf / float64(periodsPerYear)
	excess := make([]float64, 0, len(returns)-1)
	for _, r := range returns[1:] {
		e := r - perPeriodRF
		if fmath.IsFinite(e) {
			excess = append(excess, e)
		}
	}
	if len(excess) < 2 {
		return 0
	}
	mu := mean(excess)
	sd := sampleStdDev(excess, mu)
	if sd < 1e-12 {
		return 0
	}
	return (mu / sd) * math.Sqrt(float64(periodsPerYear))
}

// DrawdownSeries returns equity divided by its running peak, minus one.
func DrawdownSeries(equity []float64) []float64 {
	dd := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, e := range equity {
		if e > peak {
			peak = e
		}
		dd[i] = e/peak - 1
	}
	return dd
}

// MaxDrawdown is the most negative point of the drawdown series.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	min := 0.0
	for _, d := range DrawdownSeries(equity) {
		if d < min {
			min = d
		}
	}
	return min
}

// Summarize computes the headline metrics from a ledger.
func (c *Calculator) Summarize(ledger []types.LedgerRow, rf float64) (Summary, error) {
	equity := make([]float64, len(ledger))
	for i, row := range ledger {
		equity[i] = row.Equity
	}
	returns, err := EquityToReturns(equity)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		TotalReturn: TotalReturn(equity),
		CAGR:        CAGR(equity, PeriodsPerYear),
		AnnualVol:   Volatility(returns, PeriodsPerYear),
		Sharpe:      Sharpe(returns, rf, PeriodsPerYear),
		MaxDrawdown: MaxDrawdown(equity),
	}
	c.logger.Debug("computed performance summary",
		zap.Float64("total_return", s.TotalReturn),
		zap.Float64("sharpe", s.Sharpe))
	return s, nil
}

// Trades computes round-trip trade statistics.
func (c *Calculator) Trades(trades []types.Trade) TradeStats {
	stats := TradeStats{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	var totalWins, totalLosses float64
	var totalHolding time.Duration
	for _, t := range trades {
		totalHolding += t.HoldingPeriod
		switch {
		case t.PnLNet > 0:
			stats.WinningTrades++
			totalWins += t.PnLNet
			if t.PnLNet > stats.LargestWin {
				stats.LargestWin = t.PnLNet
			}
		case t.PnLNet < 0:
			stats.LosingTrades++
			totalLosses += -t.PnLNet
			if -t.PnLNet > stats.LargestLoss {
				stats.LargestLoss = -t.PnLNet
			}
		}
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	if stats.WinningTrades > 0 {
		stats.AvgWin = totalWins / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = totalLosses / float64(stats.LosingTrades)
	}
	if totalLosses > 0 {
		stats.ProfitFactor = totalWins / totalLosses
	}
	stats.Expectancy = stats.WinRate*stats.AvgWin - (1-stats.WinRate)*stats.AvgLoss
	stats.AvgHoldingTime = totalHolding / time.Duration(stats.TotalTrades)
	return stats
}

// Turnover relates per-bar traded notional to that bar's equity. Bars with
// non-positive or non-finite equity are skipped.
func (c *Calculator) Turnover(ledger []types.LedgerRow, fills []types.Fill, periodsPerYear int) TurnoverStats {
	if len(ledger) == 0 || len(fills) == 0 {
		return TurnoverStats{}
	}

	notionalByBar := make(map[int64]float64, len(ledger))
	for _, f := range fills {
		notionalByBar[f.Timestamp.UnixNano()] += f.Notional()
	}

	ratios := make([]float64, 0, len(ledger))
	for _, row := range ledger {
		notional, ok := notionalByBar[row.Timestamp.UnixNano()]
		if !ok {
			continue
		}
		if !fmath.IsFinite(row.Equity) || row.Equity <= 0 || !fmath.IsFinite(notional) {
			continue
		}
		ratios = append(ratios, notional/row.Equity)
	}
	if len(ratios) == 0 {
		return TurnoverStats{}
	}

	mu := mean(ratios)
	return TurnoverStats{
		Mean:       mu,
		Median:     median(ratios),
		Annualized: mu * float64(periodsPerYear),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev uses ddof=1.
func sampleStdDev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
