package metrics

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/pkg/types"
)

// MonteCarloConfig controls the resampling run.
type MonteCarloConfig struct {
	Iterations int     `json:"iterations" mapstructure:"iterations"`
	Seed       int64   `json:"seed" mapstructure:"seed"`
	RuinLevel  float64 `json:"ruin_level" mapstructure:"ruin_level"`
}

// MonteCarloResult summarizes the distribution of resampled trade paths.
type MonteCarloResult struct {
	Iterations      int     `json:"iterations"`
	MedianPnL       float64 `json:"median_pnl"`
	P5PnL           float64 `json:"p5_pnl"`
	P95PnL          float64 `json:"p95_pnl"`
	ProbabilityRuin float64 `json:"probability_ruin"`
	MaxDrawdownP95  float64 `json:"max_drawdown_p95"`
}

// MonteCarloSimulator reshuffles realized trade PnLs to estimate how
// sensitive the result is to trade ordering.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarloSimulator creates a simulator. A zero Seed uses the clock.
func NewMonteCarloSimulator(logger *zap.Logger, config MonteCarloConfig) *MonteCarloSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MonteCarloSimulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Run resamples trade net PnLs against the given starting capital.
func (mc *MonteCarloSimulator) Run(trades []types.Trade, initialCash float64) MonteCarloResult {
	if len(trades) == 0 || initialCash <= 0 {
		return MonteCarloResult{}
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnLNet
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}
	ruinLevel := mc.config.RuinLevel
	if ruinLevel <= 0 {
		ruinLevel = 0.5
	}

	finalPnLs := make([]float64, iterations)
	maxDrawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffle(pnls)
		finalPnL, maxDD, ruined := mc.walkPath(shuffled, initialCash, ruinLevel)
		finalPnLs[i] = finalPnL
		maxDrawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(finalPnLs)
	sort.Float64s(maxDrawdowns)

	result := MonteCarloResult{
		Iterations:      iterations,
		MedianPnL:       percentile(finalPnLs, 50),
		P5PnL:           percentile(finalPnLs, 5),
		P95PnL:          percentile(finalPnLs, 95),
		ProbabilityRuin: float64(ruinCount) / float64(iterations),
		MaxDrawdownP95:  percentile(maxDrawdowns, 95),
	}

	mc.logger.Info("monte carlo simulation complete",
		zap.Int("iterations", iterations),
		zap.Float64("median_pnl", result.MedianPnL),
		zap.Float64("p5_pnl", result.P5PnL),
		zap.Float64("p95_pnl", result.P95PnL),
		zap.Float64("probability_ruin", result.ProbabilityRuin),
	)
	return result
}

func (mc *MonteCarloSimulator) shuffle(pnls []float64) []float64 {
	shuffled := make([]float64, len(pnls))
	copy(shuffled, pnls)
	mc.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// walkPath accumulates PnLs onto the starting capital and tracks the
// deepest peak-to-trough drawdown. Ruin means equity dropping to or below
// ruinLevel times the starting capital.
func (mc *MonteCarloSimulator) walkPath(pnls []float64, initialCash, ruinLevel float64) (finalPnL, maxDrawdown float64, ruined bool) {
	equity := initialCash
	peak := equity
	maxDD := 0.0
	ruin := initialCash * ruinLevel

	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if equity <= ruin {
			return equity - initialCash, maxDD, true
		}
	}
	return equity - initialCash, maxDD, false
}

// percentile interpolates linearly over sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
