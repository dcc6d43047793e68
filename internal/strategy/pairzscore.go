package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// PairZScore trades the spread between two symbols: it regresses log prices
// over a rolling window (no-intercept OLS), computes the z-score of the
// current spread, and enters a market-neutral position when the z-score
// stretches past entryZ, exiting once it reverts inside exitZ. The regime is
// sticky between those thresholds.
type PairZScore struct {
	symA, symB  string
	lookback    int
	entryZ      float64
	exitZ       float64
	grossWeight float64
	useLog      bool
	refitEvery  int

	regime   int // -1 short spread, 0 flat, +1 long spread
	beta     float64
	barCount int
}

// NewPairZScore builds the strategy. Parameters: symbol_a, symbol_b,
// lookback (60), entry_z (2.0), exit_z (0.5), gross_weight (1.0),
// use_log (true), refit_every (1).
func NewPairZScore(params map[string]any) (Strategy, error) {
	lookback := intParam(params, "lookback", 60)
	// sample stddev over the window needs at least two points
	if lookback < 2 {
		return nil, fmt.Errorf("pair_zscore: lookback must be at least 2, got %d", lookback)
	}
	return &PairZScore{
		symA:        stringParam(params, "symbol_a", ""),
		symB:        stringParam(params, "symbol_b", ""),
		lookback:    lookback,
		entryZ:      floatParam(params, "entry_z", 2.0),
		exitZ:       floatParam(params, "exit_z", 0.5),
		grossWeight: floatParam(params, "gross_weight", 1.0),
		useLog:      boolParam(params, "use_log", true),
		refitEvery:  intParam(params, "refit_every", 1),
		beta:        1.0,
	}, nil
}

// OnBar implements Strategy.
func (s *PairZScore) OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
	if history.Len() < s.lookback {
		return map[string]float64{}, nil
	}
	seriesA, okA := history.Closes(s.symA)
	seriesB, okB := history.Closes(s.symB)
	if !okA || !okB {
		return map[string]float64{}, nil
	}

	xa := make([]float64, s.lookback)
	xb := make([]float64, s.lookback)
	offset := len(seriesA) - s.lookback
	for i := 0; i < s.lookback; i++ {
		pa, pb := seriesA[offset+i], seriesB[offset+i]
		if !fmath.UsablePrice(pa) || !fmath.UsablePrice(pb) {
			return map[string]float64{}, nil
		}
		if s.useLog {
			pa, pb = math.Log(pa), math.Log(pb)
		}
		xa[i], xb[i] = pa, pb
	}

	s.barCount++
	if s.refitEvery <= 1 || s.barCount%s.refitEvery == 0 {
		s.beta = betaNoIntercept(xa, xb)
	}

	spread := make([]float64, s.lookback)
	for i := range spread {
		spread[i] = xa[i] - s.beta*xb[i]
	}
	mu := mean(spread)
	sd := stdDev(spread, mu)
	if !fmath.IsFinite(sd) || sd < fmath.Epsilon {
		return map[string]float64{}, nil
	}
	z := (spread[len(spread)-1] - mu) / sd

	if s.regime == 0 {
		if z > s.entryZ {
			s.regime = -1
		} else if z < -s.entryZ {
			s.regime = 1
		}
	} else if math.Abs(z) < s.exitZ {
		s.regime = 0
	}

	if s.regime == 0 {
		return map[string]float64{s.symA: 0, s.symB: 0}, nil
	}

	wa := (s.grossWeight / 2) * float64(s.regime)
	wb := -(s.grossWeight / 2) * float64(s.regime) * s.beta
	gross := math.Abs(wa) + math.Abs(wb)
	if gross > fmath.Epsilon {
		scale := s.grossWeight / gross
		wa *= scale
		wb *= scale
	}
	return map[string]float64{s.symA: wa, s.symB: wb}, nil
}

// betaNoIntercept fits y ~ beta*x by OLS without intercept.
func betaNoIntercept(y, x []float64) float64 {
	var num, den float64
	for i := range x {
		num += x[i] * y[i]
		den += x[i] * x[i]
	}
	if den <= 0 || !fmath.IsFinite(den) {
		return 1.0
	}
	b := num / den
	if !fmath.IsFinite(b) {
		return 1.0
	}
	return b
}

func mean(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

// stdDev is the sample standard deviation (ddof=1).
func stdDev(xs []float64, mu float64) float64 {
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
