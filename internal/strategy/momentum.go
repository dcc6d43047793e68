package strategy

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// Momentum holds an equal long weight in every symbol whose close rose over
// the lookback window, and stays out of the rest.
type Momentum struct {
	lookback    int
	grossWeight float64
}

// NewMomentum builds the strategy. Parameters: lookback (default 20),
// gross_weight (default 1.0).
func NewMomentum(params map[string]any) (Strategy, error) {
	lookback := intParam(params, "lookback", 20)
	if lookback < 1 {
		return nil, fmt.Errorf("momentum: lookback must be positive, got %d", lookback)
	}
	return &Momentum{
		lookback:    lookback,
		grossWeight: floatParam(params, "gross_weight", 1.0),
	}, nil
}

// OnBar implements Strategy.
func (s *Momentum) OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
	if history.Len() <= s.lookback {
		return map[string]float64{}, nil
	}

	var winners []string
	for _, sym := range history.Symbols() {
		series, ok := history.Closes(sym)
		if !ok {
			continue
		}
		last := series[len(series)-1]
		prev := series[len(series)-1-s.lookback]
		if !fmath.UsablePrice(last) || !fmath.UsablePrice(prev) {
			continue
		}
		if last > prev {
			winners = append(winners, sym)
		}
	}
	if len(winners) == 0 {
		return map[string]float64{}, nil
	}

	w := s.grossWeight / float64(len(winners))
	targets := make(map[string]float64, len(winners))
	for _, sym := range winners {
		targets[sym] = w
	}
	return targets, nil
}
