package strategy

import (
	"time"

	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// BuyAndHold targets an equal weight in every symbol with a usable mark,
// every bar. With next-close execution this opens once and then only trades
// the drift back to equal weight.
type BuyAndHold struct {
	grossWeight float64
}

// NewBuyAndHold builds the strategy. Parameters: gross_weight (default 1.0).
func NewBuyAndHold(params map[string]any) (Strategy, error) {
	return &BuyAndHold{
		grossWeight: floatParam(params, "gross_weight", 1.0),
	}, nil
}

// OnBar implements Strategy.
func (s *BuyAndHold) OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
	symbols := history.Symbols()
	usable := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if px, ok := history.Last(sym); ok && fmath.UsablePrice(px) {
			usable = append(usable, sym)
		}
	}
	if len(usable) == 0 {
		return map[string]float64{}, nil
	}
	w := s.grossWeight / float64(len(usable))
	targets := make(map[string]float64, len(usable))
	for _, sym := range usable {
		targets[sym] = w
	}
	return targets, nil
}
