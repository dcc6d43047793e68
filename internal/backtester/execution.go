package backtester

import (
	"time"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
	"go.uber.org/zap"
)

// ExecutionModel turns pending orders into fills against a bar's marks.
// Implementations never partially fill: an order fills fully at the bar price
// or not at all. Fees and slippage on the returned fills are zero; costing is
// the engine's job.
type ExecutionModel interface {
	SimulateFills(ts time.Time, orders []types.Order, marks map[string]float64) ([]types.Fill, error)
}

// NextCloseExecution fills every order at the close of the bar it is handed,
// which the engine arranges to be the bar after order submission. Orders
// whose symbol has no usable mark are dropped silently: an unfillable order
// is an expected market condition, not an error.
type NextCloseExecution struct {
	logger *zap.Logger
}

// NewNextCloseExecution creates the default execution model.
func NewNextCloseExecution(logger *zap.Logger) *NextCloseExecution {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NextCloseExecution{logger: logger}
}

// SimulateFills implements ExecutionModel.
func (x *NextCloseExecution) SimulateFills(ts time.Time, orders []types.Order, marks map[string]float64) ([]types.Fill, error) {
	fills := make([]types.Fill, 0, len(orders))
	for _, order := range orders {
		px, ok := marks[order.Symbol]
		if !ok || !fmath.UsablePrice(px) {
			x.logger.Debug("Dropping unfillable order",
				zap.String("id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Float64("qty", order.Qty),
			)
			continue
		}
		fill, err := types.NewFill(ts, order.Symbol, order.Qty, px, 0, 0, order.Tag)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill)
	}
	return fills, nil
}
