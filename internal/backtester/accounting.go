package backtester

import (
	"math"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// ApplyFill applies one fill to the portfolio and returns the next state.
// The input state is never mutated. The transform is total for validated
// fills: it classifies the fill against the existing position as open/add,
// reduce, or flip, using the shared zero-tolerant sign.
//
// Cash moves by -(qty*price + fees + slippage) in one step; a sale's negative
// qty makes the notional term negative, net-crediting cash. Realized PnL
// excludes fees and slippage, which the cash deduction already charged.
func ApplyFill(state *types.PortfolioState, fill types.Fill) *types.PortfolioState {
	next := state.Clone()

	pos, ok := next.Positions[fill.Symbol]
	if !ok {
		pos = &types.Position{Symbol: fill.Symbol}
		next.Positions[fill.Symbol] = pos
	}
	qty0, px0 := pos.Qty, pos.AvgPrice

	next.Cash -= fill.Qty*fill.Price + fill.Fees + fill.Slippage

	switch {
	case fmath.Sign(qty0) == 0 || fmath.Sign(qty0) == fmath.Sign(fill.Qty):
		// open or add: blend the cost basis
		pos.AvgPrice = (qty0*px0 + fill.Qty*fill.Price) / (qty0 + fill.Qty)
		pos.Qty = qty0 + fill.Qty

	case math.Abs(fill.Qty) <= math.Abs(qty0):
		// reduce toward zero
		closed := math.Abs(fill.Qty)
		pos.RealizedPnL += closed * float64(fmath.Sign(qty0)) * (fill.Price - px0)
		pos.Qty = qty0 + fill.Qty
		if fmath.IsZero(pos.Qty) {
			pos.AvgPrice = 0
		}

	default:
		// flip: close the whole existing position, open the remainder at the
		// crossing fill's price
		pos.RealizedPnL += math.Abs(qty0) * float64(fmath.Sign(qty0)) * (fill.Price - px0)
		pos.Qty = qty0 + fill.Qty
		pos.AvgPrice = fill.Price
	}

	if fmath.IsZero(pos.Qty) {
		delete(next.Positions, fill.Symbol)
	}

	next.Timestamp = fill.Timestamp
	return next
}
