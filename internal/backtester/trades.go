package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// lot is a FIFO-tracked slice of open exposure with its own cost basis and
// its share of the opening fill's costs.
type lot struct {
	entryTime time.Time
	qtyOpen   float64 // signed
	price     float64
	fees      float64
	slippage  float64
}

// TradesFromFills reconstructs FIFO round-trip trades from a fill stream.
// It is a pure pass over a sorted copy of the input: re-running it on the
// same fills always yields the same trades, regardless of input ordering.
//
// A fill that opens or extends exposure pushes a lot; an opposing fill closes
// lots oldest-first. Fees and slippage are allocated per share from both the
// opening and the closing fill. A fill that closes more than all open lots
// flips direction: the leftover becomes a new lot with costs pro-rated to the
// leftover fraction.
func TradesFromFills(fills []types.Fill) []types.Trade {
	sorted := make([]types.Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	lots := make(map[string][]lot)
	var trades []types.Trade

	for _, fill := range sorted {
		qty := fill.Qty
		if fmath.IsZero(qty) {
			continue
		}
		symLots := lots[fill.Symbol]

		exposure := 0.0
		for _, l := range symLots {
			exposure += l.qtyOpen
		}
		if len(symLots) == 0 || fmath.Sign(exposure) == 0 || fmath.Sign(exposure) == fmath.Sign(qty) {
			lots[fill.Symbol] = append(symLots, lot{
				entryTime: fill.Timestamp,
				qtyOpen:   qty,
				price:     fill.Price,
				fees:      fill.Fees,
				slippage:  fill.Slippage,
			})
			continue
		}

		remaining := qty
		for len(symLots) > 0 && !fmath.IsZero(remaining) {
			front := &symLots[0]
			closeQty := math.Min(math.Abs(remaining), math.Abs(front.qtyOpen))

			direction := types.TradeDirectionLong
			pnlGross := closeQty * (fill.Price - front.price)
			if front.qtyOpen < 0 {
				direction = types.TradeDirectionShort
				pnlGross = closeQty * (front.price - fill.Price)
			}

			// per-share cost allocation: each fill's cost divided by that
			// fill's total quantity
			entryFeePS := front.fees / math.Abs(front.qtyOpen)
			entrySlipPS := front.slippage / math.Abs(front.qtyOpen)
			exitFeePS := fill.Fees / math.Abs(qty)
			exitSlipPS := fill.Slippage / math.Abs(qty)

			feesAlloc := closeQty * (entryFeePS + exitFeePS)
			slipAlloc := closeQty * (entrySlipPS + exitSlipPS)

			trades = append(trades, types.Trade{
				Symbol:        fill.Symbol,
				EntryTime:     front.entryTime,
				ExitTime:      fill.Timestamp,
				Qty:           closeQty,
				EntryPrice:    front.price,
				ExitPrice:     fill.Price,
				Direction:     direction,
				PnLGross:      pnlGross,
				Fees:          feesAlloc,
				Slippage:      slipAlloc,
				PnLNet:        pnlGross - feesAlloc - slipAlloc,
				HoldingPeriod: fill.Timestamp.Sub(front.entryTime),
			})

			if math.Abs(front.qtyOpen) <= closeQty+fmath.Epsilon {
				symLots = symLots[1:]
			} else {
				newQty := front.qtyOpen - float64(fmath.Sign(front.qtyOpen))*closeQty
				frac := math.Abs(newQty) / math.Abs(front.qtyOpen)
				front.qtyOpen = newQty
				front.fees *= frac
				front.slippage *= frac
			}

			remaining -= float64(fmath.Sign(remaining)) * closeQty
		}

		if !fmath.IsZero(remaining) {
			// flip: leftover opens in the opposite direction
			frac := math.Abs(remaining) / math.Abs(qty)
			symLots = append(symLots, lot{
				entryTime: fill.Timestamp,
				qtyOpen:   remaining,
				price:     fill.Price,
				fees:      fill.Fees * frac,
				slippage:  fill.Slippage * frac,
			})
		}
		lots[fill.Symbol] = symLots
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Symbol != trades[j].Symbol {
			return trades[i].Symbol < trades[j].Symbol
		}
		if !trades[i].ExitTime.Equal(trades[j].ExitTime) {
			return trades[i].ExitTime.Before(trades[j].ExitTime)
		}
		return trades[i].EntryTime.Before(trades[j].EntryTime)
	})
	return trades
}
