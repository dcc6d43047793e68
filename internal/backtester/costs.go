// Package backtester provides the core bar-by-bar simulation engine.
package backtester

import (
	"fmt"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// CostModel computes the fees and slippage charged for a fill candidate.
// Both results are >= 0 and finite.
type CostModel interface {
	Compute(fill types.Fill) (fees, slippage float64)
}

// BpsCost charges fees and slippage linear in notional, symmetric for buys
// and sells. The bps arithmetic runs on decimals so repeated charges do not
// accumulate binary rounding drift.
type BpsCost struct {
	feesBps     decimal.Decimal
	slippageBps decimal.Decimal
}

var bpsDivisor = decimal.NewFromInt(10_000)

// NewBpsCost validates the rates at construction: both must be finite
// and >= 0.
func NewBpsCost(feesBps, slippageBps float64) (*BpsCost, error) {
	if !fmath.IsFinite(feesBps) || feesBps < 0 {
		return nil, fmt.Errorf("fees_bps must be finite and >= 0, got %v", feesBps)
	}
	if !fmath.IsFinite(slippageBps) || slippageBps < 0 {
		return nil, fmt.Errorf("slippage_bps must be finite and >= 0, got %v", slippageBps)
	}
	return &BpsCost{
		feesBps:     decimal.NewFromFloat(feesBps),
		slippageBps: decimal.NewFromFloat(slippageBps),
	}, nil
}

// Compute returns (notional * fees_bps/10000, notional * slippage_bps/10000).
func (c *BpsCost) Compute(fill types.Fill) (float64, float64) {
	notional := decimal.NewFromFloat(fill.Notional())
	fees, _ := notional.Mul(c.feesBps).Div(bpsDivisor).Float64()
	slippage, _ := notional.Mul(c.slippageBps).Div(bpsDivisor).Float64()
	return fees, slippage
}
