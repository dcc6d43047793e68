// Package types provides configuration types for the backtester.
package types

import (
	"fmt"

	"github.com/atlas-desktop/backtester/pkg/fmath"
)

// BacktestConfig represents the configuration for a backtest run.
type BacktestConfig struct {
	InitialCash           float64 `json:"initialCash" mapstructure:"initial_cash"`
	AllowFractionalShares bool    `json:"allowFractionalShares" mapstructure:"allow_fractional_shares"`
	WarmupBars            int     `json:"warmupBars" mapstructure:"warmup_bars"`
	FailOnMissingMarks    bool    `json:"failOnMissingMarks" mapstructure:"fail_on_missing_marks"`
	MaxAbsWeight          float64 `json:"maxAbsWeight" mapstructure:"max_abs_weight"`
	MinOrderNotional      float64 `json:"minOrderNotional" mapstructure:"min_order_notional"`
}

// DefaultBacktestConfig returns the standard defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCash:           100_000,
		AllowFractionalShares: true,
		WarmupBars:            0,
		FailOnMissingMarks:    true,
		MaxAbsWeight:          1.0,
		MinOrderNotional:      10.0,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c BacktestConfig) Validate() error {
	if !fmath.IsFinite(c.InitialCash) {
		return fmt.Errorf("initial_cash must be finite, got %v", c.InitialCash)
	}
	if c.WarmupBars < 0 {
		return fmt.Errorf("warmup_bars cannot be negative, got %d", c.WarmupBars)
	}
	if !fmath.IsFinite(c.MaxAbsWeight) || c.MaxAbsWeight < 0 {
		return fmt.Errorf("max_abs_weight must be finite and >= 0, got %v", c.MaxAbsWeight)
	}
	if !fmath.IsFinite(c.MinOrderNotional) || c.MinOrderNotional < 0 {
		return fmt.Errorf("min_order_notional must be finite and >= 0, got %v", c.MinOrderNotional)
	}
	return nil
}
