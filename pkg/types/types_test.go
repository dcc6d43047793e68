package types_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/backtester/pkg/types"
)

var ts = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestNewOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		qty     float64
		side    types.OrderSide
		wantErr bool
	}{
		{"valid buy", "AAA", 10, types.OrderSideBuy, false},
		{"valid sell", "AAA", -10, types.OrderSideSell, false},
		{"no side", "AAA", 5, "", false},
		{"empty symbol", "", 10, types.OrderSideBuy, true},
		{"blank symbol", "   ", 10, types.OrderSideBuy, true},
		{"zero qty", "AAA", 0, types.OrderSideBuy, true},
		{"nan qty", "AAA", math.NaN(), types.OrderSideBuy, true},
		{"buy with negative qty", "AAA", -10, types.OrderSideBuy, true},
		{"sell with positive qty", "AAA", 10, types.OrderSideSell, true},
		{"bogus side", "AAA", 10, "hold", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := types.NewOrder("id", ts, tt.symbol, tt.qty, tt.side, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && order.Type != types.OrderTypeMarket {
				t.Errorf("Type = %s, want market", order.Type)
			}
		})
	}

	if _, err := types.NewOrder("id", time.Time{}, "AAA", 10, types.OrderSideBuy, ""); err == nil {
		t.Error("want error for zero timestamp")
	}
}

func TestNewFillValidation(t *testing.T) {
	if _, err := types.NewFill(ts, "AAA", 10, 100, 1, 0.5, ""); err != nil {
		t.Fatalf("valid fill rejected: %v", err)
	}
	for _, tc := range []struct {
		name                       string
		qty, price, fees, slippage float64
	}{
		{"zero qty", 0, 100, 0, 0},
		{"zero price", 10, 0, 0, 0},
		{"negative price", 10, -1, 0, 0},
		{"nan price", 10, math.NaN(), 0, 0},
		{"negative fees", 10, 100, -1, 0},
		{"negative slippage", 10, 100, 0, -1},
		{"inf fees", 10, 100, math.Inf(1), 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := types.NewFill(ts, "AAA", tc.qty, tc.price, tc.fees, tc.slippage, ""); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestFillNotional(t *testing.T) {
	fill, err := types.NewFill(ts, "AAA", -10, 100, 0, 0, "")
	if err != nil {
		t.Fatalf("NewFill: %v", err)
	}
	if got := fill.Notional(); got != 1000 {
		t.Errorf("Notional = %v, want 1000 (absolute)", got)
	}
}

func TestPortfolioStateEquityStrict(t *testing.T) {
	state, err := types.NewPortfolioState(ts, 1000)
	if err != nil {
		t.Fatalf("NewPortfolioState: %v", err)
	}
	state.Positions["AAA"] = &types.Position{Symbol: "AAA", Qty: 10, AvgPrice: 90}

	equity, err := state.Equity(map[string]float64{"AAA": 100})
	if err != nil {
		t.Fatalf("Equity: %v", err)
	}
	if equity != 2000 {
		t.Errorf("Equity = %v, want 2000", equity)
	}

	if _, err := state.Equity(map[string]float64{}); !errors.Is(err, types.ErrMissingMark) {
		t.Errorf("err = %v, want ErrMissingMark for absent mark", err)
	}
	if _, err := state.Equity(map[string]float64{"AAA": math.NaN()}); !errors.Is(err, types.ErrMissingMark) {
		t.Errorf("err = %v, want ErrMissingMark for NaN mark", err)
	}
}

func TestPortfolioStateExposuresPropagateNaN(t *testing.T) {
	state, _ := types.NewPortfolioState(ts, 0)
	state.Positions["AAA"] = &types.Position{Symbol: "AAA", Qty: 10, AvgPrice: 90}
	state.Positions["BBB"] = &types.Position{Symbol: "BBB", Qty: -5, AvgPrice: 40}

	marks := map[string]float64{"AAA": 100, "BBB": 50}
	if got := state.GrossExposure(marks); got != 1250 {
		t.Errorf("GrossExposure = %v, want 1250", got)
	}
	if got := state.NetExposure(marks); got != 750 {
		t.Errorf("NetExposure = %v, want 750", got)
	}

	gapped := map[string]float64{"AAA": 100}
	if got := state.GrossExposure(gapped); !math.IsNaN(got) {
		t.Errorf("GrossExposure with gap = %v, want NaN", got)
	}
	if got := state.NetExposure(gapped); !math.IsNaN(got) {
		t.Errorf("NetExposure with gap = %v, want NaN", got)
	}
}

func TestPortfolioStateCloneIsDeep(t *testing.T) {
	state, _ := types.NewPortfolioState(ts, 1000)
	state.Positions["AAA"] = &types.Position{Symbol: "AAA", Qty: 10, AvgPrice: 90}

	clone := state.Clone()
	clone.Cash = 0
	clone.Positions["AAA"].Qty = 99

	if state.Cash != 1000 {
		t.Errorf("Cash = %v, clone mutated the original", state.Cash)
	}
	if state.Positions["AAA"].Qty != 10 {
		t.Errorf("Qty = %v, clone shares position pointers", state.Positions["AAA"].Qty)
	}
}

func TestPortfolioStateHeldSymbolsIgnoresDust(t *testing.T) {
	state, _ := types.NewPortfolioState(ts, 0)
	state.Positions["AAA"] = &types.Position{Symbol: "AAA", Qty: 10}
	state.Positions["BBB"] = &types.Position{Symbol: "BBB", Qty: 1e-13}

	held := state.HeldSymbols()
	if len(held) != 1 || held[0] != "AAA" {
		t.Errorf("HeldSymbols = %v, want dust excluded", held)
	}
	if state.NumPositions() != 1 {
		t.Errorf("NumPositions = %d, want 1", state.NumPositions())
	}
}

func TestBacktestConfigValidate(t *testing.T) {
	cfg := types.DefaultBacktestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := cfg
	bad.InitialCash = math.NaN()
	if err := bad.Validate(); err == nil {
		t.Error("want error for non-finite initial cash")
	}

	bad = cfg
	bad.MaxAbsWeight = -1
	if err := bad.Validate(); err == nil {
		t.Error("want error for negative max weight")
	}

	bad = cfg
	bad.WarmupBars = -1
	if err := bad.Validate(); err == nil {
		t.Error("want error for negative warmup")
	}
}
