package backtester_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/internal/backtester"
	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// weightFunc adapts a function to the Strategy interface.
type weightFunc func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error)

func (f weightFunc) OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
	return f(ts, history, state)
}

func dailyStore(t *testing.T, closes map[string][]float64) *data.Store {
	t.Helper()
	var bars int
	for _, col := range closes {
		bars = len(col)
		break
	}
	timestamps := make([]time.Time, bars)
	for i := range timestamps {
		timestamps[i] = baseTime.Add(time.Duration(i) * 24 * time.Hour)
	}
	store, err := data.NewStore(zap.NewNop(), timestamps, closes)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func fullWeight(sym string) weightFunc {
	return func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		return map[string]float64{sym: 1.0}, nil
	}
}

func holdCash() weightFunc {
	return func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		return map[string]float64{}, nil
	}
}

func TestEngineNoTradingConstantEquity(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 101, 102, 103}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	cfg := types.DefaultBacktestConfig()
	result, err := engine.Run(context.Background(), cfg, holdCash())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Ledger) != 4 {
		t.Fatalf("ledger has %d rows, want one per bar", len(result.Ledger))
	}
	for _, row := range result.Ledger {
		if row.Equity != cfg.InitialCash {
			t.Errorf("equity at %s = %v, want constant %v", row.Timestamp, row.Equity, cfg.InitialCash)
		}
		if row.Leverage != 0 {
			t.Errorf("leverage = %v, want 0 for a flat book", row.Leverage)
		}
	}
	if len(result.Fills) != 0 || len(result.Trades) != 0 {
		t.Errorf("flat run produced fills=%d trades=%d", len(result.Fills), len(result.Trades))
	}
}

func TestEngineFillsAtNextClose(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 200, 200}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	cfg := types.DefaultBacktestConfig()
	cfg.InitialCash = 1000
	result, err := engine.Run(context.Background(), cfg, fullWeight("AAA"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Fills) == 0 {
		t.Fatal("no fills")
	}
	first := result.Fills[0]
	if !first.Timestamp.Equal(baseTime.Add(24 * time.Hour)) {
		t.Errorf("first fill at %s, want the bar after submission", first.Timestamp)
	}
	if first.Price != 200 {
		t.Errorf("first fill price = %v, want the next bar's close 200, not the sizing bar's 100", first.Price)
	}
	// sized against bar-0 equity and price: 1000/100 = 10 shares
	if !almostEqual(first.Qty, 10) {
		t.Errorf("first fill qty = %v, want 10", first.Qty)
	}
}

func TestEngineWarmupSuppressesTrading(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 100, 100, 100}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	cfg := types.DefaultBacktestConfig()
	cfg.WarmupBars = 2

	calls := 0
	strat := weightFunc(func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		calls++
		return map[string]float64{"AAA": 1.0}, nil
	})

	result, err := engine.Run(context.Background(), cfg, strat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("strategy called %d times, want only post-warmup bars", calls)
	}
	for i := 0; i < cfg.WarmupBars; i++ {
		for sym, w := range result.Targets[i].Weights {
			if w != 0 {
				t.Errorf("warmup bar %d has target %s=%v, want 0", i, sym, w)
			}
		}
	}
	// first order leaves on bar 2, first fill lands on bar 3
	if len(result.Fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(result.Fills))
	}
	if !result.Fills[0].Timestamp.Equal(baseTime.Add(3 * 24 * time.Hour)) {
		t.Errorf("fill at %s, want bar 3", result.Fills[0].Timestamp)
	}
}

func TestEngineCostsReduceEquityExactly(t *testing.T) {
	closes := map[string][]float64{"AAA": {100, 102, 104, 106}}

	// open full on bar 0, close on bar 1: both runs size the entry off the
	// same untouched equity and the exit off the same held quantity, so the
	// fill sequences are identical and the final equity gap is pure cost drag.
	openThenClose := weightFunc(func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		if ts.Equal(baseTime) {
			return map[string]float64{"AAA": 1.0}, nil
		}
		return map[string]float64{"AAA": 0}, nil
	})

	run := func(costModel backtester.CostModel) *backtester.Result {
		store := dailyStore(t, closes)
		engine := backtester.NewEngine(zap.NewNop(), store, nil, costModel)
		result, err := engine.Run(context.Background(), types.DefaultBacktestConfig(), openThenClose)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return result
	}

	free := run(nil)
	costed, err := backtester.NewBpsCost(10, 5)
	if err != nil {
		t.Fatalf("NewBpsCost: %v", err)
	}
	paid := run(costed)

	if len(free.Fills) != 2 || len(paid.Fills) != 2 {
		t.Fatalf("fill counts = %d/%d, want an entry and an exit in both runs", len(free.Fills), len(paid.Fills))
	}
	for i := range free.Fills {
		if !almostEqual(free.Fills[i].Qty, paid.Fills[i].Qty) {
			t.Fatalf("fill %d qty diverged: %v vs %v", i, free.Fills[i].Qty, paid.Fills[i].Qty)
		}
	}

	var totalCosts float64
	for _, fill := range paid.Fills {
		totalCosts += fill.Fees + fill.Slippage
	}
	if totalCosts <= 0 {
		t.Fatal("costed run charged nothing")
	}

	freeFinal := free.Ledger[len(free.Ledger)-1].Equity
	paidFinal := paid.Ledger[len(paid.Ledger)-1].Equity
	if diff := freeFinal - paidFinal; !almostEqual(diff, totalCosts) {
		t.Errorf("equity gap = %v, want total costs %v", diff, totalCosts)
	}
}

func TestEngineStrictMissingMarkFatal(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 100, math.NaN(), 100}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	cfg := types.DefaultBacktestConfig()
	cfg.FailOnMissingMarks = true

	_, err := engine.Run(context.Background(), cfg, fullWeight("AAA"))
	if !errors.Is(err, types.ErrMissingMark) {
		t.Fatalf("err = %v, want ErrMissingMark", err)
	}
}

func TestEngineLenientMissingMarkSuspends(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 100, math.NaN(), 100, 100}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	cfg := types.DefaultBacktestConfig()
	cfg.FailOnMissingMarks = false

	result, err := engine.Run(context.Background(), cfg, fullWeight("AAA"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// bar 2: held AAA has no mark
	row := result.Ledger[2]
	if !math.IsNaN(row.Equity) || !math.IsNaN(row.GrossExposure) || !math.IsNaN(row.NetExposure) {
		t.Errorf("bar 2 ledger = %+v, want NaN mark-to-market", row)
	}
	if math.IsNaN(row.Cash) {
		t.Errorf("cash = %v, must stay finite through a missing mark", row.Cash)
	}

	// no order leaves the suspended bar, so no fill lands on bar 3
	for _, fill := range result.Fills {
		if fill.Timestamp.Equal(baseTime.Add(3 * 24 * time.Hour)) {
			t.Errorf("fill %+v landed on the bar after suspension", fill)
		}
	}

	// the run recovers once the mark returns
	last := result.Ledger[len(result.Ledger)-1]
	if math.IsNaN(last.Equity) {
		t.Errorf("final equity = %v, want recovery after the gap", last.Equity)
	}
}

func TestEngineUnknownTargetSymbolFatal(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 100}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	strat := weightFunc(func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		return map[string]float64{"ZZZ": 1.0}, nil
	})

	_, err := engine.Run(context.Background(), types.DefaultBacktestConfig(), strat)
	if !errors.Is(err, backtester.ErrUnknownTargetSymbol) {
		t.Fatalf("err = %v, want ErrUnknownTargetSymbol", err)
	}
}

func TestEngineHistoryNeverExceedsBar(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 101, 102, 103, 104}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	strat := weightFunc(func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		if maxTS, ok := history.MaxTimestamp(); ok && maxTS.After(ts) {
			t.Errorf("history max %s exceeds bar %s", maxTS, ts)
		}
		if _, ok := history.Last("AAA"); !ok {
			t.Error("current bar missing from history")
		}
		return map[string]float64{}, nil
	})

	if _, err := engine.Run(context.Background(), types.DefaultBacktestConfig(), strat); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEngineContextCancellation(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 101, 102}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, types.DefaultBacktestConfig(), holdCash())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEngineStrategySnapshotIsolated(t *testing.T) {
	store := dailyStore(t, map[string][]float64{"AAA": {100, 100, 100}})
	engine := backtester.NewEngine(zap.NewNop(), store, nil, nil)

	strat := weightFunc(func(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error) {
		state.Cash = -1e9 // must not leak into the simulation
		return map[string]float64{}, nil
	})

	result, err := engine.Run(context.Background(), types.DefaultBacktestConfig(), strat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, row := range result.Ledger {
		if row.Cash != types.DefaultBacktestConfig().InitialCash {
			t.Fatalf("cash = %v, strategy mutated the live state", row.Cash)
		}
	}
}
