package backtester

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
	"go.uber.org/zap"
)

// ErrLookaheadViolation means a strategy's visible history exceeded the
// current bar's timestamp. It is always fatal.
var ErrLookaheadViolation = errors.New("visible history exceeds current bar")

// Strategy is invoked once per bar with the history up to and including the
// bar. It returns target weights per symbol; omitted symbols default to
// weight 0, which flattens any existing holding. Weights for symbols outside
// the universe abort the run.
type Strategy interface {
	OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error)
}

// Result holds the four time-series outputs of a simulation plus the
// reconstructed trades.
type Result struct {
	Ledger  []types.LedgerRow `json:"ledger"`
	Targets []types.TargetRow `json:"targets"`
	Orders  []types.Order     `json:"orders"`
	Fills   []types.Fill      `json:"fills"`
	Trades  []types.Trade     `json:"trades"`

	BarsProcessed int           `json:"barsProcessed"`
	Duration      time.Duration `json:"duration"`
}

// Engine drives the simulation: one strict sequential fold over bars with a
// one-bar pending-order queue between the rebalancer and the execution model.
type Engine struct {
	logger    *zap.Logger
	store     *data.Store
	execModel ExecutionModel
	costModel CostModel
}

// NewEngine creates an engine over the given price store. A nil execModel
// defaults to next-close execution; a nil costModel charges nothing.
func NewEngine(logger *zap.Logger, store *data.Store, execModel ExecutionModel, costModel CostModel) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if execModel == nil {
		execModel = NewNextCloseExecution(logger)
	}
	return &Engine{
		logger:    logger,
		store:     store,
		execModel: execModel,
		costModel: costModel,
	}
}

// Run executes the full simulation. Fatal conditions (lookahead violation,
// missing marks in strict mode, out-of-universe targets, strategy errors)
// abort the run; partial results are never returned.
func (e *Engine) Run(ctx context.Context, cfg types.BacktestConfig, strat Strategy) (*Result, error) {
	if strat == nil {
		return nil, fmt.Errorf("strategy must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	started := time.Now()
	timestamps := e.store.Timestamps()
	rebalancer := NewRebalancer(e.logger, cfg)

	state, err := types.NewPortfolioState(timestamps[0], cfg.InitialCash)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Ledger:  make([]types.LedgerRow, 0, len(timestamps)),
		Targets: make([]types.TargetRow, 0, len(timestamps)),
	}
	var pending []types.Order

	e.logger.Info("Starting backtest",
		zap.Int("bars", len(timestamps)),
		zap.Int("symbols", len(e.store.Symbols())),
		zap.Float64("initialCash", cfg.InitialCash),
	)

	for i, t := range timestamps {
		select {
		case <-ctx.Done():
			RunsTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		default:
		}

		marks, err := e.store.Marks(t)
		if err != nil {
			RunsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		// Execute orders queued on the previous bar against this bar's
		// marks. This is the sole point of the one-bar execution delay.
		if len(pending) > 0 {
			fills, err := e.execModel.SimulateFills(t, pending, marks)
			if err != nil {
				RunsTotal.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("execution at %s: %w", t.Format(time.RFC3339), err)
			}
			if dropped := len(pending) - len(fills); dropped > 0 {
				OrdersDroppedTotal.Add(float64(dropped))
			}
			for _, fill := range fills {
				if e.costModel != nil {
					fill.Fees, fill.Slippage = e.costModel.Compute(fill)
				}
				state = ApplyFill(state, fill)
				result.Fills = append(result.Fills, fill)
			}
			FillsExecutedTotal.Add(float64(len(fills)))
			pending = nil
		}

		history := e.store.HistoryThrough(t)
		if maxTS, ok := history.MaxTimestamp(); ok && maxTS.After(t) {
			RunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: history max %s > bar %s",
				ErrLookaheadViolation, maxTS.Format(time.RFC3339), t.Format(time.RFC3339))
		}

		var rawTargets map[string]float64
		if i < cfg.WarmupBars {
			rawTargets = map[string]float64{}
		} else {
			snapshot := state.Clone()
			rawTargets, err = strat.OnBar(t, history, snapshot)
			if err != nil {
				RunsTotal.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("strategy at %s: %w", t.Format(time.RFC3339), err)
			}
		}

		universe := rebalancer.Universe(state, marks)
		weights, err := rebalancer.SanitizeTargets(rawTargets, universe)
		if err != nil {
			RunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("targets at %s: %w", t.Format(time.RFC3339), err)
		}
		result.Targets = append(result.Targets, types.TargetRow{Timestamp: t, Weights: weights})

		// A held position without a usable mark either aborts the run or
		// degrades this bar to NaN metrics with trading suspended.
		var badHeld []string
		for _, sym := range state.HeldSymbols() {
			if !fmath.UsablePrice(marks[sym]) {
				badHeld = append(badHeld, sym)
			}
		}
		suspended := len(badHeld) > 0
		if suspended {
			if cfg.FailOnMissingMarks {
				RunsTotal.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("%w: %v at %s", types.ErrMissingMark, badHeld, t.Format(time.RFC3339))
			}
			e.logger.Warn("Suspending trading on missing marks",
				zap.Time("bar", t),
				zap.Strings("symbols", badHeld),
			)
		}

		net := state.NetExposure(marks)
		equity := state.Cash + net
		gross := state.GrossExposure(marks)
		if len(badHeld) > 0 {
			// mark-to-market is meaningless this bar; never invent a price
			equity, gross, net = math.NaN(), math.NaN(), math.NaN()
		}
		if !fmath.IsFinite(equity) {
			suspended = true
		}

		if !suspended {
			orders, err := rebalancer.TargetsToOrders(t, weights, state, marks)
			if err != nil {
				RunsTotal.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("rebalance at %s: %w", t.Format(time.RFC3339), err)
			}
			if len(orders) > 0 {
				pending = orders
				result.Orders = append(result.Orders, orders...)
				OrdersSubmittedTotal.Add(float64(len(orders)))
			}
		}

		result.Ledger = append(result.Ledger, types.LedgerRow{
			Timestamp:     t,
			Cash:          state.Cash,
			Equity:        equity,
			GrossExposure: gross,
			NetExposure:   net,
			Leverage:      leverage(gross, equity),
			NumPositions:  state.NumPositions(),
		})
		BarsProcessedTotal.Inc()
	}

	result.Trades = TradesFromFills(result.Fills)
	result.BarsProcessed = len(timestamps)
	result.Duration = time.Since(started)

	RunsTotal.WithLabelValues("ok").Inc()
	RunDurationSeconds.Observe(result.Duration.Seconds())
	e.logger.Info("Backtest completed",
		zap.Int("bars", result.BarsProcessed),
		zap.Int("orders", len(result.Orders)),
		zap.Int("fills", len(result.Fills)),
		zap.Int("trades", len(result.Trades)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// leverage is gross exposure over equity: zero for a flat book, NaN when
// equity is non-positive or the inputs are NaN.
func leverage(gross, equity float64) float64 {
	if fmath.IsZero(gross) {
		return 0
	}
	if equity > 0 {
		return gross / equity
	}
	return math.NaN()
}
