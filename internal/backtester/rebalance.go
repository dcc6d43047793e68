package backtester

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/backtester/pkg/fmath"
	"github.com/atlas-desktop/backtester/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownTargetSymbol is returned when a strategy requests a weight for a
// symbol outside the universe of marked and held symbols.
var ErrUnknownTargetSymbol = errors.New("target symbol not in universe")

// Rebalancer converts strategy target weights into market orders that move
// the portfolio from its current holdings to the targets.
type Rebalancer struct {
	logger *zap.Logger
	cfg    types.BacktestConfig
}

// NewRebalancer creates a rebalancer with the given run configuration.
func NewRebalancer(logger *zap.Logger, cfg types.BacktestConfig) *Rebalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebalancer{logger: logger, cfg: cfg}
}

// SanitizeTargets validates targets against the universe and returns a full
// weight map: unknown symbols are an error, omitted universe symbols default
// to weight 0, non-finite weights are an error, and overweight targets are
// clipped (never rejected) to +-max_abs_weight.
func (r *Rebalancer) SanitizeTargets(targets map[string]float64, universe []string) (map[string]float64, error) {
	inUniverse := make(map[string]bool, len(universe))
	for _, sym := range universe {
		inUniverse[sym] = true
	}
	for sym := range targets {
		if !inUniverse[sym] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTargetSymbol, sym)
		}
	}
	clean := make(map[string]float64, len(universe))
	for _, sym := range universe {
		w := targets[sym]
		if !fmath.IsFinite(w) {
			return nil, fmt.Errorf("target weight for %s must be finite, got %v", sym, w)
		}
		clean[sym] = fmath.Clip(w, r.cfg.MaxAbsWeight)
	}
	return clean, nil
}

// TargetsToOrders prices the sanitized weights into share deltas and emits
// one market order per symbol that needs trading, in symbol order.
//
// Sizing uses strict equity: every held symbol must have a usable mark.
// Per-symbol sizing is deliberately lenient: a symbol without a usable mark
// is left at its current quantity and no order is attempted for it. This
// asymmetry is intentional.
func (r *Rebalancer) TargetsToOrders(
	ts time.Time,
	targets map[string]float64,
	state *types.PortfolioState,
	marks map[string]float64,
) ([]types.Order, error) {
	universe := r.Universe(state, marks)

	weights, err := r.SanitizeTargets(targets, universe)
	if err != nil {
		return nil, err
	}

	equity, err := state.Equity(marks)
	if err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(universe))
	for _, sym := range universe {
		px, ok := marks[sym]
		if !ok || !fmath.UsablePrice(px) {
			continue // untradeable this bar, hold current quantity
		}

		current := state.Position(sym).Qty
		desired := weights[sym] * equity / px
		if !r.cfg.AllowFractionalShares {
			desired = math.Trunc(desired)
		}

		delta := desired - current
		if fmath.IsZero(delta) {
			continue
		}
		if math.Abs(delta*px) < r.cfg.MinOrderNotional {
			continue
		}

		side := types.OrderSideBuy
		if delta < 0 {
			side = types.OrderSideSell
		}
		order, err := types.NewOrder(uuid.New().String(), ts, sym, delta, side, "rebalance")
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Universe returns the sorted union of marked symbols and symbols with an
// open position.
func (r *Rebalancer) Universe(state *types.PortfolioState, marks map[string]float64) []string {
	seen := make(map[string]bool, len(marks)+len(state.Positions))
	universe := make([]string, 0, len(marks)+len(state.Positions))
	for sym := range marks {
		if !seen[sym] {
			seen[sym] = true
			universe = append(universe, sym)
		}
	}
	for sym := range state.Positions {
		if !seen[sym] {
			seen[sym] = true
			universe = append(universe, sym)
		}
	}
	sort.Strings(universe)
	return universe
}
