// Package strategy provides trading strategy implementations.
package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/backtester/internal/data"
	"github.com/atlas-desktop/backtester/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the interface all strategies implement. OnBar receives the
// price history up to and including ts and a read-only portfolio snapshot,
// and returns target weights per symbol. Omitted symbols mean weight 0.
type Strategy interface {
	OnBar(ts time.Time, history *data.History, state *types.PortfolioState) (map[string]float64, error)
}

// Factory builds a strategy from loosely-typed parameters.
type Factory func(params map[string]any) (Strategy, error)

// Registry manages available strategies by name.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
	r.Register("buy_and_hold", NewBuyAndHold)
	r.Register("momentum", NewMomentum)
	r.Register("pair_zscore", NewPairZScore)
	return r
}

// Register adds a strategy factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Create builds the named strategy.
func (r *Registry) Create(name string, params map[string]any) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(params)
}

// Names returns the sorted registered strategy names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return def
	}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return def
	}
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
