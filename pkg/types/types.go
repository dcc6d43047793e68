// Package types provides shared type definitions for the backtester.
package types

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/backtester/pkg/fmath"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order
type OrderType string

// OrderTypeMarket is the only order type the simulator supports: orders fill
// fully at the next available bar price or not at all.
const OrderTypeMarket OrderType = "market"

// TradeDirection labels a reconstructed round-trip trade
type TradeDirection string

const (
	TradeDirectionLong  TradeDirection = "LONG"
	TradeDirectionShort TradeDirection = "SHORT"
)

// ErrMissingMark is returned when a held position has no usable mark price.
var ErrMissingMark = errors.New("missing mark price for held position")

func requireFinite(name string, v float64) error {
	if !fmath.IsFinite(v) {
		return fmt.Errorf("%s must be finite, got %v", name, v)
	}
	return nil
}

func requireSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("symbol must be a non-empty string")
	}
	return nil
}

// Order represents an intended trade. Qty is signed: positive buys,
// negative sells.
type Order struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	Type      OrderType `json:"type"`
	Side      OrderSide `json:"side,omitempty"`
	Tag       string    `json:"tag,omitempty"`
}

// NewOrder validates and constructs an Order. The side is optional; when
// declared it must agree with the sign of qty.
func NewOrder(id string, ts time.Time, symbol string, qty float64, side OrderSide, tag string) (Order, error) {
	if ts.IsZero() {
		return Order{}, fmt.Errorf("order timestamp must be valid")
	}
	if err := requireSymbol(symbol); err != nil {
		return Order{}, err
	}
	if err := requireFinite("qty", qty); err != nil {
		return Order{}, err
	}
	if qty == 0 {
		return Order{}, fmt.Errorf("order qty cannot be zero")
	}
	switch side {
	case "":
	case OrderSideBuy:
		if qty < 0 {
			return Order{}, fmt.Errorf("qty must be positive for a buy order")
		}
	case OrderSideSell:
		if qty > 0 {
			return Order{}, fmt.Errorf("qty must be negative for a sell order")
		}
	default:
		return Order{}, fmt.Errorf("invalid order side %q", side)
	}
	return Order{
		ID:        id,
		Timestamp: ts,
		Symbol:    symbol,
		Qty:       qty,
		Type:      OrderTypeMarket,
		Side:      side,
		Tag:       tag,
	}, nil
}

// Fill represents an executed trade. Qty is signed like Order.Qty.
type Fill struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Fees      float64   `json:"fees"`
	Slippage  float64   `json:"slippage"`
	Tag       string    `json:"tag,omitempty"`
}

// NewFill validates and constructs a Fill.
func NewFill(ts time.Time, symbol string, qty, price, fees, slippage float64, tag string) (Fill, error) {
	if ts.IsZero() {
		return Fill{}, fmt.Errorf("fill timestamp must be valid")
	}
	if err := requireSymbol(symbol); err != nil {
		return Fill{}, err
	}
	if err := requireFinite("qty", qty); err != nil {
		return Fill{}, err
	}
	if qty == 0 {
		return Fill{}, fmt.Errorf("fill qty cannot be zero")
	}
	if err := requireFinite("price", price); err != nil {
		return Fill{}, err
	}
	if price <= 0 {
		return Fill{}, fmt.Errorf("fill price must be positive, got %v", price)
	}
	if err := requireFinite("fees", fees); err != nil {
		return Fill{}, err
	}
	if fees < 0 {
		return Fill{}, fmt.Errorf("fees cannot be negative, got %v", fees)
	}
	if err := requireFinite("slippage", slippage); err != nil {
		return Fill{}, err
	}
	if slippage < 0 {
		return Fill{}, fmt.Errorf("slippage cannot be negative, got %v", slippage)
	}
	return Fill{
		Timestamp: ts,
		Symbol:    symbol,
		Qty:       qty,
		Price:     price,
		Fees:      fees,
		Slippage:  slippage,
		Tag:       tag,
	}, nil
}

// Notional returns |price * qty|.
func (f Fill) Notional() float64 {
	return math.Abs(f.Price * f.Qty)
}

// Position represents per-symbol holdings. Qty is signed; AvgPrice is the
// cost basis of the open quantity and is zero whenever Qty is zero.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	AvgPrice    float64 `json:"avgPrice"`
	RealizedPnL float64 `json:"realizedPnl"`
}

// MarketValue returns the signed mark-to-market value at px. A NaN mark
// propagates.
func (p Position) MarketValue(px float64) float64 {
	return p.Qty * px
}

// UnrealizedPnL returns the open profit at px.
func (p Position) UnrealizedPnL(px float64) float64 {
	return (px - p.AvgPrice) * p.Qty
}

// PortfolioState is cash plus per-symbol positions. It is owned by the
// simulation loop and mutated only through the accounting transform, which
// returns a new state value per fill.
type PortfolioState struct {
	Timestamp time.Time            `json:"timestamp"`
	Cash      float64              `json:"cash"`
	Positions map[string]*Position `json:"positions"`
}

// NewPortfolioState creates an empty portfolio with the given cash.
func NewPortfolioState(ts time.Time, cash float64) (*PortfolioState, error) {
	if err := requireFinite("cash", cash); err != nil {
		return nil, err
	}
	return &PortfolioState{
		Timestamp: ts,
		Cash:      cash,
		Positions: make(map[string]*Position),
	}, nil
}

// Clone returns a deep copy. The accounting transform works on a clone so
// historical snapshots never alias the live state.
func (s *PortfolioState) Clone() *PortfolioState {
	positions := make(map[string]*Position, len(s.Positions))
	for sym, pos := range s.Positions {
		cp := *pos
		positions[sym] = &cp
	}
	return &PortfolioState{
		Timestamp: s.Timestamp,
		Cash:      s.Cash,
		Positions: positions,
	}
}

// Position returns the position for symbol, or a zero-value position if none
// is held. The returned value is a copy.
func (s *PortfolioState) Position(symbol string) Position {
	if pos, ok := s.Positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol}
}

// HeldSymbols returns the sorted symbols with non-negligible quantity.
func (s *PortfolioState) HeldSymbols() []string {
	held := make([]string, 0, len(s.Positions))
	for sym, pos := range s.Positions {
		if !fmath.IsZero(pos.Qty) {
			held = append(held, sym)
		}
	}
	sort.Strings(held)
	return held
}

// NumPositions returns the count of positions with non-negligible quantity.
func (s *PortfolioState) NumPositions() int {
	n := 0
	for _, pos := range s.Positions {
		if !fmath.IsZero(pos.Qty) {
			n++
		}
	}
	return n
}

// Equity returns cash plus mark-to-market value of all held positions.
// It is strict: every held symbol must have a usable mark.
func (s *PortfolioState) Equity(marks map[string]float64) (float64, error) {
	equity := s.Cash
	for sym, pos := range s.Positions {
		if fmath.IsZero(pos.Qty) {
			continue
		}
		px, ok := marks[sym]
		if !ok || !fmath.UsablePrice(px) {
			return 0, fmt.Errorf("%w: %s", ErrMissingMark, sym)
		}
		equity += pos.MarketValue(px)
	}
	return equity, nil
}

// GrossExposure returns the sum of absolute position values at marks.
// Missing or NaN marks propagate as NaN rather than erroring.
func (s *PortfolioState) GrossExposure(marks map[string]float64) float64 {
	total := 0.0
	for sym, pos := range s.Positions {
		if fmath.IsZero(pos.Qty) {
			continue
		}
		px, ok := marks[sym]
		if !ok {
			px = math.NaN()
		}
		total += math.Abs(pos.MarketValue(px))
	}
	return total
}

// NetExposure returns the signed sum of position values at marks.
// Missing or NaN marks propagate as NaN rather than erroring.
func (s *PortfolioState) NetExposure(marks map[string]float64) float64 {
	total := 0.0
	for sym, pos := range s.Positions {
		if fmath.IsZero(pos.Qty) {
			continue
		}
		px, ok := marks[sym]
		if !ok {
			px = math.NaN()
		}
		total += pos.MarketValue(px)
	}
	return total
}

// RealizedPnL returns cumulative realized profit across all positions.
func (s *PortfolioState) RealizedPnL() float64 {
	total := 0.0
	for _, pos := range s.Positions {
		total += pos.RealizedPnL
	}
	return total
}

// Trade is one closed (or partially closed) FIFO lot segment.
type Trade struct {
	Symbol        string         `json:"symbol"`
	EntryTime     time.Time      `json:"entryTime"`
	ExitTime      time.Time      `json:"exitTime"`
	Qty           float64        `json:"qty"`
	EntryPrice    float64        `json:"entryPrice"`
	ExitPrice     float64        `json:"exitPrice"`
	Direction     TradeDirection `json:"direction"`
	PnLGross      float64        `json:"pnlGross"`
	Fees          float64        `json:"fees"`
	Slippage      float64        `json:"slippage"`
	PnLNet        float64        `json:"pnlNet"`
	HoldingPeriod time.Duration  `json:"holdingPeriod"`
}

// LedgerRow is the per-bar portfolio summary.
type LedgerRow struct {
	Timestamp     time.Time `json:"timestamp"`
	Cash          float64   `json:"cash"`
	Equity        float64   `json:"equity"`
	GrossExposure float64   `json:"grossExposure"`
	NetExposure   float64   `json:"netExposure"`
	Leverage      float64   `json:"leverage"`
	NumPositions  int       `json:"nPositions"`
}

// TargetRow records the clipped strategy weights for one bar, one entry per
// universe symbol.
type TargetRow struct {
	Timestamp time.Time          `json:"timestamp"`
	Weights   map[string]float64 `json:"weights"`
}
