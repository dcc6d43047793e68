// Package data provides the immutable historical price store.
package data

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/pkg/fmath"
)

// Store is a time-sorted, duplicate-free table of per-symbol close prices.
// A NaN cell means the symbol has no usable mark at that bar; the store never
// invents a price. The table is immutable after construction.
type Store struct {
	logger     *zap.Logger
	timestamps []time.Time
	symbols    []string
	closes     map[string][]float64
	index      map[int64]int
}

// NewStore validates the close table and constructs a Store. Timestamps must
// be strictly increasing with no duplicates; every symbol column must be
// non-empty, uniquely named, and the same length as the timestamp index.
func NewStore(logger *zap.Logger, timestamps []time.Time, closes map[string][]float64) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(timestamps) == 0 {
		return nil, fmt.Errorf("price table is empty")
	}
	if len(closes) == 0 {
		return nil, fmt.Errorf("price table has no symbols")
	}
	index := make(map[int64]int, len(timestamps))
	for i, ts := range timestamps {
		if ts.IsZero() {
			return nil, fmt.Errorf("timestamp at row %d is invalid", i)
		}
		if i > 0 && !timestamps[i-1].Before(ts) {
			return nil, fmt.Errorf("timestamps must be strictly increasing at row %d (%s >= %s)",
				i, timestamps[i-1].Format(time.RFC3339), ts.Format(time.RFC3339))
		}
		index[ts.UnixNano()] = i
	}

	symbols := make([]string, 0, len(closes))
	for sym, col := range closes {
		if sym == "" {
			return nil, fmt.Errorf("symbol names must be non-empty")
		}
		if len(col) != len(timestamps) {
			return nil, fmt.Errorf("symbol %s has %d rows, expected %d", sym, len(col), len(timestamps))
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Defensive copies so the caller cannot mutate the table afterwards.
	ts := make([]time.Time, len(timestamps))
	copy(ts, timestamps)
	cols := make(map[string][]float64, len(closes))
	for sym, col := range closes {
		c := make([]float64, len(col))
		copy(c, col)
		cols[sym] = c
	}

	return &Store{
		logger:     logger,
		timestamps: ts,
		symbols:    symbols,
		closes:     cols,
		index:      index,
	}, nil
}

// Timestamps returns the full bar index in time order.
func (s *Store) Timestamps() []time.Time {
	out := make([]time.Time, len(s.timestamps))
	copy(out, s.timestamps)
	return out
}

// Symbols returns the sorted symbol list.
func (s *Store) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// NumBars returns the number of bars in the table.
func (s *Store) NumBars() int {
	return len(s.timestamps)
}

// Marks returns the close price of every symbol at ts. Symbols with no data
// at ts carry NaN. The timestamp must be an exact member of the index.
func (s *Store) Marks(ts time.Time) (map[string]float64, error) {
	i, ok := s.index[ts.UnixNano()]
	if !ok {
		return nil, fmt.Errorf("timestamp %s not found in price store", ts.Format(time.RFC3339))
	}
	marks := make(map[string]float64, len(s.symbols))
	for _, sym := range s.symbols {
		marks[sym] = s.closes[sym][i]
	}
	return marks, nil
}

// TradableSymbols returns the symbols with a usable (finite, positive) mark
// at ts.
func (s *Store) TradableSymbols(ts time.Time) ([]string, error) {
	i, ok := s.index[ts.UnixNano()]
	if !ok {
		return nil, fmt.Errorf("timestamp %s not found in price store", ts.Format(time.RFC3339))
	}
	tradable := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		if fmath.UsablePrice(s.closes[sym][i]) {
			tradable = append(tradable, sym)
		}
	}
	return tradable, nil
}

// HistoryThrough returns the inclusive view of all bars up to and including
// ts. A timestamp before the first bar yields an empty view; ts does not need
// to be a member of the index.
func (s *Store) HistoryThrough(ts time.Time) *History {
	// binary search for the last bar <= ts
	end := sort.Search(len(s.timestamps), func(i int) bool {
		return s.timestamps[i].After(ts)
	})
	return &History{store: s, end: end}
}

// History is a read-only, time-bounded view of a Store. It is what strategies
// see: bars [0, Len) only.
type History struct {
	store *Store
	end   int
}

// Len returns the number of visible bars.
func (h *History) Len() int { return h.end }

// Symbols returns the sorted symbol list of the underlying table.
func (h *History) Symbols() []string { return h.store.Symbols() }

// Timestamps returns the visible bar timestamps.
func (h *History) Timestamps() []time.Time {
	out := make([]time.Time, h.end)
	copy(out, h.store.timestamps[:h.end])
	return out
}

// MaxTimestamp returns the latest visible timestamp. ok is false for an
// empty view.
func (h *History) MaxTimestamp() (ts time.Time, ok bool) {
	if h.end == 0 {
		return time.Time{}, false
	}
	return h.store.timestamps[h.end-1], true
}

// Closes returns the visible close series for symbol, oldest first.
// ok is false for an unknown symbol.
func (h *History) Closes(symbol string) (series []float64, ok bool) {
	col, found := h.store.closes[symbol]
	if !found {
		return nil, false
	}
	out := make([]float64, h.end)
	copy(out, col[:h.end])
	return out, true
}

// Last returns the most recent visible close for symbol (which may be NaN).
// ok is false if the view is empty or the symbol is unknown.
func (h *History) Last(symbol string) (px float64, ok bool) {
	col, found := h.store.closes[symbol]
	if !found || h.end == 0 {
		return 0, false
	}
	return col[h.end-1], true
}

// tableFile is the on-disk JSON layout: a timestamp index plus one close
// column per symbol, with null for missing marks.
type tableFile struct {
	Timestamps []time.Time           `json:"timestamps"`
	Closes     map[string][]*float64 `json:"closes"`
}

// LoadJSON reads a close-price table from a JSON file and validates it the
// same way NewStore does.
func LoadJSON(logger *zap.Logger, path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price file: %w", err)
	}
	var tf tableFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse price file: %w", err)
	}
	closes := make(map[string][]float64, len(tf.Closes))
	for sym, col := range tf.Closes {
		conv := make([]float64, len(col))
		for i, v := range col {
			if v == nil {
				conv[i] = math.NaN()
			} else {
				conv[i] = *v
			}
		}
		closes[sym] = conv
	}
	store, err := NewStore(logger, tf.Timestamps, closes)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("Loaded price table",
			zap.String("path", path),
			zap.Int("bars", store.NumBars()),
			zap.Int("symbols", len(store.symbols)),
		)
	}
	return store, nil
}

// GenerateSample builds a deterministic random-walk close table, useful for
// demos and tests when no real data file is available.
func GenerateSample(logger *zap.Logger, symbols []string, start time.Time, interval time.Duration, bars int, seed int64) (*Store, error) {
	if bars <= 0 {
		return nil, fmt.Errorf("bars must be positive, got %d", bars)
	}
	rng := rand.New(rand.NewSource(seed))
	timestamps := make([]time.Time, bars)
	for i := range timestamps {
		timestamps[i] = start.Add(time.Duration(i) * interval)
	}
	closes := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		price := 50.0 + rng.Float64()*150.0
		col := make([]float64, bars)
		for i := range col {
			price *= 1 + (rng.Float64()-0.5)*0.02
			col[i] = price
		}
		closes[sym] = col
	}
	return NewStore(logger, timestamps, closes)
}
