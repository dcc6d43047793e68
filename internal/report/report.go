// Package report renders backtest output as CSV and JSON artifacts.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtester/internal/backtester"
	"github.com/atlas-desktop/backtester/internal/metrics"
	"github.com/atlas-desktop/backtester/pkg/types"
)

// Writer renders a result set to a directory.
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a report writer.
func NewWriter(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// WriteAll writes every artifact of a run into dir, creating it if needed.
// A nil summary skips summary.json rather than writing a zero-valued one.
func (w *Writer) WriteAll(dir string, result *backtester.Result, summary *metrics.Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	steps := []struct {
		name string
		fn   func(io.Writer) error
	}{
		{"ledger.csv", func(out io.Writer) error { return WriteLedgerCSV(out, result.Ledger) }},
		{"targets.csv", func(out io.Writer) error { return WriteTargetsCSV(out, result.Targets) }},
		{"orders.csv", func(out io.Writer) error { return WriteOrdersCSV(out, result.Orders) }},
		{"fills.csv", func(out io.Writer) error { return WriteFillsCSV(out, result.Fills) }},
		{"trades.csv", func(out io.Writer) error { return WriteTradesCSV(out, result.Trades) }},
		// the ledger and targets live in CSV only: a lenient run can carry
		// NaN cells, which JSON cannot represent
		{"trades.json", func(out io.Writer) error { return writeJSON(out, result.Trades) }},
	}
	if summary != nil {
		steps = append(steps, struct {
			name string
			fn   func(io.Writer) error
		}{"summary.json", func(out io.Writer) error { return writeJSON(out, summary) }})
	} else {
		w.logger.Warn("no performance summary, skipping summary.json")
	}

	for _, step := range steps {
		path := filepath.Join(dir, step.name)
		if err := writeFile(path, step.fn); err != nil {
			return fmt.Errorf("write %s: %w", step.name, err)
		}
		w.logger.Debug("wrote report artifact", zap.String("path", path))
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteLedgerCSV writes the per-bar portfolio summary.
func WriteLedgerCSV(out io.Writer, ledger []types.LedgerRow) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"ts", "cash", "equity", "gross_exposure", "net_exposure", "leverage", "n_positions"}); err != nil {
		return err
	}
	for _, row := range ledger {
		rec := []string{
			formatTime(row.Timestamp),
			formatFloat(row.Cash),
			formatFloat(row.Equity),
			formatFloat(row.GrossExposure),
			formatFloat(row.NetExposure),
			formatFloat(row.Leverage),
			strconv.Itoa(row.NumPositions),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTargetsCSV writes one column per universe symbol. The symbol set is
// the union over all rows, sorted, and missing entries render as 0.
func WriteTargetsCSV(out io.Writer, targets []types.TargetRow) error {
	symbolSet := make(map[string]struct{})
	for _, row := range targets {
		for sym := range row.Weights {
			symbolSet[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	cw := csv.NewWriter(out)
	header := append([]string{"ts"}, symbols...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range targets {
		rec := make([]string, 0, len(header))
		rec = append(rec, formatTime(row.Timestamp))
		for _, sym := range symbols {
			rec = append(rec, formatFloat(row.Weights[sym]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOrdersCSV writes submitted orders keyed by submit time.
func WriteOrdersCSV(out io.Writer, orders []types.Order) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"ts_submit", "id", "symbol", "qty", "order_type", "tag"}); err != nil {
		return err
	}
	for _, o := range orders {
		rec := []string{
			formatTime(o.Timestamp),
			o.ID,
			o.Symbol,
			formatFloat(o.Qty),
			string(o.Type),
			o.Tag,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFillsCSV writes executed fills keyed by fill time.
func WriteFillsCSV(out io.Writer, fills []types.Fill) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"ts_fill", "symbol", "qty", "price", "fees", "slippage", "notional", "tag"}); err != nil {
		return err
	}
	for _, f := range fills {
		rec := []string{
			formatTime(f.Timestamp),
			f.Symbol,
			formatFloat(f.Qty),
			formatFloat(f.Price),
			formatFloat(f.Fees),
			formatFloat(f.Slippage),
			formatFloat(f.Notional()),
			f.Tag,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesCSV writes reconstructed round-trip trades.
func WriteTradesCSV(out io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(out)
	header := []string{
		"symbol", "entry_ts", "exit_ts", "qty", "entry_price", "exit_price",
		"direction", "pnl_gross", "fees", "slippage", "pnl_net", "holding_period",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		rec := []string{
			t.Symbol,
			formatTime(t.EntryTime),
			formatTime(t.ExitTime),
			formatFloat(t.Qty),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			string(t.Direction),
			formatFloat(t.PnLGross),
			formatFloat(t.Fees),
			formatFloat(t.Slippage),
			formatFloat(t.PnLNet),
			t.HoldingPeriod.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
