package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quantbench/internal/domain"
)

var _ Source = (*CSVSource)(nil)

// Accepted timestamp layouts, tried in order. Integer cells are Unix seconds
// or, above 1e11, Unix milliseconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
	"2006/01/02",
	"20060102",
}

// ReadCSV parses bars from a CSV with a header row. Column names are
// case-insensitive: timestamp (or date, time, datetime), open, high, low,
// close and an optional volume. Rows keep file order; ordering problems are
// reported by the backtester, not here.
func ReadCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading CSV: %v", domain.ErrDataIntegrity, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	colIdx := make(map[string]int)
	for i, name := range records[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch name {
		case "date", "time", "datetime", "t":
			name = "timestamp"
		case "o":
			name = "open"
		case "h":
			name = "high"
		case "l":
			name = "low"
		case "c":
			name = "close"
		case "v", "vol":
			name = "volume"
		}
		colIdx[name] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("%w: CSV header is missing column %q", domain.ErrDataIntegrity, required)
		}
	}

	symbol = strings.ToUpper(symbol)
	bars := make([]domain.Bar, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := i + 2
		ts, err := parseTimestamp(cell(rec, colIdx["timestamp"]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d timestamp: %v", domain.ErrDataIntegrity, row, err)
		}
		b := domain.Bar{Symbol: symbol, Timestamp: ts}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
		} {
			v, err := strconv.ParseFloat(cell(rec, colIdx[f.name]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d %s: %v", domain.ErrDataIntegrity, row, f.name, err)
			}
			*f.dst = v
		}
		if idx, ok := colIdx["volume"]; ok && cell(rec, idx) != "" {
			v, err := strconv.ParseFloat(cell(rec, idx), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d volume: %v", domain.ErrDataIntegrity, row, err)
			}
			b.Volume = int64(v)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func cell(rec []string, idx int) string {
	if idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) != 8 {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LoadCSV reads bars from the CSV file at path.
func LoadCSV(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

// CSVSource serves bars from CSV files. Path names a single file used for
// every symbol; otherwise Dir/<SYMBOL>.csv is read.
type CSVSource struct {
	Path string
	Dir  string
}

// Bars implements Source. Rows outside [start, end] are dropped; a zero
// start or end leaves that side open.
func (s CSVSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path
	if path == "" {
		path = filepath.Join(s.Dir, strings.ToUpper(symbol)+".csv")
	}
	bars, err := LoadCSV(path, symbol)
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// WriteTradesCSV writes the trade log with a header row.
func WriteTradesCSV(w io.Writer, symbol string, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"symbol", "timestamp", "action", "price", "shares",
		"cost", "proceeds", "profit", "profit_pct", "reason",
	}); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			symbol, t.Timestamp.Format(time.RFC3339), string(t.Action),
			formatF(t.Price), strconv.FormatInt(t.Shares, 10),
			formatF(t.Cost), formatF(t.Proceeds), formatF(t.Profit), formatF(t.ProfitPct),
			string(t.Reason),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
