package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"fxhist/internal/domain"
	"fxhist/internal/loader"
)

// ParquetStore keeps minute bars as Parquet files on disk, one file per
// symbol and year, and doubles as the decoded tick cache for the archive
// client.
type ParquetStore struct {
	DataDir string
	TickDir string
}

// NewParquetStore creates a ParquetStore rooted at dataDir. The tick cache
// lives under dataDir/ticks unless TickDir is changed.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, TickDir: filepath.Join(dataDir, "ticks")}
}

// NewTickCache returns a ParquetStore used only for its tick cache.
func NewTickCache(dir string) *ParquetStore {
	return &ParquetStore{TickDir: dir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for minute bars. Missing cells are null.
type BarRecord struct {
	Symbol    string   `parquet:"symbol"`
	Timestamp int64    `parquet:"ts,timestamp(millisecond)"` // Unix ms
	Open      *float64 `parquet:"open,optional"`
	High      *float64 `parquet:"high,optional"`
	Low       *float64 `parquet:"low,optional"`
	Close     *float64 `parquet:"close,optional"`
	Volume    *float64 `parquet:"volume,optional"`
	Source    string   `parquet:"source"`
}

// TickRecord is the Parquet schema for cached archive ticks.
type TickRecord struct {
	Timestamp int64   `parquet:"ts,timestamp(millisecond)"` // Unix ms
	Ask       float64 `parquet:"ask"`
	Bid       float64 `parquet:"bid"`
	AskVolume float64 `parquet:"ask_volume"`
	BidVolume float64 `parquet:"bid_volume"`
}

func ptr(f domain.Float) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func deref(p *float64) domain.Float {
	if p == nil {
		return domain.None
	}
	return domain.Some(*p)
}

// ---------------------------------------------------------------------------
// loader.Sink implementation
// ---------------------------------------------------------------------------

// WriteRows merges rows into the per-symbol, per-year files at:
//
//	<DataDir>/fx/minute/<SYMBOL>/<YYYY>.parquet
//
// Rows already on disk with the same (symbol, ts) are replaced.
func (s *ParquetStore) WriteRows(ctx context.Context, rows []loader.Row) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, r := range rows {
		ts := r.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(r.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: ts.UnixMilli(),
			Open:      ptr(r.Open),
			High:      ptr(r.High),
			Low:       ptr(r.Low),
			Close:     ptr(r.Close),
			Volume:    ptr(r.Volume),
			Source:    string(r.Source),
		})
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, k.year)

		existing, err := readExistingBars(path)
		if err != nil {
			return err
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// Close is a no-op; files are closed after every write.
func (s *ParquetStore) Close() error { return nil }

// ReadBars reads bars for symbol within [start, end].
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(symbol, year)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			src, _ := domain.ParseSource(r.Source)
			bars = append(bars, domain.Bar{
				Timestamp: ts,
				Open:      deref(r.Open),
				High:      deref(r.High),
				Low:       deref(r.Low),
				Close:     deref(r.Close),
				Volume:    deref(r.Volume),
				Source:    src,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists the symbols that have bar files.
func (s *ParquetStore) ListSymbols() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "fx", "minute"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Tick cache
// ---------------------------------------------------------------------------

// ReadTicks returns the cached ticks for (symbol, hour). An hour cached with
// zero ticks is a hit: the archive had nothing for it.
func (s *ParquetStore) ReadTicks(symbol string, hour time.Time) ([]domain.Tick, bool) {
	path := s.tickPath(symbol, hour)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	records, err := readParquetFile[TickRecord](path)
	if err != nil {
		return nil, false
	}
	ticks := make([]domain.Tick, len(records))
	for i, r := range records {
		ticks[i] = domain.Tick{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Ask:       r.Ask,
			Bid:       r.Bid,
			AskVolume: r.AskVolume,
			BidVolume: r.BidVolume,
		}
	}
	return ticks, true
}

// WriteTicks stores the decoded ticks for (symbol, hour), replacing any
// earlier copy.
func (s *ParquetStore) WriteTicks(symbol string, hour time.Time, ticks []domain.Tick) error {
	records := make([]TickRecord, len(ticks))
	for i, t := range ticks {
		records[i] = TickRecord{
			Timestamp: t.Timestamp.UnixMilli(),
			Ask:       t.Ask,
			Bid:       t.Bid,
			AskVolume: t.AskVolume,
			BidVolume: t.BidVolume,
		}
	}
	if err := writeParquetFile(s.tickPath(symbol, hour), records); err != nil {
		return fmt.Errorf("writing ticks for %s %s: %w", symbol, hour.UTC().Format(time.RFC3339), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <DataDir>/fx/minute/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "fx", "minute", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// tickPath returns the filesystem path for a cached tick hour.
// Layout: <TickDir>/<SYMBOL>/<YYYY-MM-DD>/<HH>.parquet
func (s *ParquetStore) tickPath(symbol string, hour time.Time) string {
	h := hour.UTC()
	return filepath.Join(s.TickDir, strings.ToUpper(symbol), h.Format("2006-01-02"), fmt.Sprintf("%02d.parquet", h.Hour()))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readExistingBars returns the bars already stored at path. A missing file
// is empty; any other failure is returned so a damaged file is never
// overwritten with only the incoming rows.
func readExistingBars(path string) ([]BarRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading existing bars %s: %w", path, err)
	}
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading existing bars %s: %w", path, err)
	}
	return records, nil
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, ts), preferring
// incoming records over existing ones. The result is sorted by ts.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
