// Package loader streams a finished series to a bulk-load sink as rows keyed
// by (symbol, timestamp). The sink owns the key constraint; writing the same
// rows twice must replace, not duplicate.
package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"fxhist/internal/domain"
)

// DefaultChunkSize is the number of rows handed to a sink per call.
const DefaultChunkSize = 200_000

const (
	pricePlaces  = 10
	volumePlaces = 6
)

// Columns is the row layout every sink receives.
var Columns = []string{"symbol", "ts", "open", "high", "low", "close", "volume", "source"}

// Row is one bar ready for loading.
type Row struct {
	Symbol    string
	Timestamp time.Time
	Open      domain.Float
	High      domain.Float
	Low       domain.Float
	Close     domain.Float
	Volume    domain.Float
	Source    domain.Source
}

// Sink receives rows in chunks.
type Sink interface {
	WriteRows(ctx context.Context, rows []Row) error
}

// FormatTimestamp renders t as ISO-8601 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FormatPrice renders a price with ten decimal places, or "" when missing.
func FormatPrice(f domain.Float) string {
	if !f.Valid {
		return ""
	}
	return decimal.NewFromFloat(f.Value).StringFixed(pricePlaces)
}

// FormatVolume renders a volume with six decimal places, or "" when missing.
func FormatVolume(f domain.Float) string {
	if !f.Valid {
		return ""
	}
	return decimal.NewFromFloat(f.Value).StringFixed(volumePlaces)
}

// Fields returns the row's cells in Columns order.
func (r Row) Fields() []string {
	return []string{
		r.Symbol,
		FormatTimestamp(r.Timestamp),
		FormatPrice(r.Open),
		FormatPrice(r.High),
		FormatPrice(r.Low),
		FormatPrice(r.Close),
		FormatVolume(r.Volume),
		string(r.Source),
	}
}

func rowOf(symbol string, b domain.Bar) Row {
	src := b.Source
	if src == domain.SourceAbsent {
		src = domain.SourcePrimary
	}
	return Row{
		Symbol:    symbol,
		Timestamp: b.Timestamp.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		Source:    src,
	}
}

// RowsFrom converts every data-bearing bar of s. Absent placeholders are not
// bars and are skipped; individually missing cells are kept as missing.
func RowsFrom(s *domain.Series, symbol string) []Row {
	rows := make([]Row, 0, s.Len())
	for _, b := range s.Bars() {
		if b.IsAbsent() {
			continue
		}
		rows = append(rows, rowOf(symbol, b))
	}
	return rows
}

// Load streams s to sink in chunks of chunkSize rows and returns the number
// of rows written. A failed chunk aborts the load; rerunning the whole load
// is safe because sinks upsert by (symbol, timestamp).
func Load(ctx context.Context, s *domain.Series, symbol string, sink Sink, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	written := 0
	chunk := make([]Row, 0, min(chunkSize, s.Len()))
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := sink.WriteRows(ctx, chunk); err != nil {
			return fmt.Errorf("writing rows %d-%d for %s: %w", written, written+len(chunk)-1, symbol, err)
		}
		written += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	for _, b := range s.Bars() {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if b.IsAbsent() {
			continue
		}
		chunk = append(chunk, rowOf(symbol, b))
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// DelimitedSink writes rows as delimited text, one line per row, suitable
// for piping into a database bulk-copy command.
type DelimitedSink struct {
	w      *csv.Writer
	header bool
	wrote  bool
}

// NewDelimitedSink writes to w with the given delimiter. When header is set,
// the column names are written before the first row.
func NewDelimitedSink(w io.Writer, comma rune, header bool) *DelimitedSink {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	return &DelimitedSink{w: cw, header: header}
}

// WriteRows implements Sink.
func (d *DelimitedSink) WriteRows(_ context.Context, rows []Row) error {
	if d.header && !d.wrote {
		if err := d.w.Write(Columns); err != nil {
			return err
		}
		d.wrote = true
	}
	for _, r := range rows {
		if err := d.w.Write(r.Fields()); err != nil {
			return err
		}
	}
	d.w.Flush()
	return d.w.Error()
}
