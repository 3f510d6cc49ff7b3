package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fxhist/internal/domain"
)

var seriesHeader = []string{"timestamp", "open", "high", "low", "close", "volume", "source"}

var requiredColumns = []string{"open", "high", "low", "close", "volume"}

// Timestamp layouts accepted when reading a series. Layouts without an
// offset are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// WriteSeriesCSV writes s to path in the canonical series layout. Absent
// placeholders are written with empty cells so gaps stay explicit. When
// inSession is non-nil it must be parallel to s.Bars() and adds an
// in_session column.
func WriteSeriesCSV(path string, s *domain.Series, inSession []bool) error {
	if inSession != nil && len(inSession) != s.Len() {
		return fmt.Errorf("in_session mask has %d entries for %d bars", len(inSession), s.Len())
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := writeSeries(f, s, inSession); err != nil {
		return fmt.Errorf("writing series %s: %w", path, err)
	}
	return f.Close()
}

func writeSeries(w io.Writer, s *domain.Series, inSession []bool) error {
	cw := csv.NewWriter(w)
	header := seriesHeader
	if inSession != nil {
		header = append(append([]string(nil), seriesHeader...), "in_session")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, b := range s.Bars() {
		rec := []string{
			b.Timestamp.UTC().Format(time.RFC3339),
			floatStr(b.Open),
			floatStr(b.High),
			floatStr(b.Low),
			floatStr(b.Close),
			floatStr(b.Volume),
			string(b.Source),
		}
		if inSession != nil {
			rec = append(rec, strconv.FormatBool(inSession[i]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func floatStr(f domain.Float) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

// ReadSeriesCSV reads a canonical series file. The OHLCV columns are
// required; a missing source column marks every data row primary.
func ReadSeriesCSV(path, symbol string) (*domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := readSeries(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("reading series %s: %w", path, err)
	}
	return s, nil
}

func readSeries(r io.Reader, symbol string) (*domain.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", domain.ErrMissingColumn)
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingColumn, c)
		}
	}
	tsCol := 0
	for _, name := range []string{"timestamp", "ts", "time"} {
		if i, ok := cols[name]; ok {
			tsCol = i
			break
		}
	}
	srcCol, hasSrc := cols["source"]

	cell := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(cell(rec, tsCol))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := domain.Bar{Timestamp: ts}
		fields := []*domain.Float{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
		for k, c := range requiredColumns {
			v, err := parseCell(cell(rec, cols[c]))
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, c, err)
			}
			*fields[k] = v
		}
		if hasSrc {
			src, ok := domain.ParseSource(cell(rec, srcCol))
			if !ok {
				return nil, fmt.Errorf("line %d: unknown source %q", line, cell(rec, srcCol))
			}
			b.Source = src
		}
		if b.Source == domain.SourceAbsent && !b.IsAbsent() {
			b.Source = domain.SourcePrimary
		}
		bars = append(bars, b)
	}
	return domain.FromBars(symbol, bars), nil
}

func parseCell(s string) (domain.Float, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null":
		return domain.None, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.None, err
	}
	return domain.Some(v), nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.MinuteOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// WriteGapReport writes one line per run: its first missing minute and its
// length in minutes.
func WriteGapReport(path string, runs []domain.GapRun) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"start", "len_min"}); err != nil {
		return err
	}
	for _, g := range runs {
		if err := w.Write([]string{g.Start.UTC().Format(time.RFC3339), strconv.Itoa(g.Minutes)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing gap report %s: %w", path, err)
	}
	return f.Close()
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}
