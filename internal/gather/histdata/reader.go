// Package histdata reads the primary vendor's per-minute bar CSV exports
// into a Series.
//
// Files carry no header; each row is
//
//	YYYYMMDD HHMMSS;open;high;low;close;volume
//
// with either ';' or ',' as the delimiter. Timestamps are wall-clock times in
// a fixed UTC-05:00 offset that never observes DST.
package histdata

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fxhist/internal/domain"
)

const (
	timeLayout  = "20060102 150405"
	sniffLines  = 5
	fieldCount  = 6
	vendorShift = -5 * 60 * 60
)

// VendorZone is the fixed offset the vendor stamps bars in (Etc/GMT+5).
var VendorZone = time.FixedZone("Etc/GMT+5", vendorShift)

// sniffDelimiter picks ';' when any of the first lines contains one.
func sniffDelimiter(head []byte) rune {
	sc := bufio.NewScanner(bytes.NewReader(head))
	for i := 0; i < sniffLines && sc.Scan(); i++ {
		if strings.Contains(sc.Text(), ";") {
			return ';'
		}
	}
	return ','
}

// Read parses vendor rows from r. Rows whose timestamp cannot be parsed are
// dropped; unparsable numeric cells become missing values.
func Read(r io.Reader) ([]domain.Bar, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4096)

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(head)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var bars []domain.Bar
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return bars, err
		}
		b, ok := parseRecord(rec)
		if !ok {
			continue
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRecord(rec []string) (domain.Bar, bool) {
	if len(rec) == 0 {
		return domain.Bar{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, strings.TrimSpace(rec[0]), VendorZone)
	if err != nil {
		return domain.Bar{}, false
	}
	cells := make([]domain.Float, fieldCount-1)
	for i := range cells {
		if i+1 < len(rec) {
			cells[i] = parseNumber(rec[i+1])
		}
	}
	return domain.Bar{
		Timestamp: domain.MinuteOf(ts),
		Open:      cells[0],
		High:      cells[1],
		Low:       cells[2],
		Close:     cells[3],
		Volume:    cells[4],
		Source:    domain.SourcePrimary,
	}, true
}

func parseNumber(s string) domain.Float {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return domain.None
	}
	return domain.Some(v)
}

// ReadFile parses a single vendor file.
func ReadFile(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return bars, nil
}

// ReadFiles merges several vendor files into one series. On duplicate
// minutes the row read last wins. Files that cannot be opened are logged and
// skipped. It fails with domain.ErrFormat when no row parses at all.
func ReadFiles(symbol string, paths []string, log *slog.Logger) (*domain.Series, error) {
	if log == nil {
		log = slog.Default()
	}
	var all []domain.Bar
	for _, p := range paths {
		bars, err := ReadFile(p)
		if err != nil {
			log.Warn("skipping unreadable input", "path", p, "error", err)
			continue
		}
		log.Debug("read input", "path", p, "rows", len(bars))
		all = append(all, bars...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no parseable rows in %d file(s) for %s", domain.ErrFormat, len(paths), symbol)
	}
	return domain.FromBars(symbol, all), nil
}

// ExpandGlobs resolves glob patterns to a de-duplicated file list. Matches
// are sorted within each pattern and patterns keep their given order, so a
// later pattern's rows win on duplicate minutes. A file matched twice keeps
// its first position.
func ExpandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("%w: bad glob %q: %v", domain.ErrConfig, pat, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}
