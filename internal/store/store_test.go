package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/loader"
)

var base = time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)

func row(symbol string, minute int, close float64, src domain.Source) loader.Row {
	return loader.Row{
		Symbol:    symbol,
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
		Open:      domain.Some(close - 0.0001),
		High:      domain.Some(close + 0.0002),
		Low:       domain.Some(close - 0.0002),
		Close:     domain.Some(close),
		Volume:    domain.Some(10),
		Source:    src,
	}
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("eurusd", 2024)
	want := filepath.Join("/data", "fx", "minute", "EURUSD", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}

	tp := ps.tickPath("eurusd", time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC))
	want = filepath.Join("/data", "ticks", "EURUSD", "2024-03-04", "07.parquet")
	if tp != want {
		t.Errorf("tickPath mismatch:\n  got  %s\n  want %s", tp, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	rows := []loader.Row{
		row("EURUSD", 0, 1.0851, domain.SourcePrimary),
		row("EURUSD", 1, 1.0852, domain.SourceImputed),
	}
	rows[1].High = domain.None
	if err := ps.WriteRows(ctx, rows); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}

	got, err := ps.ReadBars(ctx, "EURUSD", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close.Value != 1.0851 || got[0].Source != domain.SourcePrimary {
		t.Errorf("first bar = %+v", got[0])
	}
	if got[1].High.Valid {
		t.Errorf("missing high should read back as missing, got %v", got[1].High)
	}
	if got[1].Source != domain.SourceImputed {
		t.Errorf("second bar source = %q, want imputed", got[1].Source)
	}
}

func TestParquetStoreUpsert(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := ps.WriteRows(ctx, []loader.Row{
		row("EURUSD", 0, 1.0851, domain.SourcePrimary),
		row("EURUSD", 1, 1.0852, domain.SourceImputed),
	}); err != nil {
		t.Fatalf("WriteRows (first): %v", err)
	}
	// Same key, new values: replace rather than duplicate.
	if err := ps.WriteRows(ctx, []loader.Row{
		row("EURUSD", 1, 1.0860, domain.SourceBackfilled),
		row("EURUSD", 2, 1.0861, domain.SourcePrimary),
	}); err != nil {
		t.Fatalf("WriteRows (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "EURUSD", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars after upsert, want 3", len(got))
	}
	if got[1].Close.Value != 1.0860 || got[1].Source != domain.SourceBackfilled {
		t.Errorf("upserted bar = %+v, want close 1.0860 backfilled", got[1])
	}

	symbols, err := ps.ListSymbols()
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "EURUSD" {
		t.Errorf("ListSymbols = %v, want [EURUSD]", symbols)
	}
}

func TestTickCache(t *testing.T) {
	cache := NewTickCache(t.TempDir())
	hour := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	if _, ok := cache.ReadTicks("EURUSD", hour); ok {
		t.Fatal("empty cache reported a hit")
	}

	ticks := []domain.Tick{
		{Timestamp: hour.Add(1500 * time.Millisecond), Ask: 1.08512, Bid: 1.08510, AskVolume: 1.5, BidVolume: 2.25},
		{Timestamp: hour.Add(61 * time.Second), Ask: 1.08520, Bid: 1.08518, AskVolume: 1, BidVolume: 1},
	}
	if err := cache.WriteTicks("EURUSD", hour, ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}
	got, ok := cache.ReadTicks("EURUSD", hour)
	if !ok {
		t.Fatal("cache miss after write")
	}
	if len(got) != 2 {
		t.Fatalf("got %d ticks, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(ticks[0].Timestamp) || got[0].Bid != 1.08510 || got[0].BidVolume != 2.25 {
		t.Errorf("tick 0 = %+v", got[0])
	}

	// An hour with no ticks is still a hit.
	empty := hour.Add(time.Hour)
	if err := cache.WriteTicks("EURUSD", empty, nil); err != nil {
		t.Fatalf("WriteTicks (empty): %v", err)
	}
	if got, ok := cache.ReadTicks("EURUSD", empty); !ok || len(got) != 0 {
		t.Errorf("empty hour: ok=%v len=%d, want hit with 0 ticks", ok, len(got))
	}
}

func TestSQLiteStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "fx.db"), "")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	first := []loader.Row{
		row("EURUSD", 0, 1.0851, domain.SourcePrimary),
		row("EURUSD", 1, 1.0852, domain.SourceImputed),
		row("GBPUSD", 0, 1.2701, domain.SourcePrimary),
	}
	first[1].Volume = domain.None
	for i := 0; i < 2; i++ {
		if err := s.WriteRows(ctx, first); err != nil {
			t.Fatalf("WriteRows pass %d: %v", i, err)
		}
	}
	n, err := s.Count(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count after duplicate load = %d, want 2", n)
	}

	if err := s.WriteRows(ctx, []loader.Row{row("EURUSD", 1, 1.0870, domain.SourceBackfilled)}); err != nil {
		t.Fatalf("WriteRows (update): %v", err)
	}
	bars, err := s.ReadBars(ctx, "EURUSD", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(bars))
	}
	if bars[1].Close.Value != 1.0870 || bars[1].Source != domain.SourceBackfilled {
		t.Errorf("updated bar = %+v", bars[1])
	}
	if !bars[1].Volume.Valid || bars[1].Volume.Value != 10 {
		t.Errorf("volume should be replaced by the new row, got %v", bars[1].Volume)
	}
	if !bars[0].Timestamp.Equal(base) {
		t.Errorf("first ts = %v, want %v", bars[0].Timestamp, base)
	}
}

func TestSQLiteStoreNullCells(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fx.db"), "bars")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	r := row("EURUSD", 0, 1.0851, domain.SourcePrimary)
	r.Low = domain.None
	if err := s.WriteRows(ctx, []loader.Row{r}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	bars, err := s.ReadBars(ctx, "EURUSD", base, base)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Low.Valid {
		t.Errorf("want one bar with NULL low, got %+v", bars)
	}
}

func TestSQLiteStoreRejectsBadTable(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fx.db"), "bars; DROP TABLE x")
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("mongo", Options{}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("unknown sink: err = %v, want ErrConfig", err)
	}
	sink, err := Open(KindNone, Options{})
	if err != nil {
		t.Fatalf("Open(none): %v", err)
	}
	if err := sink.WriteRows(context.Background(), []loader.Row{row("EURUSD", 0, 1, domain.SourcePrimary)}); err != nil {
		t.Errorf("discard WriteRows: %v", err)
	}
}

func TestSeriesCSVRoundTrip(t *testing.T) {
	s := domain.FromBars("EURUSD", []domain.Bar{
		{Timestamp: base, Open: domain.Some(1.08512), High: domain.Some(1.0852), Low: domain.Some(1.085), Close: domain.Some(1.08515), Volume: domain.Some(12.5), Source: domain.SourcePrimary},
		domain.Absent(base.Add(time.Minute)),
		{Timestamp: base.Add(2 * time.Minute), Open: domain.Some(1.0853), High: domain.Some(1.0854), Low: domain.Some(1.0852), Close: domain.Some(1.0853), Volume: domain.Some(0), Source: domain.SourceImputed},
	})
	path := filepath.Join(t.TempDir(), "out", "eurusd.csv")
	if err := WriteSeriesCSV(path, s, []bool{true, true, false}); err != nil {
		t.Fatalf("WriteSeriesCSV: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if lines[0] != "timestamp,open,high,low,close,volume,source,in_session" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "2024-03-04T10:16:00Z,,,,,,,true" {
		t.Errorf("absent row = %q", lines[2])
	}

	got, err := ReadSeriesCSV(path, "EURUSD")
	if err != nil {
		t.Fatalf("ReadSeriesCSV: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("read %d bars, want 3", got.Len())
	}
	for i, b := range got.Bars() {
		want := s.At(i)
		if b != want {
			t.Errorf("bar %d = %+v, want %+v", i, b, want)
		}
	}
}

func TestReadSeriesCSVNaiveTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naive.csv")
	content := "timestamp,open,high,low,close,volume\n2024-03-04 10:15:00,1.1,1.2,1.0,1.15,3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := ReadSeriesCSV(path, "EURUSD")
	if err != nil {
		t.Fatalf("ReadSeriesCSV: %v", err)
	}
	b := s.At(0)
	if !b.Timestamp.Equal(base) {
		t.Errorf("ts = %v, want %v", b.Timestamp, base)
	}
	if b.Source != domain.SourcePrimary {
		t.Errorf("source = %q, want primary", b.Source)
	}
}

func TestReadSeriesCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("timestamp,open,high,low,close\n2024-03-04T10:15:00Z,1,1,1,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadSeriesCSV(path, "EURUSD")
	if !errors.Is(err, domain.ErrMissingColumn) {
		t.Errorf("err = %v, want ErrMissingColumn", err)
	}
}

func TestWriteGapReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaps.csv")
	runs := []domain.GapRun{
		{Start: base, Minutes: 3},
		{Start: base.Add(225 * time.Minute), Minutes: 91},
	}
	if err := WriteGapReport(path, runs); err != nil {
		t.Fatalf("WriteGapReport: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "start,len_min\n2024-03-04T10:15:00Z,3\n2024-03-04T14:00:00Z,91\n"
	if string(raw) != want {
		t.Errorf("gap report:\n%s\nwant:\n%s", raw, want)
	}
}

func TestParquetStoreRefusesDamagedFile(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := ps.WriteRows(ctx, []loader.Row{
		row("EURUSD", 0, 1.0851, domain.SourcePrimary),
		row("EURUSD", 1, 1.0852, domain.SourcePrimary),
	}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	path := ps.barPath("EURUSD", 2024)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()/2); err != nil {
		t.Fatal(err)
	}

	err = ps.WriteRows(ctx, []loader.Row{row("EURUSD", 2, 1.0853, domain.SourcePrimary)})
	if err == nil {
		t.Fatal("WriteRows over a damaged file succeeded, want error")
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if after.Size() != info.Size()/2 {
		t.Errorf("damaged file was rewritten: size %d, want %d", after.Size(), info.Size()/2)
	}
}

func TestLoaderOutputReadsBackAsSeries(t *testing.T) {
	s := domain.FromBars("EURUSD", []domain.Bar{
		{Timestamp: base, Open: domain.Some(1.08512), High: domain.Some(1.0852), Low: domain.Some(1.085), Close: domain.Some(1.08515), Volume: domain.Some(12.5), Source: domain.SourcePrimary},
		{Timestamp: base.Add(time.Minute), Open: domain.Some(1.08515), High: domain.Some(1.08515), Low: domain.Some(1.08515), Close: domain.Some(1.08515), Volume: domain.Some(0), Source: domain.SourceImputed},
		{Timestamp: base.Add(2 * time.Minute), Open: domain.Some(1.0853), High: domain.None, Low: domain.Some(1.085), Close: domain.Some(1.0851), Volume: domain.Some(3), Source: domain.SourceBackfilled},
	})
	path := filepath.Join(t.TempDir(), "rows.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	n, err := loader.Load(context.Background(), s, "EURUSD", loader.NewDelimitedSink(f, ',', true), 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("loaded %d rows, want 3", n)
	}

	got, err := ReadSeriesCSV(path, "EURUSD")
	if err != nil {
		t.Fatalf("ReadSeriesCSV: %v", err)
	}
	if got.Len() != s.Len() {
		t.Fatalf("read %d bars, want %d", got.Len(), s.Len())
	}
	for i, b := range got.Bars() {
		want := s.At(i)
		if !b.Timestamp.Equal(want.Timestamp) {
			t.Errorf("bar %d timestamp = %v, want %v", i, b.Timestamp, want.Timestamp)
		}
		b.Timestamp = want.Timestamp
		if b != want {
			t.Errorf("bar %d = %+v, want %+v", i, b, want)
		}
	}
}
