package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxhist/internal/domain"
	"fxhist/internal/store"
)

var start = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// writeVendor writes n minutes of bars from start, skipping the minutes in
// skip, in the vendor's UTC-05:00 wall clock.
func writeVendor(t *testing.T, path string, n int, skip ...int) {
	t.Helper()
	skipped := make(map[int]bool)
	for _, m := range skip {
		skipped[m] = true
	}
	est := time.FixedZone("EST", -5*3600)
	var b strings.Builder
	for m := 0; m < n; m++ {
		if skipped[m] {
			continue
		}
		ts := start.Add(time.Duration(m) * time.Minute).In(est)
		fmt.Fprintf(&b, "%s;1.1;1.1002;1.0998;1.1001;2\n", ts.Format("20060102 150405"))
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestMergeAndGaps(t *testing.T) {
	dir := t.TempDir()
	writeVendor(t, filepath.Join(dir, "raw", "a.csv"), 30, 10, 11, 12)
	merged := filepath.Join(dir, "merged.csv")

	var out bytes.Buffer
	err := runMerge(context.Background(), []string{"-symbol", "EURUSD", "-out", merged, filepath.Join(dir, "raw", "*.csv")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Wrote "+merged+" rows=27 range=[2024-03-04T10:00:00Z .. 2024-03-04T10:29:00Z]\n", out.String())

	out.Reset()
	gaps := filepath.Join(dir, "gaps.csv")
	require.NoError(t, runGaps(context.Background(), []string{"-csv", merged, "-out", gaps}, &out))
	assert.Equal(t, "Gaps: 1 written to "+gaps+"\n", out.String())

	raw, err := os.ReadFile(gaps)
	require.NoError(t, err)
	assert.Equal(t, "start,len_min\n2024-03-04T10:10:00Z,3\n", string(raw))
}

func TestMergeRequiresInputs(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	err := runMerge(context.Background(), []string{"-out", filepath.Join(dir, "x.csv"), "*.csv"}, &out)
	assert.True(t, errors.Is(err, domain.ErrConfig), "missing -symbol: %v", err)

	err = runMerge(context.Background(), []string{"-symbol", "EURUSD", "-out", filepath.Join(dir, "x.csv"), filepath.Join(dir, "none", "*.csv")}, &out)
	assert.True(t, errors.Is(err, domain.ErrConfig), "no matches: %v", err)
	assert.Equal(t, 2, exitCode(err))
}

func TestBackfillCommand(t *testing.T) {
	dir := t.TempDir()
	writeVendor(t, filepath.Join(dir, "raw", "a.csv"), 60, 5, 6, 20, 21, 22, 23, 24, 25, 26, 27)
	merged := filepath.Join(dir, "merged.csv")
	require.NoError(t, runMerge(context.Background(), []string{"-symbol", "EURUSD", "-out", merged, filepath.Join(dir, "raw", "*.csv")}, &bytes.Buffer{}))

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var out bytes.Buffer
	filled := filepath.Join(dir, "filled.csv")
	err := runBackfill(context.Background(), []string{
		"-symbol", "EURUSD", "-csv", merged, "-out", filled, "-base-url", srv.URL,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Backfilled written to "+filled+". Remaining missing bars: 8\n", out.String())

	s, err := store.ReadSeriesCSV(filled, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 2, s.CountBySource()[domain.SourceImputed])
}

func TestSessionsCommand(t *testing.T) {
	dir := t.TempDir()
	writeVendor(t, filepath.Join(dir, "raw", "a.csv"), 120)
	merged := filepath.Join(dir, "merged.csv")
	require.NoError(t, runMerge(context.Background(), []string{"-symbol", "EURUSD", "-out", merged, filepath.Join(dir, "raw", "*.csv")}, &bytes.Buffer{}))

	// 10:30-11:00 London equals UTC on this date.
	session := []string{"-name", "ldn", "-tz", "Europe/London", "-start", "10:30", "-end", "11:00"}

	var out bytes.Buffer
	tagged := filepath.Join(dir, "tagged.csv")
	require.NoError(t, runSessions(context.Background(), append([]string{"-csv", merged, "-out", tagged}, session...), &out))
	assert.Equal(t, "Wrote "+tagged+" rows=120 (filtered=false).\n", out.String())
	raw, err := os.ReadFile(tagged)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "timestamp,open,high,low,close,volume,source,in_session\n"))
	assert.Equal(t, 31, strings.Count(string(raw), ",true\n"))

	out.Reset()
	filtered := filepath.Join(dir, "filtered.csv")
	require.NoError(t, runSessions(context.Background(), append([]string{"-csv", merged, "-out", filtered, "-filter"}, session...), &out))
	assert.Equal(t, "Wrote "+filtered+" rows=31 (filtered=true).\n", out.String())
	raw, err = os.ReadFile(filtered)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "timestamp,open,high,low,close,volume,source\n"), "filtered output has no in_session column")

	err = runSessions(context.Background(), []string{"-csv", merged, "-out", filtered, "-name", "a", "-tz", "UTC"}, &out)
	assert.True(t, errors.Is(err, domain.ErrConfig), "mismatched session flags: %v", err)
}

func TestLoadCommand(t *testing.T) {
	dir := t.TempDir()
	writeVendor(t, filepath.Join(dir, "raw", "a.csv"), 10)
	merged := filepath.Join(dir, "merged.csv")
	require.NoError(t, runMerge(context.Background(), []string{"-symbol", "EURUSD", "-out", merged, filepath.Join(dir, "raw", "*.csv")}, &bytes.Buffer{}))

	var out bytes.Buffer
	db := filepath.Join(dir, "fx.db")
	args := []string{"-symbol", "EURUSD", "-csv", merged, "-db", db}
	require.NoError(t, runLoad(context.Background(), args, &out))
	require.NoError(t, runLoad(context.Background(), args, &out))
	assert.Contains(t, out.String(), "Loaded 10 rows for EURUSD into "+db+":fx_m1\n")

	s, err := store.NewSQLiteStore(db, "")
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	out.Reset()
	tsv := filepath.Join(dir, "rows.tsv")
	require.NoError(t, runLoad(context.Background(), []string{"-symbol", "EURUSD", "-csv", merged, "-sink", "tsv", "-out", tsv}, &out))
	raw, err := os.ReadFile(tsv)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 10)
	assert.Equal(t, "EURUSD\t2024-03-04T10:00:00Z\t1.1000000000\t1.1002000000\t1.0998000000\t1.1001000000\t2.000000\tprimary", lines[0])
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	writeVendor(t, filepath.Join(dir, "raw", "EURUSD.csv"), 60, 30, 31)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := fmt.Sprintf(`
storage:
  data_dir: %[1]s
  sink: parquet
logging:
  level: error
archive:
  base_url: %[2]s
  retries: 0
batch:
  run_report: %[1]s/report.json
symbols:
  EURUSD:
    input_globs: [%[1]s/raw/EURUSD.csv]
  GBPUSD:
    input_globs: [%[1]s/raw/GBPUSD*.csv]
`, dir, srv.URL)
	cfgPath := filepath.Join(dir, "fxhist.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	for _, k := range []string{"DATA_DIR", "FXHIST_DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "DUKASCOPY_BASE_URL"} {
		t.Setenv(k, "")
	}

	var out bytes.Buffer
	err := runBatch(context.Background(), []string{"-config", cfgPath}, &out)
	require.Error(t, err, "GBPUSD has no inputs")
	assert.Contains(t, err.Error(), "1 of 2 symbols failed")
	assert.Contains(t, out.String(), "[EURUSD] loaded 60 rows (imputed=2 backfilled=0 unresolved=0 hours_dropped=0)\n")
	assert.Contains(t, out.String(), "[GBPUSD] failed: ")

	_, err = os.Stat(filepath.Join(dir, "report.json"))
	assert.NoError(t, err)

	bars, err := store.NewParquetStore(dir).ReadBars(context.Background(), "EURUSD", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, bars, 60)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(flag.ErrHelp))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrap: %w", domain.ErrConfig)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
