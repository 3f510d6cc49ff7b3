package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"fxhist/internal/clean"
	"fxhist/internal/config"
	"fxhist/internal/domain"
	"fxhist/internal/gather/dukascopy"
	"fxhist/internal/gather/histdata"
	"fxhist/internal/loader"
	"fxhist/internal/pipeline"
	"fxhist/internal/session"
	"fxhist/internal/store"
	"fxhist/internal/util"
)

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("fxhist "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: -%s is required", domain.ErrConfig, pairs[i])
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func formatSpan(s *domain.Series) string {
	first, last, ok := s.Span()
	if !ok {
		return "[]"
	}
	return fmt.Sprintf("[%s .. %s]", first.Format(time.RFC3339), last.Format(time.RFC3339))
}

// ---------------------------------------------------------------------------
// merge
// ---------------------------------------------------------------------------

func runMerge(_ context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("merge")
	symbol := fs.String("symbol", "", "symbol the files belong to")
	outPath := fs.String("out", "", "output series CSV")
	var inputs stringList
	fs.Var(&inputs, "input", "glob pattern for vendor CSVs (repeatable; trailing arguments also count)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inputs = append(inputs, fs.Args()...)
	if err := required("symbol", *symbol, "out", *outPath); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: at least one -input pattern is required", domain.ErrConfig)
	}

	paths, err := histdata.ExpandGlobs(inputs)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: no files matched %v", domain.ErrConfig, []string(inputs))
	}
	series, err := histdata.ReadFiles(*symbol, paths, slog.Default().With("symbol", *symbol))
	if err != nil {
		return err
	}
	if err := store.WriteSeriesCSV(*outPath, series, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s rows=%d range=%s\n", *outPath, series.Len(), formatSpan(series))
	return nil
}

// ---------------------------------------------------------------------------
// gaps
// ---------------------------------------------------------------------------

func runGaps(_ context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("gaps")
	csvPath := fs.String("csv", "", "input series CSV")
	outPath := fs.String("out", "", "output gap report CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("csv", *csvPath, "out", *outPath); err != nil {
		return err
	}

	series, err := store.ReadSeriesCSV(*csvPath, "")
	if err != nil {
		return err
	}
	runs := clean.DetectGaps(series)
	if err := store.WriteGapReport(*outPath, runs); err != nil {
		return err
	}
	fmt.Fprintf(out, "Gaps: %d written to %s\n", len(runs), *outPath)
	return nil
}

// ---------------------------------------------------------------------------
// backfill
// ---------------------------------------------------------------------------

func runBackfill(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("backfill")
	symbol := fs.String("symbol", "", "archive symbol, e.g. EURUSD")
	csvPath := fs.String("csv", "", "input series CSV")
	outPath := fs.String("out", "", "output series CSV")
	imputeMax := fs.Int("impute-max", config.DefaultImputeMax, "flat-fill gaps up to this many minutes")
	backfillMax := fs.Int("backfill-max", config.DefaultBackfill, "query the archive for gaps up to this many minutes")
	baseURL := fs.String("base-url", os.Getenv("DUKASCOPY_BASE_URL"), "tick archive base URL")
	tickCache := fs.String("tick-cache", "", "directory for cached archive ticks")
	rps := fs.Float64("rps", 0, "archive requests per second (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("symbol", *symbol, "csv", *csvPath, "out", *outPath); err != nil {
		return err
	}

	series, err := store.ReadSeriesCSV(*csvPath, *symbol)
	if err != nil {
		return err
	}
	imputed := clean.ImputeSmallGaps(series, *imputeMax)

	opts := dukascopy.Options{BaseURL: *baseURL, RequestsPerSecond: *rps}
	if *tickCache != "" {
		opts.Cache = store.NewTickCache(*tickCache)
	}
	stats := dukascopy.NewClient(opts).Backfill(ctx, series, *backfillMax)
	slog.Info("backfill finished", "symbol", *symbol, "imputed", imputed, "filled", stats.MinutesFilled, "skipped_long", stats.SkippedLong)

	if err := store.WriteSeriesCSV(*outPath, series, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "Backfilled written to %s. Remaining missing bars: %d\n", *outPath, len(series.Missing()))
	return nil
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

func runSessions(_ context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("sessions")
	csvPath := fs.String("csv", "", "input series CSV")
	outPath := fs.String("out", "", "output series CSV")
	var names, zones, starts, ends stringList
	fs.Var(&names, "name", "session name (repeatable)")
	fs.Var(&zones, "tz", "IANA time zone (repeatable)")
	fs.Var(&starts, "start", "local start HH:MM (repeatable)")
	fs.Var(&ends, "end", "local end HH:MM (repeatable)")
	filter := fs.Bool("filter", false, "keep only in-session minutes")
	qc := fs.Bool("qc", false, "also drop hours below the fill threshold (implies -filter)")
	minFill := fs.Float64("min-fill", domain.DefaultQCPolicy.MinFillRatio, "QC minimum fill ratio per hour")
	minBars := fs.Int("min-bars", domain.DefaultQCPolicy.MinBarsAbs, "QC minimum observed minutes per hour")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("csv", *csvPath, "out", *outPath); err != nil {
		return err
	}
	if len(names) == 0 || len(names) != len(zones) || len(names) != len(starts) || len(names) != len(ends) {
		return fmt.Errorf("%w: -name, -tz, -start and -end must be given the same number of times", domain.ErrConfig)
	}

	specs := make([]domain.SessionSpec, len(names))
	for i := range names {
		specs[i] = domain.SessionSpec{Name: names[i], TZ: zones[i], Start: starts[i], End: ends[i]}
	}
	set, err := session.Compile(specs)
	if err != nil {
		return err
	}
	series, err := store.ReadSeriesCSV(*csvPath, "")
	if err != nil {
		return err
	}

	switch {
	case *qc:
		policy := domain.QCPolicy{MinFillRatio: *minFill, MinBarsAbs: *minBars}
		if err := policy.Validate(); err != nil {
			return err
		}
		var stats []session.HourStat
		series, stats = session.FilterQC(series, set, policy)
		slog.Info("session qc", "hours", len(stats), "dropped", session.DroppedHours(stats))
	case *filter:
		series = set.Filter(series)
	}

	var mask []bool
	if !*filter && !*qc {
		mask = set.Mask(series)
	}
	if err := store.WriteSeriesCSV(*outPath, series, mask); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s rows=%d (filtered=%t).\n", *outPath, series.Len(), *filter || *qc)
	return nil
}

// ---------------------------------------------------------------------------
// load
// ---------------------------------------------------------------------------

func runLoad(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("load")
	symbol := fs.String("symbol", "", "symbol key for the rows")
	csvPath := fs.String("csv", "", "input series CSV")
	sinkKind := fs.String("sink", store.KindSQLite, "sqlite, parquet or tsv")
	dbPath := fs.String("db", envOr("SQLITE_PATH", "data/fxhist.db"), "SQLite database path")
	table := fs.String("table", store.DefaultTable, "SQLite table")
	dataDir := fs.String("data-dir", envOr("FXHIST_DATA_DIR", config.DefaultDataDir), "Parquet data directory")
	outPath := fs.String("out", "-", "tsv output file, - for stdout")
	chunkSize := fs.Int("chunksize", loader.DefaultChunkSize, "rows per write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("symbol", *symbol, "csv", *csvPath); err != nil {
		return err
	}

	series, err := store.ReadSeriesCSV(*csvPath, *symbol)
	if err != nil {
		return err
	}

	var (
		sink   loader.Sink
		target string
		report = out
	)
	switch *sinkKind {
	case "tsv":
		w := out
		target = "stdout"
		if *outPath != "-" {
			f, err := os.Create(*outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w, target = f, *outPath
		} else {
			report = os.Stderr
		}
		sink = loader.NewDelimitedSink(w, '\t', false)
	default:
		bs, err := store.Open(*sinkKind, store.Options{DataDir: *dataDir, SQLitePath: *dbPath, Table: *table})
		if err != nil {
			return err
		}
		defer bs.Close()
		sink = bs
		switch *sinkKind {
		case store.KindSQLite:
			target = *dbPath + ":" + *table
		case store.KindParquet:
			target = *dataDir
		default:
			target = *sinkKind
		}
	}

	n, err := loader.Load(ctx, series, *symbol, sink, *chunkSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(report, "Loaded %d rows for %s into %s\n", n, *symbol, target)
	return nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runBatch(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("run")
	cfgPath := fs.String("config", envOr("FXHIST_CONFIG", "config/fxhist.yaml"), "batch YAML config")
	chunkSize := fs.Int("chunksize", 0, "rows per write (overrides batch.chunk_size)")
	workers := fs.Int("workers", 0, "symbols processed in parallel (overrides batch.max_workers)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *chunkSize > 0 {
		cfg.Batch.ChunkSize = *chunkSize
	}
	if *workers > 0 {
		cfg.Batch.MaxWorkers = *workers
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	util.SetDefault(logger)

	runner, closer, err := pipeline.FromConfig(cfg, logger.With("component", "pipeline"))
	if err != nil {
		return err
	}
	defer closer.Close()

	report := runner.RunBatch(ctx, pipeline.Jobs(cfg), cfg.Batch.MaxWorkers)
	for _, s := range report.Symbols {
		if s.OK {
			fmt.Fprintf(out, "[%s] loaded %d rows (imputed=%d backfilled=%d unresolved=%d hours_dropped=%d)\n",
				s.Symbol, s.Rows, s.Imputed, s.Backfilled, s.Unresolved, s.HoursDropped)
		} else {
			fmt.Fprintf(out, "[%s] failed: %s\n", s.Symbol, s.Reason)
		}
	}
	if cfg.Batch.RunReport != "" {
		if err := report.Write(cfg.Batch.RunReport); err != nil {
			return err
		}
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d symbols failed: %s", len(failed), len(report.Symbols), report.FailureSummary())
	}
	return nil
}
