// Package pipeline chains the per-symbol stages (ingest, impute, backfill,
// session QC, load) and runs them for a batch of symbols.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fxhist/internal/clean"
	"fxhist/internal/domain"
	"fxhist/internal/gather/dukascopy"
	"fxhist/internal/gather/histdata"
	"fxhist/internal/loader"
	"fxhist/internal/session"
	"fxhist/internal/store"
)

// Backfiller fills medium gaps of a series in place.
type Backfiller interface {
	Backfill(ctx context.Context, s *domain.Series, maxGap int) dukascopy.BackfillStats
}

var _ Backfiller = (*dukascopy.Client)(nil)

// Job describes one symbol's run.
type Job struct {
	Symbol      string
	InputGlobs  []string
	ImputeMax   int
	BackfillMax int // 0 disables backfill
	Sessions    []domain.SessionSpec
	QC          domain.QCPolicy
	OutCSV      string
	GapReport   string
}

// Result summarizes one symbol's run.
type Result struct {
	Symbol       string
	Files        int
	InputBars    int
	First, Last  time.Time
	GapRuns      int // gap runs before any filling
	GapMinutes   int
	Imputed      int
	Backfill     dukascopy.BackfillStats
	HoursDropped int
	Unresolved   []domain.GapRun
	Rows         int
	Duration     time.Duration
}

// Runner executes Jobs against a shared archive client and sink.
type Runner struct {
	Archive   Backfiller  // nil disables backfill
	Sink      loader.Sink // nil skips loading
	ChunkSize int
	Logger    *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default().With("component", "pipeline")
}

// Run executes every stage for job. The series is owned by this call, so
// concurrent Runs for different symbols do not share state.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	return r.run(ctx, job, r.logger().With("symbol", job.Symbol))
}

func (r *Runner) run(ctx context.Context, job Job, log *slog.Logger) (Result, error) {
	start := time.Now()
	res := Result{Symbol: job.Symbol}

	paths, err := histdata.ExpandGlobs(job.InputGlobs)
	if err != nil {
		return res, err
	}
	if len(paths) == 0 {
		return res, fmt.Errorf("%w: no input files match %v", domain.ErrConfig, job.InputGlobs)
	}
	res.Files = len(paths)

	series, err := histdata.ReadFiles(job.Symbol, paths, log)
	if err != nil {
		return res, err
	}
	res.InputBars = series.Len()
	res.First, res.Last, _ = series.Span()

	gaps := clean.DetectGaps(series)
	res.GapRuns = len(gaps)
	res.GapMinutes = clean.TotalMinutes(gaps)
	log.Info("ingested", "files", res.Files, "bars", res.InputBars, "gap_runs", res.GapRuns, "gap_minutes", res.GapMinutes)

	res.Imputed = clean.ImputeSmallGaps(series, job.ImputeMax)
	log.Info("imputed small gaps", "max_gap", job.ImputeMax, "minutes", res.Imputed)

	if r.Archive != nil && job.BackfillMax > 0 {
		res.Backfill = r.Archive.Backfill(ctx, series, job.BackfillMax)
		log.Info("backfilled",
			"runs", res.Backfill.Runs,
			"attempted", res.Backfill.Attempted,
			"skipped_long", res.Backfill.SkippedLong,
			"filled", res.Backfill.MinutesFilled,
			"unresolved", res.Backfill.UnresolvedMinutes())
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Unresolved = clean.DetectGaps(series)
	if job.GapReport != "" {
		if err := store.WriteGapReport(job.GapReport, res.Unresolved); err != nil {
			return res, err
		}
		log.Info("wrote gap report", "path", job.GapReport, "runs", len(res.Unresolved))
	}

	if len(job.Sessions) > 0 {
		set, err := session.Compile(job.Sessions)
		if err != nil {
			return res, err
		}
		var stats []session.HourStat
		series, stats = session.FilterQC(series, set, job.QC)
		res.HoursDropped = session.DroppedHours(stats)
		log.Info("session qc", "sessions", set.Names(), "hours", len(stats), "dropped", res.HoursDropped, "bars", series.Len())
	}

	if job.OutCSV != "" {
		if err := store.WriteSeriesCSV(job.OutCSV, series, nil); err != nil {
			return res, err
		}
		log.Info("wrote series", "path", job.OutCSV, "bars", series.Len())
	}

	if r.Sink != nil {
		n, err := loader.Load(ctx, series, job.Symbol, r.Sink, r.ChunkSize)
		res.Rows = n
		if err != nil {
			return res, fmt.Errorf("loading %s: %w", job.Symbol, err)
		}
		log.Info("loaded", "rows", n)
	}

	res.Duration = time.Since(start)
	return res, nil
}
