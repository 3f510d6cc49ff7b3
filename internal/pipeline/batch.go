package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SymbolReport is one entry of the batch run report.
type SymbolReport struct {
	Symbol       string `json:"symbol"`
	OK           bool   `json:"ok"`
	Reason       string `json:"reason,omitempty"`
	InputBars    int    `json:"input_bars"`
	Imputed      int    `json:"imputed"`
	Backfilled   int    `json:"backfilled"`
	Unresolved   int    `json:"unresolved_minutes"`
	HoursDropped int    `json:"hours_dropped"`
	Rows         int    `json:"rows"`
	DurationMS   int64  `json:"duration_ms"`
}

// Report summarizes a batch run.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Symbols    []SymbolReport `json:"symbols"`
}

// Failed returns the entries that did not complete.
func (r *Report) Failed() []SymbolReport {
	var out []SymbolReport
	for _, s := range r.Symbols {
		if !s.OK {
			out = append(out, s)
		}
	}
	return out
}

// FailureSummary joins the failure reasons into one line.
func (r *Report) FailureSummary() string {
	failed := r.Failed()
	var b strings.Builder
	for i, f := range failed {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Symbol)
		b.WriteString(": ")
		b.WriteString(f.Reason)
		if i >= 4 && len(failed) > 6 {
			fmt.Fprintf(&b, " (+%d more)", len(failed)-5)
			break
		}
	}
	return b.String()
}

// Write stores the report as indented JSON at path.
func (r *Report) Write(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}
	return nil
}

// RunBatch runs jobs with at most workers symbols in flight. A failing
// symbol is logged and recorded; it never stops the others. Entries in the
// report follow the order of jobs.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job, workers int) *Report {
	if workers < 1 {
		workers = 1
	}
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Symbols:   make([]SymbolReport, len(jobs)),
	}
	log := r.logger().With("run_id", report.RunID)
	log.Info("batch started", "symbols", len(jobs), "workers", workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			symLog := log.With("symbol", job.Symbol)
			res, err := r.run(ctx, job, symLog)
			if err != nil {
				symLog.Error("symbol failed", "error", err)
			}
			report.Symbols[i] = reportEntry(job.Symbol, res, err)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	failed := len(report.Failed())
	log.Info("batch finished", "ok", len(jobs)-failed, "failed", failed, "elapsed", report.FinishedAt.Sub(report.StartedAt))
	return report
}

func reportEntry(symbol string, res Result, err error) SymbolReport {
	entry := SymbolReport{
		Symbol:       symbol,
		OK:           err == nil,
		InputBars:    res.InputBars,
		Imputed:      res.Imputed,
		Backfilled:   res.Backfill.MinutesFilled,
		HoursDropped: res.HoursDropped,
		Rows:         res.Rows,
		DurationMS:   res.Duration.Milliseconds(),
	}
	for _, g := range res.Unresolved {
		entry.Unresolved += g.Minutes
	}
	if err != nil {
		entry.Reason = err.Error()
		if errors.Is(err, context.Canceled) {
			entry.Reason = "canceled"
		}
	}
	return entry
}
