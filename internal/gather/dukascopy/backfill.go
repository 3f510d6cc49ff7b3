package dukascopy

import (
	"context"
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/gather"
	"fxhist/internal/util"
)

// windowPad widens each gap on both sides to absorb hour-boundary alignment
// of the archive.
const windowPad = 2 * time.Minute

// BackfillStats summarises one Backfill call.
type BackfillStats struct {
	Runs          int // missing runs found
	Attempted     int // runs short enough to query
	SkippedLong   int // runs above the threshold
	MinutesFilled int
	// Unresolved lists the runs, or pieces of runs, still missing afterwards.
	Unresolved []domain.GapRun
}

// UnresolvedMinutes totals the minutes left missing.
func (s BackfillStats) UnresolvedMinutes() int {
	n := 0
	for _, g := range s.Unresolved {
		n += g.Minutes
	}
	return n
}

// Backfill fills missing minutes of s from the tick archive. The series is
// first reindexed onto its weekday minute grid. Runs of consecutive missing
// minutes no longer than maxGap are fetched with a padded window; every
// minute the archive covers is overwritten and tagged backfilled. Longer
// runs, and minutes the archive cannot supply, stay missing and are listed
// in the returned stats.
func (c *Client) Backfill(ctx context.Context, s *domain.Series, maxGap int) BackfillStats {
	var stats BackfillStats
	first, last, ok := s.Span()
	if !ok {
		return stats
	}
	s.Reindex(util.MinuteGrid(first, last))

	runs := domain.GroupRuns(s.Missing())
	stats.Runs = len(runs)
	log := c.log.With("symbol", s.Symbol)

	for _, run := range runs {
		if run.Minutes > maxGap {
			stats.SkippedLong++
			stats.Unresolved = append(stats.Unresolved, run)
			continue
		}
		if ctx.Err() != nil {
			stats.Unresolved = append(stats.Unresolved, run)
			continue
		}
		stats.Attempted++

		window := gather.DateRange{Start: run.Start, End: run.End()}.Pad(windowPad)
		bars := minutesIn(c.MinuteBars(ctx, s.Symbol, window), run.Start, run.End())

		filled := 0
		for _, b := range bars {
			cur, ok := s.Get(b.Timestamp)
			if !ok || cur.Close.Valid {
				continue
			}
			cur.Open, cur.High, cur.Low, cur.Close, cur.Volume = b.Open, b.High, b.Low, b.Close, b.Volume
			cur.Source = domain.SourceBackfilled
			s.Set(cur)
			filled++
		}
		stats.MinutesFilled += filled

		if filled < run.Minutes {
			var still []time.Time
			for i := 0; i < run.Minutes; i++ {
				ts := run.Start.Add(time.Duration(i) * time.Minute)
				if b, ok := s.Get(ts); !ok || !b.Close.Valid {
					still = append(still, ts)
				}
			}
			stats.Unresolved = append(stats.Unresolved, domain.GroupRuns(still)...)
		}
		log.Debug("gap backfilled", "start", run.Start, "minutes", run.Minutes, "filled", filled)
	}
	return stats
}
