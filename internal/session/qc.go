package session

import (
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/util"
)

// HourStat is the QC verdict for one UTC hour.
type HourStat struct {
	Hour      time.Time
	Expected  int // in-session grid minutes
	Observed  int // in-session minutes with a valid close
	Threshold int
	Kept      bool
}

// FilterQC applies session masking and the hourly fill-ratio rule to series,
// which is left unchanged. The result covers the weekday minute grid of the
// series' span: a minute survives only when it is in session and its UTC
// hour has at least policy.Threshold(expected) observed minutes. Kept
// minutes with no data stay as explicit missing bars.
func FilterQC(series *domain.Series, set *Set, policy domain.QCPolicy) (*domain.Series, []HourStat) {
	out := domain.NewSeries(series.Symbol)
	first, last, ok := series.Span()
	if !ok {
		return out, nil
	}
	grid := util.MinuteGrid(first, last)
	inSession := make([]bool, len(grid))

	var stats []HourStat
	byHour := make(map[int64]int)
	for i, ts := range grid {
		inSession[i] = set.Contains(ts)
		h := util.HourOf(ts)
		idx, seen := byHour[h.Unix()]
		if !seen {
			idx = len(stats)
			byHour[h.Unix()] = idx
			stats = append(stats, HourStat{Hour: h})
		}
		if !inSession[i] {
			continue
		}
		stats[idx].Expected++
		if b, ok := series.Get(ts); ok && b.Close.Valid {
			stats[idx].Observed++
		}
	}
	for i := range stats {
		stats[i].Threshold = policy.Threshold(stats[i].Expected)
		stats[i].Kept = stats[i].Observed >= stats[i].Threshold
	}

	kept := make([]domain.Bar, 0, len(grid))
	for i, ts := range grid {
		if !inSession[i] || !stats[byHour[util.HourOf(ts).Unix()]].Kept {
			continue
		}
		b, ok := series.Get(ts)
		if !ok {
			b = domain.Absent(ts)
		}
		kept = append(kept, b)
	}
	return domain.FromBars(series.Symbol, kept), stats
}

// DroppedHours counts hours that had in-session minutes but failed QC.
func DroppedHours(stats []HourStat) int {
	n := 0
	for _, s := range stats {
		if s.Expected > 0 && !s.Kept {
			n++
		}
	}
	return n
}
