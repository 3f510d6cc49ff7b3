// Package clean finds missing minutes in a series and flat-fills the short
// ones.
package clean

import (
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/util"
)

// DetectGaps returns the maximal runs of weekday minutes with no valid close,
// over the grid spanning the first and last observed closes. Minutes whose
// bar exists but has a missing close count as missing.
func DetectGaps(s *domain.Series) []domain.GapRun {
	observed := s.Observed()
	if len(observed) == 0 {
		return nil
	}
	have := make(map[int64]struct{}, len(observed))
	for _, ts := range observed {
		have[ts.Unix()] = struct{}{}
	}

	var missing []time.Time
	for _, ts := range util.MinuteGrid(observed[0], observed[len(observed)-1]) {
		if _, ok := have[ts.Unix()]; !ok {
			missing = append(missing, ts)
		}
	}
	return domain.GroupRuns(missing)
}

// TotalMinutes sums the length of runs.
func TotalMinutes(runs []domain.GapRun) int {
	n := 0
	for _, r := range runs {
		n += r.Minutes
	}
	return n
}

// Split partitions runs into those no longer than maxMinutes and the rest.
func Split(runs []domain.GapRun, maxMinutes int) (short, long []domain.GapRun) {
	for _, r := range runs {
		if r.Minutes <= maxMinutes {
			short = append(short, r)
		} else {
			long = append(long, r)
		}
	}
	return short, long
}
