package clean

import (
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/util"
)

// ImputeSmallGaps reindexes s onto its weekday minute grid and flat-fills
// every gap run of at most maxGap minutes: the last known close is repeated
// as open, high, low and close with zero volume, tagged imputed. Longer runs
// are left missing. It returns the number of minutes filled. Running it
// twice has the same effect as running it once.
func ImputeSmallGaps(s *domain.Series, maxGap int) int {
	first, last, ok := s.Span()
	if !ok {
		return 0
	}
	s.Reindex(util.MinuteGrid(first, last))

	short, _ := Split(DetectGaps(s), maxGap)
	if len(short) == 0 {
		return 0
	}
	fill := make(map[int64]struct{}, TotalMinutes(short))
	for _, run := range short {
		for i := 0; i < run.Minutes; i++ {
			fill[run.Start.Add(time.Duration(i)*time.Minute).Unix()] = struct{}{}
		}
	}

	filled := 0
	var lastClose domain.Float
	for i := 0; i < s.Len(); i++ {
		b := s.At(i)
		if b.Close.Valid {
			lastClose = b.Close
			continue
		}
		if _, ok := fill[b.Timestamp.Unix()]; !ok || !lastClose.Valid {
			continue
		}
		b.Open, b.High, b.Low, b.Close = lastClose, lastClose, lastClose, lastClose
		b.Volume = domain.Some(0)
		b.Source = domain.SourceImputed
		s.Set(b)
		filled++
	}
	return filled
}
