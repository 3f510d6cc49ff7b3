package domain

import (
	"sort"
	"time"
)

// Series is an ordered set of bars for one symbol, strictly increasing by
// timestamp with at most one bar per minute.
type Series struct {
	Symbol string
	bars   []Bar
	index  map[int64]int // unix seconds -> position in bars
}

// NewSeries returns an empty series for symbol.
func NewSeries(symbol string) *Series {
	return &Series{Symbol: symbol, index: make(map[int64]int)}
}

// FromBars builds a series from bars in any order. Timestamps are normalized
// to the UTC minute; on collision the later bar in the input wins.
func FromBars(symbol string, bars []Bar) *Series {
	latest := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		b.Timestamp = MinuteOf(b.Timestamp)
		latest[b.Timestamp.Unix()] = b
	}
	out := make([]Bar, 0, len(latest))
	for _, b := range latest {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	s := &Series{Symbol: symbol, bars: out}
	s.rebuildIndex()
	return s
}

func (s *Series) rebuildIndex() {
	s.index = make(map[int64]int, len(s.bars))
	for i, b := range s.bars {
		s.index[b.Timestamp.Unix()] = i
	}
}

// Len returns the number of bars, placeholders included.
func (s *Series) Len() int { return len(s.bars) }

// Empty reports whether the series has no bars.
func (s *Series) Empty() bool { return len(s.bars) == 0 }

// Bars returns the bars in timestamp order. The slice must not be modified.
func (s *Series) Bars() []Bar { return s.bars }

// At returns the i-th bar.
func (s *Series) At(i int) Bar { return s.bars[i] }

// Get returns the bar at ts, if any.
func (s *Series) Get(ts time.Time) (Bar, bool) {
	i, ok := s.index[MinuteOf(ts).Unix()]
	if !ok {
		return Bar{}, false
	}
	return s.bars[i], true
}

// Set inserts b, or replaces the bar already stored at its minute.
func (s *Series) Set(b Bar) {
	b.Timestamp = MinuteOf(b.Timestamp)
	key := b.Timestamp.Unix()
	if i, ok := s.index[key]; ok {
		s.bars[i] = b
		return
	}
	pos := sort.Search(len(s.bars), func(i int) bool { return !s.bars[i].Timestamp.Before(b.Timestamp) })
	if pos == len(s.bars) {
		s.bars = append(s.bars, b)
		s.index[key] = pos
		return
	}
	s.bars = append(s.bars, Bar{})
	copy(s.bars[pos+1:], s.bars[pos:])
	s.bars[pos] = b
	s.rebuildIndex()
}

// Span returns the first and last timestamps. ok is false for an empty series.
func (s *Series) Span() (first, last time.Time, ok bool) {
	if len(s.bars) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.bars[0].Timestamp, s.bars[len(s.bars)-1].Timestamp, true
}

// Reindex adds an absent placeholder for every grid minute not already in
// the series. Existing bars, including off-grid ones, are kept.
func (s *Series) Reindex(grid []time.Time) {
	added := false
	for _, ts := range grid {
		if _, ok := s.index[ts.Unix()]; ok {
			continue
		}
		s.bars = append(s.bars, Absent(ts))
		added = true
	}
	if !added {
		return
	}
	sort.Slice(s.bars, func(i, j int) bool { return s.bars[i].Timestamp.Before(s.bars[j].Timestamp) })
	s.rebuildIndex()
}

// Filter returns a new series holding the bars for which keep returns true.
func (s *Series) Filter(keep func(i int, b Bar) bool) *Series {
	out := &Series{Symbol: s.Symbol}
	for i, b := range s.bars {
		if keep(i, b) {
			out.bars = append(out.bars, b)
		}
	}
	out.rebuildIndex()
	return out
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	out := &Series{Symbol: s.Symbol, bars: append([]Bar(nil), s.bars...)}
	out.rebuildIndex()
	return out
}

// Observed returns the timestamps of bars with a valid close.
func (s *Series) Observed() []time.Time {
	var out []time.Time
	for _, b := range s.bars {
		if b.Close.Valid {
			out = append(out, b.Timestamp)
		}
	}
	return out
}

// Missing returns the timestamps of bars whose close is missing.
func (s *Series) Missing() []time.Time {
	var out []time.Time
	for _, b := range s.bars {
		if !b.Close.Valid {
			out = append(out, b.Timestamp)
		}
	}
	return out
}

// CountBySource tallies bars per source tag.
func (s *Series) CountBySource() map[Source]int {
	out := make(map[Source]int)
	for _, b := range s.bars {
		out[b.Source]++
	}
	return out
}

// GroupRuns splits ascending timestamps into runs of exactly one-minute
// spacing. Any other step, weekend jumps included, starts a new run.
func GroupRuns(ts []time.Time) []GapRun {
	if len(ts) == 0 {
		return nil
	}
	var runs []GapRun
	cur := GapRun{Start: ts[0], Minutes: 1}
	for i := 1; i < len(ts); i++ {
		if ts[i].Sub(ts[i-1]) != time.Minute {
			runs = append(runs, cur)
			cur = GapRun{Start: ts[i], Minutes: 1}
			continue
		}
		cur.Minutes++
	}
	return append(runs, cur)
}
