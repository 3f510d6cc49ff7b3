// Package gather holds what the bar and tick sources share: the range types
// used to ask an archive for data.
package gather

import "time"

// DateRange represents a time range for data fetching. Both ends are
// inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Hours returns the start of every UTC hour that overlaps the range.
func (r DateRange) Hours() []time.Time {
	start := r.Start.UTC().Truncate(time.Hour)
	end := r.End.UTC().Truncate(time.Hour)
	var hours []time.Time
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return hours
}

// Contains reports whether t lies within the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Pad widens the range by d on both sides.
func (r DateRange) Pad(d time.Duration) DateRange {
	return DateRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}
