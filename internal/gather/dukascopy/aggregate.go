package dukascopy

import (
	"sort"
	"time"

	"fxhist/internal/domain"
)

// AggregateMinutes builds one bar per minute from the bid side of ticks:
// first, max, min and last bid, and summed bid volume. Minutes without ticks
// produce no bar. Ticks must be in timestamp order.
func AggregateMinutes(ticks []domain.Tick) []domain.Bar {
	var bars []domain.Bar
	var cur *domain.Bar
	for _, t := range ticks {
		minute := domain.MinuteOf(t.Timestamp)
		if cur == nil || !cur.Timestamp.Equal(minute) {
			bars = append(bars, domain.Bar{
				Timestamp: minute,
				Open:      domain.Some(t.Bid),
				High:      domain.Some(t.Bid),
				Low:       domain.Some(t.Bid),
				Close:     domain.Some(t.Bid),
				Volume:    domain.Some(0),
				Source:    domain.SourceBackfilled,
			})
			cur = &bars[len(bars)-1]
		}
		if t.Bid > cur.High.Value {
			cur.High = domain.Some(t.Bid)
		}
		if t.Bid < cur.Low.Value {
			cur.Low = domain.Some(t.Bid)
		}
		cur.Close = domain.Some(t.Bid)
		cur.Volume = domain.Some(cur.Volume.Value + t.BidVolume)
	}
	return bars
}

// mergeBars concatenates per-hour bars, keeps the last bar per minute and
// sorts the result.
func mergeBars(chunks [][]domain.Bar) []domain.Bar {
	byMinute := make(map[int64]domain.Bar)
	for _, chunk := range chunks {
		for _, b := range chunk {
			byMinute[b.Timestamp.Unix()] = b
		}
	}
	out := make([]domain.Bar, 0, len(byMinute))
	for _, b := range byMinute {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// minutesIn returns the bars whose timestamp lies within [start, end].
func minutesIn(bars []domain.Bar, start, end time.Time) []domain.Bar {
	var out []domain.Bar
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out
}
