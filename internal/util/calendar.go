package util

import "time"

// IsTradingMinute reports whether t falls on a weekday, judged in UTC.
// Holidays are not modelled.
func IsTradingMinute(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// MinuteGrid returns every UTC minute in [start, end], both inclusive after
// truncation to the minute, skipping Saturdays and Sundays. An empty or
// inverted range yields nil.
func MinuteGrid(start, end time.Time) []time.Time {
	start = start.UTC().Truncate(time.Minute)
	end = end.UTC().Truncate(time.Minute)
	if end.Before(start) {
		return nil
	}

	grid := make([]time.Time, 0, int(end.Sub(start)/time.Minute)+1)
	for t := start; !t.After(end); {
		if !IsTradingMinute(t) {
			// Jump straight to the next UTC midnight.
			y, m, d := t.Date()
			t = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		grid = append(grid, t)
		t = t.Add(time.Minute)
	}
	return grid
}

// HourOf truncates t to its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
