// Package domain defines the core types shared by every stage of the
// minute-bar pipeline: bars, series, gap runs, ticks, sessions and QC policy.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Float is a numeric cell that may be missing. It replaces NaN sentinels.
type Float struct {
	Value float64
	Valid bool
}

// Some returns a valid Float holding v. NaN and Inf are treated as missing.
func Some(v float64) Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float{}
	}
	return Float{Value: v, Valid: true}
}

// None is the missing Float.
var None = Float{}

// Any returns the value as an interface suitable for database/sql arguments:
// nil when missing.
func (f Float) Any() any {
	if !f.Valid {
		return nil
	}
	return f.Value
}

func (f Float) String() string {
	if !f.Valid {
		return "NaN"
	}
	return fmt.Sprintf("%g", f.Value)
}

// Source records why a bar's values exist.
type Source string

const (
	SourceAbsent     Source = ""
	SourcePrimary    Source = "primary"
	SourceImputed    Source = "imputed"
	SourceBackfilled Source = "backfilled"
)

// ParseSource maps a serialized source tag back to a Source. The legacy
// vendor tags ("histdata", "dukascopy") are accepted as aliases.
func ParseSource(s string) (Source, bool) {
	switch s {
	case "":
		return SourceAbsent, true
	case "primary", "histdata":
		return SourcePrimary, true
	case "imputed":
		return SourceImputed, true
	case "backfilled", "dukascopy":
		return SourceBackfilled, true
	}
	return SourceAbsent, false
}

// Bar is one OHLCV record for a single UTC minute.
type Bar struct {
	Timestamp time.Time
	Open      Float
	High      Float
	Low       Float
	Close     Float
	Volume    Float
	Source    Source
}

// Absent returns a placeholder bar with no data for ts.
func Absent(ts time.Time) Bar {
	return Bar{Timestamp: MinuteOf(ts)}
}

// IsAbsent reports whether the bar carries no data at all.
func (b Bar) IsAbsent() bool {
	return b.Source == SourceAbsent &&
		!b.Open.Valid && !b.High.Valid && !b.Low.Valid && !b.Close.Valid && !b.Volume.Valid
}

// MinuteOf normalizes t to UTC and truncates it to the minute.
func MinuteOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// GapRun is a maximal span of consecutive missing minutes.
type GapRun struct {
	Start   time.Time
	Minutes int
}

// End returns the last missing minute of the run.
func (g GapRun) End() time.Time {
	return g.Start.Add(time.Duration(g.Minutes-1) * time.Minute)
}

// Contains reports whether ts falls inside the run.
func (g GapRun) Contains(ts time.Time) bool {
	return !ts.Before(g.Start) && !ts.After(g.End())
}

// Tick is a single bid/ask quote from the tick archive.
type Tick struct {
	Timestamp time.Time
	Ask       float64
	Bid       float64
	AskVolume float64
	BidVolume float64
}
