package clean

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxhist/internal/domain"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func seriesAt(minutes ...int) *domain.Series {
	var bars []domain.Bar
	for _, m := range minutes {
		c := 1.0 + float64(m)/1000
		bars = append(bars, domain.Bar{
			Timestamp: monday.Add(time.Duration(m) * time.Minute),
			Open:      domain.Some(c), High: domain.Some(c + 0.01), Low: domain.Some(c - 0.01), Close: domain.Some(c),
			Volume: domain.Some(5), Source: domain.SourcePrimary,
		})
	}
	return domain.FromBars("EURUSD", bars)
}

func span(from, to int) []int {
	var out []int
	for m := from; m <= to; m++ {
		out = append(out, m)
	}
	return out
}

func TestDetectGaps(t *testing.T) {
	mins := append(span(0, 9), span(13, 20)...) // 10,11,12 missing
	mins = append(mins, 22, 23)                   // 21 missing
	runs := DetectGaps(seriesAt(mins...))

	require.Len(t, runs, 2)
	assert.Equal(t, domain.GapRun{Start: monday.Add(10 * time.Minute), Minutes: 3}, runs[0])
	assert.Equal(t, domain.GapRun{Start: monday.Add(21 * time.Minute), Minutes: 1}, runs[1])
	assert.Equal(t, 4, TotalMinutes(runs))
}

func TestDetectGapsEmpty(t *testing.T) {
	assert.Empty(t, DetectGaps(domain.NewSeries("EURUSD")))
}

func TestDetectGapsIgnoresMissingClose(t *testing.T) {
	s := seriesAt(0, 1, 2)
	b := s.At(1)
	b.Close = domain.None
	s.Set(b)

	runs := DetectGaps(s)
	require.Len(t, runs, 1)
	assert.Equal(t, monday.Add(time.Minute), runs[0].Start)
}

func TestDetectGapsSkipsWeekend(t *testing.T) {
	fri := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	mon := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	s := domain.FromBars("EURUSD", []domain.Bar{
		{Timestamp: fri, Close: domain.Some(1)},
		{Timestamp: mon, Close: domain.Some(1)},
	})
	assert.Empty(t, DetectGaps(s))
}

func TestImputeSmallGaps(t *testing.T) {
	mins := append(span(0, 9), span(13, 20)...) // 3-minute gap
	mins = append(mins, span(31, 40)...)         // 10-minute gap
	s := seriesAt(mins...)

	filled := ImputeSmallGaps(s, 5)
	assert.Equal(t, 3, filled)

	prevClose := 1.0 + 9.0/1000
	for m := 10; m <= 12; m++ {
		b, ok := s.Get(monday.Add(time.Duration(m) * time.Minute))
		require.True(t, ok)
		assert.Equal(t, domain.SourceImputed, b.Source)
		assert.Equal(t, prevClose, b.Open.Value)
		assert.Equal(t, prevClose, b.High.Value)
		assert.Equal(t, prevClose, b.Low.Value)
		assert.Equal(t, prevClose, b.Close.Value)
		assert.Equal(t, domain.Some(0), b.Volume)
	}

	// The long gap stays missing but now has placeholders.
	for m := 21; m <= 30; m++ {
		b, ok := s.Get(monday.Add(time.Duration(m) * time.Minute))
		require.True(t, ok)
		assert.True(t, b.IsAbsent())
	}
	long := DetectGaps(s)
	require.Len(t, long, 1)
	assert.Equal(t, 10, long[0].Minutes)
}

func TestImputeIdempotent(t *testing.T) {
	mins := append(span(0, 9), span(12, 20)...)
	mins = append(mins, span(40, 50)...)
	once := seriesAt(mins...)
	ImputeSmallGaps(once, 5)

	twice := once.Clone()
	assert.Zero(t, ImputeSmallGaps(twice, 5))
	assert.Equal(t, once.Bars(), twice.Bars())

	// No run at or below the threshold survives.
	for _, r := range DetectGaps(twice) {
		assert.Greater(t, r.Minutes, 5)
	}
}

func TestSplit(t *testing.T) {
	runs := []domain.GapRun{{Minutes: 1}, {Minutes: 5}, {Minutes: 6}}
	short, long := Split(runs, 5)
	assert.Len(t, short, 2)
	assert.Len(t, long, 1)
}
