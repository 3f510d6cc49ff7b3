package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Embedded IANA zones for session masking.
)

// SessionSpec is a recurring local-time trading window, e.g. London
// 08:00-16:30 Europe/London. End before Start wraps past midnight.
type SessionSpec struct {
	Name  string `yaml:"name"`
	TZ    string `yaml:"tz"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// CompiledSession is a SessionSpec with its zone loaded and bounds expressed
// as minutes since local midnight.
type CompiledSession struct {
	Name     string
	Location *time.Location
	StartMin int
	EndMin   int
}

// Compile resolves the IANA zone and parses the HH:MM bounds.
func (s SessionSpec) Compile() (CompiledSession, error) {
	if s.TZ == "" {
		return CompiledSession{}, fmt.Errorf("%w: session %q: tz is required", ErrConfig, s.Name)
	}
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return CompiledSession{}, fmt.Errorf("%w: session %q: %v", ErrConfig, s.Name, err)
	}
	start, err := parseClock(s.Start)
	if err != nil {
		return CompiledSession{}, fmt.Errorf("%w: session %q start: %v", ErrConfig, s.Name, err)
	}
	end, err := parseClock(s.End)
	if err != nil {
		return CompiledSession{}, fmt.Errorf("%w: session %q end: %v", ErrConfig, s.Name, err)
	}
	return CompiledSession{Name: s.Name, Location: loc, StartMin: start, EndMin: end}, nil
}

// Contains reports whether the UTC instant t falls inside the session,
// judged on the local wall clock. Both bounds are inclusive.
func (c CompiledSession) Contains(t time.Time) bool {
	local := t.In(c.Location)
	m := local.Hour()*60 + local.Minute()
	if c.EndMin >= c.StartMin {
		return m >= c.StartMin && m <= c.EndMin
	}
	return m >= c.StartMin || m <= c.EndMin
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hh*60 + mm, nil
}

// QCPolicy is the per-hour fill-ratio rule applied after session masking.
type QCPolicy struct {
	MinFillRatio float64 `yaml:"min_fill_ratio"`
	MinBarsAbs   int     `yaml:"min_bars_abs"`
}

// DefaultQCPolicy keeps hours with at least 97% of expected minutes.
var DefaultQCPolicy = QCPolicy{MinFillRatio: 0.97, MinBarsAbs: 0}

// Validate checks the policy bounds.
func (p QCPolicy) Validate() error {
	if math.IsNaN(p.MinFillRatio) || p.MinFillRatio < 0 || p.MinFillRatio > 1 {
		return fmt.Errorf("%w: min_fill_ratio %v outside [0,1]", ErrConfig, p.MinFillRatio)
	}
	if p.MinBarsAbs < 0 {
		return fmt.Errorf("%w: min_bars_abs %d is negative", ErrConfig, p.MinBarsAbs)
	}
	return nil
}

// Threshold returns the observed-minute count an hour with the given number
// of expected in-session minutes must reach to be kept.
func (p QCPolicy) Threshold(expected int) int {
	// The epsilon absorbs float error such as 0.07*100 = 7.000000000000001.
	need := int(math.Ceil(float64(expected)*p.MinFillRatio - 1e-9))
	if p.MinBarsAbs > need {
		need = p.MinBarsAbs
	}
	return need
}
