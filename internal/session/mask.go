// Package session decides which UTC minutes fall inside configured local
// trading sessions and drops hours whose in-session fill ratio is too low.
package session

import (
	"fmt"
	"time"

	"fxhist/internal/domain"
)

// Set is a union of compiled sessions. A minute is in session when any
// member contains it.
type Set struct {
	sessions []domain.CompiledSession
}

// Compile resolves every spec. At least one spec is required.
func Compile(specs []domain.SessionSpec) (*Set, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no sessions configured", domain.ErrConfig)
	}
	set := &Set{sessions: make([]domain.CompiledSession, 0, len(specs))}
	for _, sp := range specs {
		c, err := sp.Compile()
		if err != nil {
			return nil, err
		}
		set.sessions = append(set.sessions, c)
	}
	return set, nil
}

// Contains reports whether t lies in any session.
func (s *Set) Contains(t time.Time) bool {
	for _, c := range s.sessions {
		if c.Contains(t) {
			return true
		}
	}
	return false
}

// Names lists the session names in configuration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.sessions))
	for i, c := range s.sessions {
		names[i] = c.Name
	}
	return names
}

// Mask returns, for each bar of series, whether its minute is in session.
func (s *Set) Mask(series *domain.Series) []bool {
	mask := make([]bool, series.Len())
	for i, b := range series.Bars() {
		mask[i] = s.Contains(b.Timestamp)
	}
	return mask
}

// Filter keeps only the in-session bars, without any hour QC.
func (s *Set) Filter(series *domain.Series) *domain.Series {
	return series.Filter(func(_ int, b domain.Bar) bool { return s.Contains(b.Timestamp) })
}
