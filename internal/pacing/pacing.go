// Package pacing implements the two pacing state machines that drive a
// cell model's external stimulus: event-based (piecewise constant) and
// fixed-form (interpolated time series). Both satisfy the System
// capability set below instead of sharing a base type — the tagged-variant
// rendition spec.md §9 calls for in place of inheritance.
package pacing

import "errors"

// ErrInvalidPacing is returned by Populate when a schedule or series is
// malformed (spec.md §7).
var ErrInvalidPacing = errors.New("pacing: invalid pacing")

// System is the shared capability set of EventPacing and FixedPacing.
type System interface {
	// Advance moves the internal cursor so Level reflects the state at t.
	// Callers must present non-decreasing t.
	Advance(t float64) error
	// Level returns the currently active pacing value.
	Level() float64
	// NextTime returns the next time at which Level may change, and
	// whether such a time exists (FixedPacing never does).
	NextTime() (float64, bool)
}

// Multi composes N pacing systems into the flat vector the driver writes
// into Model.SetBound via SetupPacing.
type Multi struct {
	systems []System
}

// NewMulti wraps a fixed set of pacing systems, in the order they populate
// the bound pace vector.
func NewMulti(systems []System) *Multi {
	return &Multi{systems: systems}
}

func (m *Multi) Len() int { return len(m.systems) }

// Levels returns the current level of every system, in order.
func (m *Multi) Levels(out []float64) {
	for i, s := range m.systems {
		if i < len(out) {
			out[i] = s.Level()
		}
	}
}

// Advance advances every system to t.
func (m *Multi) Advance(t float64) error {
	for _, s := range m.systems {
		if err := s.Advance(t); err != nil {
			return err
		}
	}
	return nil
}

// NextDiscontinuity returns min(tmax, min over event systems of NextTime()).
// Fixed-form systems never contribute a discontinuity, per spec.md §4.3.
func (m *Multi) NextDiscontinuity(tmax float64) float64 {
	next := tmax
	for _, s := range m.systems {
		if t, ok := s.NextTime(); ok && t < next {
			next = t
		}
	}
	return next
}
