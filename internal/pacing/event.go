package pacing

import "math"

// EventRecord is one pacing schedule entry: a level applied over
// [start, start+duration) and, when period > 0, repeated every period
// units — indefinitely if multiplier == 0, or exactly multiplier times if
// multiplier > 0. This mirrors the (level, start, duration, period,
// multiplier) event shape event-based pacing protocols use throughout the
// original_source reference material.
type EventRecord struct {
	Start      float64
	Duration   float64
	Period     float64
	Multiplier float64
	Level      float64
}

// EventPacing is a state machine producing a piecewise-constant stimulus
// level from a schedule of events (spec.md §4.2).
type EventPacing struct {
	events []scheduledEvent
	now    float64
	level  float64
	active bool // whether `now` currently lies inside some event's window
}

type scheduledEvent struct {
	rec   EventRecord
	index int // original schedule order, used to break level ties
}

// NewEventPacing returns an EventPacing with no schedule populated.
func NewEventPacing() *EventPacing {
	return &EventPacing{}
}

// Populate ingests and validates the event list. Fails with
// ErrInvalidPacing if any event has negative duration, negative period,
// negative multiplier, or a multiplier x period product (i.e. its last
// occurrence time) that would overflow to +Inf or NaN.
func (e *EventPacing) Populate(schedule []EventRecord) error {
	events := make([]scheduledEvent, 0, len(schedule))
	for i, rec := range schedule {
		if rec.Duration < 0 || rec.Period < 0 || rec.Multiplier < 0 {
			return ErrInvalidPacing
		}
		if rec.Period > 0 && rec.Multiplier > 0 {
			last := rec.Start + (rec.Multiplier-1)*rec.Period
			if math.IsInf(last, 0) || math.IsNaN(last) {
				return ErrInvalidPacing
			}
		}
		events = append(events, scheduledEvent{rec: rec, index: i})
	}
	e.events = events
	e.now = math.Inf(-1)
	e.level = 0
	e.active = false
	return nil
}

// maxOccurrence returns the highest valid zero-based occurrence index for
// a periodic event, or +Inf when it repeats forever.
func maxOccurrence(rec EventRecord) float64 {
	if rec.Period <= 0 {
		return 0
	}
	if rec.Multiplier <= 0 {
		return math.Inf(1)
	}
	return rec.Multiplier - 1
}

// occurrenceAt returns the zero-based occurrence index active (or about to
// start) at or after t, and whether such an occurrence exists at all.
func occurrenceAt(rec EventRecord, t float64) (k float64, ok bool) {
	if t < rec.Start {
		return 0, true
	}
	if rec.Period <= 0 {
		return 0, true
	}
	k = math.Floor((t - rec.Start) / rec.Period)
	if k > maxOccurrence(rec) {
		return 0, false
	}
	return k, true
}

// activeWindow returns the start and end of the event's window containing
// t, and whether t actually falls inside that window (i.e. before its end).
func activeWindow(rec EventRecord, t float64) (start, end float64, active bool) {
	k, ok := occurrenceAt(rec, t)
	if !ok || t < rec.Start {
		return 0, 0, false
	}
	start = rec.Start + k*rec.Period
	end = start + rec.Duration
	return start, end, t >= start && t < end
}

// Advance advances the cursor so Level reflects which events are active at
// time t. Monotonic: t must be non-decreasing across calls.
func (e *EventPacing) Advance(t float64) error {
	e.now = t
	best := math.Inf(-1)
	bestLevel := 0.0
	bestIndex := -1
	anyActive := false
	for _, se := range e.events {
		start, _, active := activeWindow(se.rec, t)
		if !active {
			continue
		}
		anyActive = true
		if start > best || (start == best && se.index < bestIndex) {
			best = start
			bestLevel = se.rec.Level
			bestIndex = se.index
		}
	}
	e.active = anyActive
	if anyActive {
		e.level = bestLevel
	} else {
		e.level = 0
	}
	return nil
}

// Level returns the currently active level, or 0 when no event is active.
func (e *EventPacing) Level() float64 { return e.level }

// NextTime returns the next t' > current at which the active level may
// change: the start of an event, the end of an active event, or the next
// periodic repetition.
func (e *EventPacing) NextTime() (float64, bool) {
	next := math.Inf(1)
	found := false
	for _, se := range e.events {
		for _, cand := range breakpoints(se.rec, e.now) {
			if cand > e.now && cand < next {
				next = cand
				found = true
			}
		}
	}
	return next, found
}

// breakpoints lists the candidate times after `now` at which this event's
// contribution to the level could change: the start and end of the
// occurrence containing (or immediately following) now, and — for
// recurring events — the same for the next occurrence.
func breakpoints(rec EventRecord, now float64) []float64 {
	var out []float64
	maxK := maxOccurrence(rec)
	var k0 float64
	if now < rec.Start {
		k0 = 0
	} else if rec.Period > 0 {
		k0 = math.Floor((now - rec.Start) / rec.Period)
	} else {
		k0 = 0
	}
	for _, k := range [2]float64{k0, k0 + 1} {
		if k < 0 || k > maxK {
			continue
		}
		start := rec.Start + k*rec.Period
		end := start + rec.Duration
		if start > now {
			out = append(out, start)
		}
		if end > now && start <= now {
			out = append(out, end)
		}
	}
	return out
}
