// Package driver implements the simulation driver: the run/step/clean
// state machine that composes Model, pacing, the solver façade and the
// logging substrate (spec.md §4.5).
package driver

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Init when another run is active,
	// per the process-wide singleton guard in spec.md §5.
	ErrAlreadyRunning = errors.New("driver: a simulation is already initialized")
	// ErrNotInitialized is returned by Step/Clean when called from IDLE.
	ErrNotInitialized = errors.New("driver: simulation not initialized")
	// ErrPrecisionInsufficient is the Init-time sanity check failure when
	// tmax + log_interval == tmax in floating point.
	ErrPrecisionInsufficient = errors.New("driver: log_interval too small relative to tmax")
	// ErrLogTimesNotMonotonic is the ValueError of spec.md §7.
	ErrLogTimesNotMonotonic = errors.New("driver: log_times must be non-decreasing")
	// ErrLogIndexOverflow is the OverflowError of spec.md §7.
	ErrLogIndexOverflow = errors.New("driver: periodic log index overflowed")
)

// SimError is the ArithmeticError raised on 500 consecutive zero-length
// steps, and more generally any driver failure that carries a simulation
// time and step index — the Go rendition of the teacher's sim.SimError.
type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("driver: t=%.6f step=%d: %s", e.Time, e.Step, e.Message)
}

const maxConsecutiveZeroSteps = 500
