package driver

import "time"

// Benchmarker reports elapsed wall-clock seconds since a run started, bound
// into Model as engine.realtime (spec.md §4.1). A host embedding the engine
// in a batch pipeline can substitute a no-op or simulated clock.
type Benchmarker interface {
	Now() float64
}

// RealBenchmarker measures actual wall-clock time from the moment it is
// constructed, the default used when Options.Benchmarker is nil.
type RealBenchmarker struct {
	start time.Time
}

// NewRealBenchmarker returns a Benchmarker whose Now() is relative to the
// call to NewRealBenchmarker.
func NewRealBenchmarker() *RealBenchmarker {
	return &RealBenchmarker{start: time.Now()}
}

func (b *RealBenchmarker) Now() float64 {
	return time.Since(b.start).Seconds()
}
