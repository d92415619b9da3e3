package driver

import (
	"github.com/myokit/beta/internal/logging"
	"github.com/myokit/beta/internal/model"
	"github.com/myokit/beta/internal/pacing"
)

// ProtocolKind selects which pacing state machine a Protocol builds.
type ProtocolKind int

const (
	ProtocolEvent ProtocolKind = iota
	ProtocolFixed
)

// Protocol describes one independent pacing input's schedule. A
// SimulationContext builds one pacing.System per Protocol, in order, and
// wires the resulting Multi into the Model's bound pace vector — the Go
// rendition of the "list of protocol objects" the driver's init takes in
// spec.md §4.5.
type Protocol struct {
	Kind   ProtocolKind
	Events []pacing.EventRecord // used when Kind == ProtocolEvent
	Fixed  []pacing.Sample      // used when Kind == ProtocolFixed
}

func (p Protocol) build() (pacing.System, error) {
	switch p.Kind {
	case ProtocolFixed:
		fp := pacing.NewFixedPacing()
		if err := fp.Populate(p.Fixed); err != nil {
			return nil, err
		}
		return fp, nil
	default:
		ep := pacing.NewEventPacing()
		if err := ep.Populate(p.Events); err != nil {
			return nil, err
		}
		return ep, nil
	}
}

// Options is the Go rendition of the driver's init tuple (spec.md §4.5):
// everything a run needs to fully determine its behavior, gathered into one
// value instead of seventeen positional arguments.
type Options struct {
	Definition model.Definition

	TMin, TMax float64

	// State is the initial state vector; Step mutates a private copy, and
	// the final state is written back into this slice in place once the run
	// completes, mirroring the source's in/out state buffer.
	State []float64

	// Literals and Parameters seed the Model before the first step. Either
	// may be nil to keep the Definition's compiled-in defaults.
	Literals   []float64
	Parameters []float64

	Protocols []Protocol

	// LogDescriptor names every bound log variable and its sink. Nil or
	// empty disables state/derivative logging entirely.
	LogDescriptor map[string]model.Sink

	// LogInterval, if positive, selects periodic logging; LogTimes, if
	// non-empty (and LogInterval <= 0), selects point-list logging;
	// otherwise every accepted internal step is logged (dynamic logging).
	LogInterval float64
	LogTimes    []float64

	// Independents and SState configure forward sensitivity analysis.
	// SState is the ns_independents x n_states initial sensitivity matrix;
	// a nil/empty SState leaves sensitivities disabled.
	Independents []model.Independent
	SState       [][]float64
	SensSink     model.MatrixSink

	// RFIndex/RFThreshold/RFSink configure single-function root finding;
	// a nil RFSink leaves root finding disabled.
	RFIndex     int
	RFThreshold float64
	RFSink      logging.RootSink

	AbsTol, RelTol     float64
	MaxStepSize        float64
	MinStepSize        float64

	Benchmarker  Benchmarker
	LogRealtime  bool
}
