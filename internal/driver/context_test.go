package driver

import (
	"context"
	"fmt"
	"testing"

	"github.com/myokit/beta/internal/logging"
	"github.com/myokit/beta/internal/model"
	"github.com/myokit/beta/internal/pacing"
)

// fixedBenchmarker never advances, keeping engine.realtime deterministic
// for tests that log it.
type fixedBenchmarker struct{}

func (fixedBenchmarker) Now() float64 { return 0 }

// tickingBenchmarker advances by one second per Now() call, so tests can
// tell whether engine.realtime is actually live or pinned to 0.
type tickingBenchmarker struct{ n float64 }

func (b *tickingBenchmarker) Now() float64 {
	b.n++
	return b.n
}

func stimulusProtocol() Protocol {
	return Protocol{
		Kind: ProtocolEvent,
		Events: []pacing.EventRecord{
			{Start: 0, Duration: 2, Period: 1000, Multiplier: 0, Level: 1},
		},
	}
}

func TestRunToCompletionDynamicLogging(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	opts := Options{
		Definition: def,
		TMin:       0,
		TMax:       5,
		State:      append([]float64(nil), def.DefaultStates...),
		Protocols:  []Protocol{stimulusProtocol()},
		LogDescriptor: map[string]model.Sink{
			"engine.time": sub.Bind("engine.time"),
			"membrane.V":  sub.Bind("membrane.V"),
		},
		AbsTol:      1e-6,
		RelTol:      1e-4,
		MaxStepSize: 0.5,
		Benchmarker: fixedBenchmarker{},
	}

	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ctx.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	times := sub.Column("engine.time")
	v := sub.Column("membrane.V")
	if len(times) == 0 || len(v) != len(times) {
		t.Fatalf("expected matching non-empty logged columns, got %d/%d", len(times), len(v))
	}
	if times[0] != 0 {
		t.Errorf("expected first logged time to be tmin, got %v", times[0])
	}
	if opts.State[0] == def.DefaultStates[0] {
		t.Errorf("expected membrane.V to have evolved from its default")
	}
}

func TestRunPeriodicLoggingHitsExactInterval(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	opts := Options{
		Definition: def,
		TMin:       0,
		TMax:       10,
		State:      append([]float64(nil), def.DefaultStates...),
		Protocols:  []Protocol{stimulusProtocol()},
		LogDescriptor: map[string]model.Sink{
			"engine.time": sub.Bind("engine.time"),
		},
		LogInterval: 1.0,
		AbsTol:      1e-6,
		RelTol:      1e-4,
		MaxStepSize: 0.5,
		Benchmarker: fixedBenchmarker{},
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer ctx.Clean()
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	times := sub.Column("engine.time")
	if len(times) != 10 {
		t.Fatalf("expected 10 periodic log points (0..9 step 1, tmax excluded), got %d: %v", len(times), times)
	}
	for i, tt := range times {
		want := float64(i)
		if diff := tt - want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("log point %d = %v, want %v", i, tt, want)
		}
	}
}

func TestRunPointListRejectsOutOfOrderTimeAtStepTime(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	opts := Options{
		Definition: def,
		TMin:       0,
		TMax:       10,
		State:      append([]float64(nil), def.DefaultStates...),
		Protocols:  []Protocol{stimulusProtocol()},
		LogDescriptor: map[string]model.Sink{
			"engine.time": sub.Bind("engine.time"),
		},
		LogTimes:    []float64{0, 5, 3},
		AbsTol:      1e-6,
		RelTol:      1e-4,
		MaxStepSize: 0.5,
		Benchmarker: fixedBenchmarker{},
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init should accept an unsorted log_times list, got: %v", err)
	}
	defer ctx.Clean()
	if err := ctx.Run(context.Background(), 0, nil); err != ErrLogTimesNotMonotonic {
		t.Fatalf("expected ErrLogTimesNotMonotonic from Run, got %v", err)
	}
}

func TestRunDynamicLoggingDoesNotDuplicateTminAcrossRestarts(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	newOpts := func() Options {
		return Options{
			Definition: def,
			TMin:       0,
			TMax:       1,
			State:      append([]float64(nil), def.DefaultStates...),
			Protocols:  []Protocol{stimulusProtocol()},
			LogDescriptor: map[string]model.Sink{
				"engine.time": sub.Bind("engine.time"),
			},
			AbsTol:      1e-6,
			RelTol:      1e-4,
			MaxStepSize: 0.5,
			Benchmarker: fixedBenchmarker{},
		}
	}

	first := New()
	if err := first.Init(newOpts()); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := first.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := first.Clean(); err != nil {
		t.Fatalf("first Clean: %v", err)
	}
	countAfterFirst := len(sub.Column("engine.time"))
	if countAfterFirst == 0 || sub.Column("engine.time")[0] != 0 {
		t.Fatalf("expected the first run to log tmin, got %v", sub.Column("engine.time"))
	}

	second := New()
	if err := second.Init(newOpts()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer second.Clean()
	if err := second.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	times := sub.Column("engine.time")
	if times[countAfterFirst] == 0 {
		t.Errorf("second run into the same sink re-logged tmin=0: %v", times)
	}
}

func TestLogRealtimePinsEngineRealtimeWhenDisabled(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	opts := Options{
		Definition: def,
		TMin:       0,
		TMax:       2,
		State:      append([]float64(nil), def.DefaultStates...),
		Protocols:  []Protocol{stimulusProtocol()},
		LogDescriptor: map[string]model.Sink{
			"engine.realtime": sub.Bind("engine.realtime"),
		},
		AbsTol:      1e-6,
		RelTol:      1e-4,
		MaxStepSize: 0.5,
		Benchmarker: &tickingBenchmarker{},
		LogRealtime: false,
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer ctx.Clean()
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, v := range sub.Column("engine.realtime") {
		if v != 0 {
			t.Fatalf("expected engine.realtime pinned to 0 with LogRealtime disabled, got %v", sub.Column("engine.realtime"))
		}
	}
}

func TestInitRejectsConcurrentRuns(t *testing.T) {
	def := model.BeelerReuter()
	base := Options{
		Definition:  def,
		TMin:        0,
		TMax:        1,
		State:       append([]float64(nil), def.DefaultStates...),
		Protocols:   []Protocol{stimulusProtocol()},
		Benchmarker: fixedBenchmarker{},
	}
	a := New()
	if err := a.Init(base); err != nil {
		t.Fatalf("Init a: %v", err)
	}
	defer a.Clean()

	b := New()
	if err := b.Init(base); err == nil {
		t.Fatal("expected second concurrent Init to fail")
	}
}

func TestStepBeforeInitFails(t *testing.T) {
	ctx := New()
	if _, _, err := ctx.Step(context.Background()); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRunUnstimulatedCellStaysAtRest(t *testing.T) {
	sub := logging.NewSubstrate()
	def := model.BeelerReuter()
	opts := Options{
		Definition: def,
		TMin:       0,
		TMax:       1000,
		State:      append([]float64(nil), def.DefaultStates...),
		Protocols:  []Protocol{{Kind: ProtocolEvent}},
		LogDescriptor: map[string]model.Sink{
			"engine.time": sub.Bind("engine.time"),
			"membrane.V":  sub.Bind("membrane.V"),
		},
		LogInterval: 1.0,
		AbsTol:      1e-8,
		RelTol:      1e-8,
		MaxStepSize: 1.0,
		Benchmarker: fixedBenchmarker{},
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer ctx.Clean()
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v := sub.Column("membrane.V")
	if len(v) == 0 {
		t.Fatal("expected at least one logged point")
	}
	const rest = -84.5286
	for i, vv := range v {
		if diff := vv - rest; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("log point %d: membrane.V = %v, want within 1e-6 of %v", i, vv, rest)
		}
	}
}

func TestRunPeriodicLoggingInterpolatesSensitivitiesWithinAStep(t *testing.T) {
	def := model.BeelerReuter()
	matrixSink := logging.NewMemoryMatrixSink()
	// A perturbation of the resting membrane.V state, with no stimulus
	// applied: the trajectory relaxes smoothly back toward rest, so the
	// adaptive stepper takes large accepted steps that comfortably span
	// several LogInterval-spaced log points, forcing emitLogs to interpolate
	// with ctx.solver.DenseOutput more than once per step.
	sState := [][]float64{make([]float64, def.NStates())}
	sState[0][0] = 1
	state := append([]float64(nil), def.DefaultStates...)
	state[0] += 5
	opts := Options{
		Definition:   def,
		TMin:         0,
		TMax:         5,
		State:        state,
		Protocols:    []Protocol{{Kind: ProtocolEvent}},
		Independents: []model.Independent{{Kind: model.IndependentState, Slot: 0}},
		SState:       sState,
		SensSink:     matrixSink,
		LogInterval:  1.0,
		AbsTol:       1e-3,
		RelTol:       1e-2,
		MaxStepSize:  5.0,
		Benchmarker:  fixedBenchmarker{},
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ctx.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if len(matrixSink.Snapshots) != 5 {
		t.Fatalf("expected 5 periodic sensitivity snapshots (0..4, tmax excluded), got %d", len(matrixSink.Snapshots))
	}
	seen := make(map[string]bool)
	for i, snap := range matrixSink.Snapshots {
		if len(snap) != def.NIntermediary() {
			t.Fatalf("snapshot %d: expected %d dependent rows, got %d", i, def.NIntermediary(), len(snap))
		}
		key := formatMatrix(snap)
		if seen[key] {
			t.Fatalf("snapshot %d duplicates an earlier one; interpolated log points must not reuse the stale end-of-step sensitivity matrix", i)
		}
		seen[key] = true
	}
}

func formatMatrix(rows [][]float64) string {
	s := ""
	for _, row := range rows {
		for _, v := range row {
			s += fmt.Sprintf("%.12g,", v)
		}
	}
	return s
}

func TestRunWithForwardSensitivities(t *testing.T) {
	def := model.BeelerReuter()
	matrixSink := logging.NewMemoryMatrixSink()
	sState := [][]float64{make([]float64, def.NStates())}
	opts := Options{
		Definition:   def,
		TMin:         0,
		TMax:         2,
		State:        append([]float64(nil), def.DefaultStates...),
		Protocols:    []Protocol{stimulusProtocol()},
		Independents: []model.Independent{{Kind: model.IndependentParameter, Slot: 0}},
		SState:       sState,
		SensSink:     matrixSink,
		AbsTol:       1e-6,
		RelTol:       1e-4,
		MaxStepSize:  0.5,
		Benchmarker:  fixedBenchmarker{},
	}
	ctx := New()
	if err := ctx.Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := ctx.Run(context.Background(), 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ctx.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(matrixSink.Snapshots) == 0 {
		t.Fatal("expected at least one logged sensitivity snapshot")
	}
	last := matrixSink.Snapshots[len(matrixSink.Snapshots)-1]
	if len(last) != def.NIntermediary() {
		t.Fatalf("expected %d dependent rows, got %d", def.NIntermediary(), len(last))
	}
}
