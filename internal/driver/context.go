package driver

import (
	"context"
	"math"
	"sync"

	"github.com/myokit/beta/internal/ivp"
	"github.com/myokit/beta/internal/model"
	"github.com/myokit/beta/internal/pacing"
)

type runState int

const (
	stateIdle runState = iota
	stateInitialized
	stateRunning
)

type logMode int

const (
	logDynamic logMode = iota
	logPeriodic
	logPointList
)

// only one SimulationContext may be INITIALIZED at a time process-wide,
// mirroring the single global CVODES memory block the source assumes
// (spec.md §5).
var (
	singletonMu sync.Mutex
	activeRun   *SimulationContext
)

// SimulationContext is the IDLE/INITIALIZED/RUNNING/CLEANED state machine
// composing Model, pacing and the solver façade into one run (spec.md
// §4.5). The zero value is ready to Init.
type SimulationContext struct {
	state runState
	opts  Options

	m      *model.Model
	solver *ivp.Solver
	multi  *pacing.Multi
	pace   []float64

	ode         bool
	sensEnabled bool
	hasLog      bool

	mode     logMode
	logIdx   int
	logCount int
	nextLogT float64

	tnext float64
	tlast float64

	zeroSteps int
	iterCount int

	bench    Benchmarker
	realtime func() float64
}

// New returns an uninitialized SimulationContext.
func New() *SimulationContext {
	return &SimulationContext{}
}

func eps(tmax float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(tmax))
}

// Init transitions IDLE -> INITIALIZED: it builds the Model, the pacing
// systems, and (for models with state) the solver, binds logging, and
// primes the first logged point at tmin.
func (ctx *SimulationContext) Init(opts Options) error {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if activeRun != nil {
		return ErrAlreadyRunning
	}
	if ctx.state != stateIdle {
		return ErrAlreadyRunning
	}

	switch {
	case opts.LogInterval > 0:
		if opts.TMax+opts.LogInterval == opts.TMax {
			return ErrPrecisionInsufficient
		}
		ctx.mode = logPeriodic
	case len(opts.LogTimes) > 0:
		ctx.mode = logPointList
	default:
		ctx.mode = logDynamic
	}

	bench := opts.Benchmarker
	if bench == nil {
		bench = NewRealBenchmarker()
	}
	ctx.bench = bench
	if opts.LogRealtime {
		ctx.realtime = bench.Now
	} else {
		ctx.realtime = func() float64 { return 0 }
	}

	m, err := model.New(opts.Definition)
	if err != nil {
		return err
	}
	if len(opts.Literals) > 0 {
		if err := m.SetLiterals(opts.Literals); err != nil {
			return err
		}
	}
	if len(opts.Parameters) > 0 {
		if err := m.SetParameters(opts.Parameters); err != nil {
			return err
		}
	}
	if err := m.SetStates(opts.State); err != nil {
		return err
	}

	systems := make([]pacing.System, len(opts.Protocols))
	for i, p := range opts.Protocols {
		sys, err := p.build()
		if err != nil {
			return err
		}
		systems[i] = sys
	}
	multi := pacing.NewMulti(systems)
	if err := m.SetupPacing(len(systems)); err != nil {
		return err
	}
	pace := make([]float64, len(systems))
	multi.Advance(opts.TMin)
	multi.Levels(pace)
	m.SetBound(opts.TMin, pace, ctx.realtime(), 0)

	ctx.ode = opts.Definition.NStates() > 0
	ctx.sensEnabled = len(opts.Independents) > 0 && len(opts.SState) > 0
	if ctx.sensEnabled {
		m.EnableSensitivities(opts.Independents)
		for i, row := range opts.SState {
			if err := m.SetStateSensitivities(i, row); err != nil {
				return err
			}
		}
	}

	var solver *ivp.Solver
	if ctx.ode {
		cfg := ivp.Config{
			AbsTol:  opts.AbsTol,
			RelTol:  opts.RelTol,
			MaxStep: opts.MaxStepSize,
			MinStep: opts.MinStepSize,
		}
		rhs := &rhsAdapter{m: m, multi: multi, pace: pace, realtime: ctx.realtime}
		solver, err = ivp.New(rhs, opts.TMin, append([]float64(nil), opts.State...), cfg)
		if err != nil {
			return err
		}
		if ctx.sensEnabled {
			sens := &sensAdapter{m: m, multi: multi, pace: pace, realtime: ctx.realtime}
			if err := solver.EnableSensitivities(sens, opts.SState); err != nil {
				return err
			}
		}
		if opts.RFSink != nil {
			if err := solver.SetRootFunction(opts.RFIndex, opts.RFThreshold); err != nil {
				return err
			}
		}
	}

	ctx.hasLog = len(opts.LogDescriptor) > 0
	if ctx.hasLog {
		if err := m.InitializeLogging(opts.LogDescriptor); err != nil {
			return err
		}
	}

	ctx.opts = opts
	ctx.m = m
	ctx.multi = multi
	ctx.pace = pace
	ctx.solver = solver
	ctx.tnext = multi.NextDiscontinuity(opts.TMax)
	ctx.tlast = opts.TMin
	ctx.logIdx = 0
	ctx.logCount = 0
	ctx.nextLogT = opts.TMin

	var initSy [][]float64
	if ctx.sensEnabled {
		initSy = opts.SState
	}
	// Dynamic mode only, and only when the bound sinks are still empty: a
	// simulation stopped and restarted into the same sinks (append-to-log)
	// must not double-log the tmin point.
	if ctx.mode == logDynamic && (!ctx.hasLog || ctx.m.LogIsEmpty()) {
		if err := ctx.emitLogs(opts.TMin-1, opts.TMin, nil, initSy); err != nil {
			return err
		}
	}

	ctx.state = stateInitialized
	activeRun = ctx
	return nil
}

// logAt binds t (and, for an ODE model, the dense-output state y — nil
// means "use the model's currently-set state") into Model, evaluating
// derivatives only when a bound log variable requires them (spec.md §4.5
// step 7), then appends every bound variable and, if enabled, the
// sensitivity-of-output matrix.
func (ctx *SimulationContext) logAt(t float64, y []float64, sy [][]float64) error {
	if y != nil {
		ctx.m.SetStates(y)
	}
	ctx.multi.Advance(t)
	ctx.multi.Levels(ctx.pace)
	ctx.m.SetBound(t, ctx.pace, ctx.realtime(), ctx.m.Bound().Evaluations)
	if ctx.hasLog {
		if ctx.m.HasDerivedLogVariable() {
			if err := ctx.m.EvaluateDerivatives(); err != nil {
				return err
			}
		}
		if err := ctx.m.Log(); err != nil {
			return err
		}
	}
	if ctx.sensEnabled && ctx.opts.SensSink != nil && sy != nil {
		for i, row := range sy {
			if err := ctx.m.SetStateSensitivities(i, row); err != nil {
				return err
			}
		}
		if err := ctx.m.EvaluateSensitivityOutputs(); err != nil {
			return err
		}
		if err := ctx.m.LogSensitivityMatrix(ctx.opts.SensSink); err != nil {
			return err
		}
	}
	return nil
}

// emitLogs runs the logging for the interval just covered by one accepted
// step ending at to, per the selected logging mode: dynamic mode logs to
// itself; periodic and point-list modes log every pending log time strictly
// before to, so to itself is left for a later step (and tmax is never
// logged). The from argument is not used.
func (ctx *SimulationContext) emitLogs(from, to float64, y []float64, sy [][]float64) error {
	e := eps(ctx.opts.TMax)
	switch ctx.mode {
	case logDynamic:
		return ctx.logAt(to, y, sy)
	case logPeriodic:
		// Strict: tnext_log < t. The final log point at tmax must never be
		// included, even when log_interval evenly divides tmax.
		for to-ctx.nextLogT > e {
			yAt, syAt := y, sy
			if yAt != nil && math.Abs(ctx.nextLogT-to) > e && ctx.ode {
				yAt, syAt = ctx.solver.DenseOutput(ctx.nextLogT)
			}
			if err := ctx.logAt(ctx.nextLogT, yAt, syAt); err != nil {
				return err
			}
			ctx.logCount++
			next := ctx.opts.TMin + float64(ctx.logCount)*ctx.opts.LogInterval
			if next <= ctx.nextLogT {
				return ErrLogIndexOverflow
			}
			ctx.nextLogT = next
		}
	case logPointList:
		// Strict for the same reason as the periodic case; log_times
		// ordering is checked incrementally as each entry is consumed,
		// not up front, so a run only fails once it actually reaches the
		// out-of-order entry.
		for ctx.logIdx < len(ctx.opts.LogTimes) && to-ctx.opts.LogTimes[ctx.logIdx] > e {
			if ctx.logIdx > 0 && ctx.opts.LogTimes[ctx.logIdx] < ctx.opts.LogTimes[ctx.logIdx-1] {
				return ErrLogTimesNotMonotonic
			}
			tt := ctx.opts.LogTimes[ctx.logIdx]
			yAt, syAt := y, sy
			if yAt != nil && math.Abs(tt-to) > e && ctx.ode {
				yAt, syAt = ctx.solver.DenseOutput(tt)
			}
			if err := ctx.logAt(tt, yAt, syAt); err != nil {
				return err
			}
			ctx.logIdx++
		}
	}
	return nil
}

// Step advances the simulation by one internal solver step (or, for a
// model with no state, one jump to the next pacing boundary), logging every
// point that interval covers and reporting whether tmax has been reached.
// On any error, including a cancelled hostCtx, Step releases the run with
// Clean before returning the error.
func (ctx *SimulationContext) Step(hostCtx context.Context) (t float64, done bool, err error) {
	if ctx.state == stateIdle {
		return 0, false, ErrNotInitialized
	}
	if hostCtx != nil {
		select {
		case <-hostCtx.Done():
			tl := ctx.tlast
			ctx.Clean()
			return tl, false, hostCtx.Err()
		default:
		}
	}
	if ctx.tlast >= ctx.opts.TMax-eps(ctx.opts.TMax) {
		return ctx.tlast, true, nil
	}

	ctx.state = stateRunning
	if ctx.ode {
		t, done, err = ctx.stepODE()
	} else {
		t, done, err = ctx.stepAlgebraic()
	}
	ctx.state = stateInitialized
	if err != nil {
		ctx.Clean()
	}
	return t, done, err
}

func (ctx *SimulationContext) stepODE() (t float64, done bool, err error) {
	tBefore := ctx.solver.T()
	tReached, root, stepErr := ctx.solver.Step(ctx.tnext)
	if stepErr != nil {
		return tBefore, false, stepErr
	}
	if tReached == tBefore {
		ctx.zeroSteps++
		if ctx.zeroSteps >= maxConsecutiveZeroSteps {
			return tBefore, false, SimError{Time: tBefore, Step: ctx.solver.Statistics().Steps, Message: "exceeded maximum consecutive zero-length steps"}
		}
	} else {
		ctx.zeroSteps = 0
	}

	// Step never overshoots ctx.tnext (it is passed as the step's target),
	// so reaching a pacing boundary shows up as an exact-equality hit here
	// rather than requiring a dense-output rewind.
	reportT := tReached
	y := ctx.solver.Y()
	var sy [][]float64
	if ctx.sensEnabled {
		sy = ctx.solver.SensitivityMatrix()
	}
	crossedBoundary := tReached >= ctx.tnext-eps(ctx.opts.TMax) && ctx.tnext < ctx.opts.TMax-eps(ctx.opts.TMax)

	if root != nil && ctx.opts.RFSink != nil {
		if err := ctx.opts.RFSink.AppendRoot(root.Time, root.Direction); err != nil {
			return reportT, false, err
		}
	}

	if err := ctx.emitLogs(ctx.tlast, reportT, y, sy); err != nil {
		return reportT, false, err
	}
	ctx.tlast = reportT
	ctx.iterCount++

	if crossedBoundary {
		ctx.multi.Advance(ctx.tnext)
		ctx.multi.Levels(ctx.pace)
		if err := ctx.solver.Reinit(ctx.tnext, y); err != nil {
			return reportT, false, err
		}
		if ctx.sensEnabled {
			if err := ctx.solver.ReinitSensitivities(sy); err != nil {
				return reportT, false, err
			}
		}
		ctx.tnext = ctx.multi.NextDiscontinuity(ctx.opts.TMax)
	}

	if reportT >= ctx.opts.TMax-eps(ctx.opts.TMax) {
		ctx.finalize(reportT, y, sy)
		return reportT, true, nil
	}
	return reportT, false, nil
}

func (ctx *SimulationContext) stepAlgebraic() (t float64, done bool, err error) {
	tJump := math.Min(ctx.tnext, ctx.opts.TMax)
	ctx.multi.Advance(tJump)
	ctx.multi.Levels(ctx.pace)
	ctx.m.SetBound(tJump, ctx.pace, ctx.realtime(), ctx.m.Bound().Evaluations)
	if err := ctx.emitLogs(ctx.tlast, tJump, nil, nil); err != nil {
		return tJump, false, err
	}
	ctx.tlast = tJump
	ctx.iterCount++
	if tJump < ctx.opts.TMax {
		ctx.tnext = ctx.multi.NextDiscontinuity(ctx.opts.TMax)
	}
	if tJump >= ctx.opts.TMax-eps(ctx.opts.TMax) {
		ctx.finalize(tJump, nil, nil)
		return tJump, true, nil
	}
	return tJump, false, nil
}

// finalize writes the final state, sensitivity matrix, and bound outputs
// back into Options' in/out fields, per spec.md §4.5's finalization step.
func (ctx *SimulationContext) finalize(t float64, y []float64, sy [][]float64) {
	if y != nil {
		copy(ctx.opts.State, y)
	} else {
		copy(ctx.opts.State, ctx.m.States())
	}
	if ctx.sensEnabled && sy != nil {
		for i, row := range sy {
			if i < len(ctx.opts.SState) {
				copy(ctx.opts.SState[i], row)
			}
		}
	}
}

// Run drives Step to completion, calling progress (if non-nil) every
// progressEvery completed iterations — the Go rendition of the periodic
// host yield point spec.md §4.5 requires so a long run stays interruptible.
func (ctx *SimulationContext) Run(hostCtx context.Context, progressEvery int, progress func(t float64)) error {
	for {
		t, done, err := ctx.Step(hostCtx)
		if err != nil {
			return err
		}
		if progress != nil && progressEvery > 0 && ctx.iterCount%progressEvery == 0 {
			progress(t)
		}
		if done {
			return nil
		}
	}
}

// Clean transitions back to IDLE, releasing the process-wide run slot.
func (ctx *SimulationContext) Clean() error {
	if ctx.state == stateIdle {
		return ErrNotInitialized
	}
	singletonMu.Lock()
	if activeRun == ctx {
		activeRun = nil
	}
	singletonMu.Unlock()
	if ctx.hasLog {
		ctx.m.DeinitializeLogging()
	}
	ctx.state = stateIdle
	ctx.m = nil
	ctx.solver = nil
	ctx.multi = nil
	return nil
}

// SetTolerance updates the solver's error tolerances immediately if a run
// is active. The values are also written into the context's stored
// Options, but Init replaces those with the Options it is given, so a
// call made before Init does not carry over into the next run.
func (ctx *SimulationContext) SetTolerance(abs, rel float64) {
	ctx.opts.AbsTol, ctx.opts.RelTol = abs, rel
	if ctx.solver != nil {
		ctx.solver.SetTolerance(abs, rel)
	}
}

// SetMaxStepSize is the set_max_step_size external entry point.
func (ctx *SimulationContext) SetMaxStepSize(dt float64) {
	ctx.opts.MaxStepSize = dt
	if ctx.solver != nil {
		ctx.solver.SetMaxStepSize(dt)
	}
}

// SetMinStepSize is the set_min_step_size external entry point.
func (ctx *SimulationContext) SetMinStepSize(dt float64) {
	ctx.opts.MinStepSize = dt
	if ctx.solver != nil {
		ctx.solver.SetMinStepSize(dt)
	}
}

// NumberOfSteps is the number_of_steps external entry point; 0 for an
// algebraic model with no solver.
func (ctx *SimulationContext) NumberOfSteps() int {
	if ctx.solver == nil {
		return 0
	}
	return ctx.solver.Statistics().Steps
}

// NumberOfEvaluations is the number_of_evaluations external entry point.
func (ctx *SimulationContext) NumberOfEvaluations() int64 {
	if ctx.m == nil {
		return 0
	}
	return ctx.m.Bound().Evaluations
}
