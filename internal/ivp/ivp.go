// Package ivp is the solver façade spec.md §4.4 describes: a stiff BDF
// integrator with Newton nonlinear iteration and a dense direct linear
// solve, forward sensitivities, and single-function root finding, wrapped
// behind init/one-step-advance/dense-output/root-init/sensitivity-init/
// reinit exactly as the spec assumes a black-box stiff library exposes.
//
// The dense linear algebra is gonum/mat, the same library hammal-GoCBC and
// (transitively, via gonum.org/v1/gonum/plot) RuiCat-circuit pull in for
// their own dense solves. The BDF coefficient tables are the classical
// fixed-coefficient BDF1/BDF2 formulas also tabulated in edp1096's
// toy-spice BackwardDifferentialFormula table, adapted here from a
// nodal-charge corrector to a general first-order ODE corrector.
package ivp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sentinel solver errors, mapped by the driver to the generic engine or
// arithmetic error categories in spec.md §7.
var (
	ErrConvergenceFailure = errors.New("ivp: newton iteration failed to converge")
	ErrTooCloseTimes      = errors.New("ivp: requested step time too close to current time")
	ErrIllegalInput       = errors.New("ivp: illegal input")
	ErrRepeatedRHSError   = errors.New("ivp: repeated right-hand-side evaluation error")
)

// Config holds user-tunable tolerances and step-size bounds. Zero MaxStep
// or MinStep means unbounded, matching spec.md §4.4.
type Config struct {
	AbsTol  float64
	RelTol  float64
	MaxStep float64
	MinStep float64
}

// DefaultConfig returns the spec's default tolerances (1e-6 absolute,
// 1e-4 relative) with unbounded step size.
func DefaultConfig() Config {
	return Config{AbsTol: 1e-6, RelTol: 1e-4}
}

// Statistics are the solver's diagnostic counters; the driver's
// number_of_steps entry point reads Steps (number_of_evaluations reads the
// Model's own evaluation counter, not Evaluations).
type Statistics struct {
	Steps          int
	RejectedSteps  int
	Evaluations    int
	LastStep       float64
	NextStep       float64
}

// RHS is the right-hand side the solver advances: y' = f(t, y).
type RHS interface {
	Dim() int
	Derive(t float64, y []float64, dy []float64)
}

// RootEvent is one recorded crossing of the solver's scalar root function.
type RootEvent struct {
	Time      float64
	Direction int // -1 or +1
}

// Solver is the BDF + dense Newton stiff integrator façade.
type Solver struct {
	rhs RHS
	cfg Config
	n   int

	t, tPrev   float64
	y, yPrev   []float64
	f, fPrev   []float64 // derivative at (t,y) and (tPrev,yPrev), for Hermite dense output
	haveHist   bool       // whether (tPrev,yPrev,fPrev) is a real prior step, or the solver just (re)initialized
	h          float64

	stats Statistics

	rootEnabled   bool
	rootIndex     int
	rootThreshold float64
	gPrev         float64

	sens         *sensitivityState
}

// New creates a Solver over rhs with y0 as the initial condition at t0.
func New(rhs RHS, t0 float64, y0 []float64, cfg Config) (*Solver, error) {
	if rhs == nil || rhs.Dim() != len(y0) {
		return nil, ErrIllegalInput
	}
	if cfg.AbsTol <= 0 {
		cfg.AbsTol = 1e-6
	}
	if cfg.RelTol <= 0 {
		cfg.RelTol = 1e-4
	}
	s := &Solver{
		rhs: rhs,
		cfg: cfg,
		n:   rhs.Dim(),
		t:   t0,
		y:   append([]float64(nil), y0...),
		f:   make([]float64, len(y0)),
	}
	rhs.Derive(t0, s.y, s.f)
	s.stats.Evaluations++
	s.h = s.initialStep()
	return s, nil
}

func (s *Solver) initialStep() float64 {
	h := 0.01
	if s.cfg.MaxStep > 0 && h > s.cfg.MaxStep {
		h = s.cfg.MaxStep
	}
	return h
}

// T returns the solver's current time.
func (s *Solver) T() float64 { return s.t }

// Y returns the solver's current state.
func (s *Solver) Y() []float64 { return s.y }

// Statistics returns a snapshot of the diagnostic counters.
func (s *Solver) Statistics() Statistics {
	st := s.stats
	st.LastStep = s.h
	st.NextStep = s.h
	return st
}

// SetTolerance updates the absolute/relative error tolerances used by
// subsequent Step calls (spec.md §6's set_tolerance entry point).
func (s *Solver) SetTolerance(abs, rel float64) {
	if abs > 0 {
		s.cfg.AbsTol = abs
	}
	if rel > 0 {
		s.cfg.RelTol = rel
	}
}

// SetMaxStepSize bounds the internal step size from above; 0 clears the
// bound.
func (s *Solver) SetMaxStepSize(dt float64) {
	s.cfg.MaxStep = dt
	if dt > 0 && s.h > dt {
		s.h = dt
	}
}

// SetMinStepSize bounds the internal step size from below; 0 clears the
// bound.
func (s *Solver) SetMinStepSize(dt float64) {
	s.cfg.MinStep = dt
}

// SetRootFunction installs the single scalar root g(t,y) = y[index] -
// threshold (spec.md §4.4).
func (s *Solver) SetRootFunction(index int, threshold float64) error {
	if index < 0 || index >= s.n {
		return ErrIllegalInput
	}
	s.rootEnabled = true
	s.rootIndex = index
	s.rootThreshold = threshold
	s.gPrev = s.y[index] - threshold
	return nil
}

// Reinit resets the solver's time and state after a driver-forced rewind
// (a pacing discontinuity), discarding step history so the next step does
// not blend across the discontinuity.
func (s *Solver) Reinit(t float64, y []float64) error {
	if len(y) != s.n {
		return ErrIllegalInput
	}
	s.t = t
	copy(s.y, y)
	s.haveHist = false
	s.rhs.Derive(t, s.y, s.f)
	s.stats.Evaluations++
	if s.rootEnabled {
		s.gPrev = s.y[s.rootIndex] - s.rootThreshold
	}
	if s.sens != nil {
		s.sens.havePrevSy = false
	}
	return nil
}

// Step advances the solver one internal BDF step from its current time
// toward tNext. The step size is clamped to tNext - t, so the returned
// time never passes tNext and no dense-output rewind is needed.
func (s *Solver) Step(tNext float64) (tReached float64, root *RootEvent, err error) {
	if tNext <= s.t {
		return s.t, nil, ErrTooCloseTimes
	}
	h := s.h
	if remaining := tNext - s.t; h > remaining {
		h = remaining
	}
	if s.cfg.MaxStep > 0 && h > s.cfg.MaxStep {
		h = s.cfg.MaxStep
	}

	const maxRetries = 12
	for attempt := 0; attempt < maxRetries; attempt++ {
		if s.cfg.MinStep > 0 && h < s.cfg.MinStep {
			return s.t, nil, fmt.Errorf("%w: step size %.3e below minimum %.3e", ErrConvergenceFailure, h, s.cfg.MinStep)
		}
		yNew, fNew, ok, errEst := s.tryStep(h)
		if !ok {
			h *= 0.5
			s.stats.RejectedSteps++
			continue
		}
		tol := s.cfg.RelTol*normInf(yNew) + s.cfg.AbsTol
		if errEst > tol {
			h *= math.Max(0.2, 0.9*math.Pow(tol/errEst, 0.5))
			s.stats.RejectedSteps++
			continue
		}

		// accept step
		tOld, yOld, fOld := s.t, append([]float64(nil), s.y...), append([]float64(nil), s.f...)
		if s.sens != nil {
			s.sens.advance(s, tOld, yOld, h)
		}
		s.tPrev, s.yPrev, s.fPrev = tOld, yOld, fOld
		s.haveHist = true
		s.t = tOld + h
		s.y = yNew
		s.f = fNew
		s.stats.Steps++
		s.h = h
		if errEst < tol/10 {
			grow := math.Min(5.0, 0.9*math.Pow(tol/math.Max(errEst, 1e-300), 0.2))
			s.h = h * grow
			if s.cfg.MaxStep > 0 && s.h > s.cfg.MaxStep {
				s.h = s.cfg.MaxStep
			}
		}

		if s.rootEnabled {
			g := s.y[s.rootIndex] - s.rootThreshold
			if (s.gPrev < 0 && g >= 0) || (s.gPrev > 0 && g <= 0) {
				dir := 1
				if g < s.gPrev {
					dir = -1
				}
				frac := s.gPrev / (s.gPrev - g)
				tRoot := tOld + frac*(s.t-tOld)
				root = &RootEvent{Time: tRoot, Direction: dir}
			}
			s.gPrev = g
		}
		return s.t, root, nil
	}
	return s.t, nil, fmt.Errorf("%w: exceeded %d step-size retries", ErrConvergenceFailure, maxRetries)
}

// tryStep attempts one BDF corrector step of size h, using BDF2 once
// step history is available and BDF1 (backward Euler) otherwise, solved by
// Newton iteration with a finite-difference Jacobian and gonum's dense LU.
// It also returns a local error estimate obtained by comparing against the
// embedded BDF1 prediction.
func (s *Solver) tryStep(h float64) (yNew, fNew []float64, ok bool, errEst float64) {
	tNew := s.t + h
	predBDF1 := make([]float64, s.n)
	copy(predBDF1, s.y) // backward-Euler predictor start point

	var rhsConst []float64 // sum_j alpha_j y_hist
	var beta float64
	if s.haveHist {
		// BDF2: y_new - (4/3)y_n + (1/3)y_{n-1} = (2/3) h f(t_new,y_new)
		rhsConst = make([]float64, s.n)
		for i := 0; i < s.n; i++ {
			rhsConst[i] = (4.0/3.0)*s.y[i] - (1.0/3.0)*s.yPrev[i]
		}
		beta = 2.0 / 3.0
	} else {
		// BDF1: y_new - y_n = h f(t_new, y_new)
		rhsConst = append([]float64(nil), s.y...)
		beta = 1.0
	}

	y := append([]float64(nil), s.y...)
	fy := make([]float64, s.n)
	const newtonTol = 1e-10
	const maxNewton = 8
	converged := false
	for it := 0; it < maxNewton; it++ {
		s.rhs.Derive(tNew, y, fy)
		s.stats.Evaluations++
		res := make([]float64, s.n)
		for i := 0; i < s.n; i++ {
			res[i] = y[i] - rhsConst[i] - h*beta*fy[i]
		}
		if normInf(res) < newtonTol {
			converged = true
			break
		}
		J := s.jacobian(tNew, y, fy, h*beta)
		dy := mat.NewVecDense(s.n, nil)
		var lu mat.LU
		lu.Factorize(J)
		b := mat.NewVecDense(s.n, res)
		if err := lu.SolveVecTo(dy, false, b); err != nil {
			return nil, nil, false, 0
		}
		for i := 0; i < s.n; i++ {
			y[i] -= dy.AtVec(i)
		}
	}
	if !converged {
		return nil, nil, false, 0
	}
	s.rhs.Derive(tNew, y, fy)
	s.stats.Evaluations++

	// embedded BDF1 estimate for error control
	fPred := make([]float64, s.n)
	s.rhs.Derive(tNew, predBDF1, fPred)
	for i := 0; i < s.n; i++ {
		predBDF1[i] = s.y[i] + h*fPred[i]
	}
	diff := make([]float64, s.n)
	for i := range diff {
		diff[i] = y[i] - predBDF1[i]
	}
	return y, fy, true, normInf(diff)
}

// jacobian builds I - hBeta * df/dy via forward finite differences, the
// dense direct linear solve target for the Newton corrector.
func (s *Solver) jacobian(t float64, y, f0 []float64, hBeta float64) *mat.Dense {
	n := s.n
	J := mat.NewDense(n, n, nil)
	yp := append([]float64(nil), y...)
	fp := make([]float64, n)
	for j := 0; j < n; j++ {
		eps := 1e-7 * math.Max(1.0, math.Abs(y[j]))
		yp[j] = y[j] + eps
		s.rhs.Derive(t, yp, fp)
		s.stats.Evaluations++
		yp[j] = y[j]
		for i := 0; i < n; i++ {
			dfdy := (fp[i] - f0[i]) / eps
			v := -hBeta * dfdy
			if i == j {
				v += 1
			}
			J.Set(i, j, v)
		}
	}
	return J
}

func normInf(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// DenseOutput interpolates state (and, when sensitivities are enabled,
// state-sensitivities) at t inside the most recently accepted step, using
// a cubic Hermite blend of the two most recent accepted (t,y,y') triples.
// This approximates CVODES' true polynomial dense output; see DESIGN.md
// for why an exact reproduction is out of scope for a from-scratch solver.
func (s *Solver) DenseOutput(t float64) (y []float64, sy [][]float64) {
	if !s.haveHist {
		return append([]float64(nil), s.y...), s.denseSy(1.0)
	}
	h := s.t - s.tPrev
	theta := (t - s.tPrev) / h
	y = make([]float64, s.n)
	for i := 0; i < s.n; i++ {
		y0, y1 := s.yPrev[i], s.y[i]
		f0, f1 := s.fPrev[i]*h, s.f[i]*h
		h00 := 2*theta*theta*theta - 3*theta*theta + 1
		h10 := theta*theta*theta - 2*theta*theta + theta
		h01 := -2*theta*theta*theta + 3*theta*theta
		h11 := theta*theta*theta - theta*theta
		y[i] = h00*y0 + h10*f0 + h01*y1 + h11*f1
	}
	return y, s.denseSy(theta)
}
