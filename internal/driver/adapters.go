package driver

import "github.com/myokit/beta/internal/model"
import "github.com/myokit/beta/internal/pacing"

// rhsAdapter presents a Model driven by a composed pacing.Multi as an
// ivp.RHS, so the solver façade can advance the cell model without knowing
// anything about pacing or sensitivities.
type rhsAdapter struct {
	m       *model.Model
	multi   *pacing.Multi
	pace    []float64
	realtime func() float64
}

func (a *rhsAdapter) Dim() int { return len(a.m.States()) }

func (a *rhsAdapter) Derive(t float64, y, dy []float64) {
	a.multi.Advance(t)
	a.multi.Levels(a.pace)
	a.m.SetStates(y)
	a.m.SetBound(t, a.pace, a.realtime(), a.m.Bound().Evaluations)
	a.m.EvaluateDerivatives()
	copy(dy, a.m.Derivatives())
}

// sensAdapter presents the same Model as an ivp.SensRHS, evaluating each
// independent's sensitivity RHS with Model.DirectionalDerivative — the same
// kind of internal-difference quotient EvaluateSensitivityOutputs applies in
// its own loop, though with a step of sensitivityEps rather than its 1e-7
// (spec.md §4.4).
type sensAdapter struct {
	m        *model.Model
	multi    *pacing.Multi
	pace     []float64
	realtime func() float64
}

const sensitivityEps = 1e-6

func (a *sensAdapter) DeriveSensitivity(t float64, y []float64, syj []float64, independent int, out []float64) {
	a.multi.Advance(t)
	a.multi.Levels(a.pace)
	a.m.SetStates(y)
	a.m.SetBound(t, a.pace, a.realtime(), a.m.Bound().Evaluations)
	a.m.EvaluateDerivatives()
	base := a.m.Derivatives()

	independents := a.m.Independents()
	ref := independents[independent]
	perturbed := a.m.DirectionalDerivative(sensitivityEps, syj, ref)
	for i := range out {
		out[i] = (perturbed[i] - base[i]) / sensitivityEps
	}
}
