package driver

import "github.com/myokit/beta/internal/model"

// EvalDerivatives is the eval_derivatives external entry point (spec.md
// §6): a one-shot RHS evaluation that never touches a running simulation's
// state, delegating to the Model package's own scratch-instance evaluator.
func EvalDerivatives(def model.Definition, t float64, pace, states, literals, parameters []float64) ([]float64, error) {
	return model.EvalOnce(def, t, pace, states, literals, parameters)
}
