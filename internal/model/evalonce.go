package model

// EvalOnce is the external eval_derivatives entry point (spec.md §6):
// a one-shot RHS evaluation on a scratch Model, without disturbing any
// running simulation's state.
func EvalOnce(def Definition, t float64, pace, states, literals, parameters []float64) (deriv []float64, err error) {
	m, err := New(def)
	if err != nil {
		return nil, err
	}
	if len(literals) > 0 {
		if err := m.SetLiterals(literals); err != nil {
			return nil, err
		}
	}
	if len(parameters) > 0 {
		if err := m.SetParameters(parameters); err != nil {
			return nil, err
		}
	}
	if err := m.SetStates(states); err != nil {
		return nil, err
	}
	if err := m.SetBound(t, pace, 0, 0); err != nil {
		return nil, err
	}
	if err := m.EvaluateDerivatives(); err != nil {
		return nil, err
	}
	out := make([]float64, len(m.derivatives))
	copy(out, m.derivatives)
	return out, nil
}
