package ivp

// SensRHS computes the forward-sensitivity ODE's right-hand side for one
// independent variable: d(sy_j)/dt = J(t,y)*sy_j + df/dp_j, using the
// internal difference quotient the corrector's own RHS is evaluated with
// (spec.md §4.4's "internal-difference RHS").
type SensRHS interface {
	DeriveSensitivity(t float64, y []float64, syj []float64, independent int, out []float64)
}

type sensitivityState struct {
	rhs        SensRHS
	nIndep     int
	sy         [][]float64 // nIndep x n, current
	syPrev     [][]float64
	havePrevSy bool
}

// EnableSensitivities arms forward sensitivity propagation for len(sy0)
// independents, using rhs to evaluate each sensitivity ODE.
// sy0 is the initial ns_independents x n_states matrix.
func (s *Solver) EnableSensitivities(rhs SensRHS, sy0 [][]float64) error {
	if len(sy0) == 0 {
		return ErrIllegalInput
	}
	st := &sensitivityState{rhs: rhs, nIndep: len(sy0)}
	st.sy = make([][]float64, len(sy0))
	for i, row := range sy0 {
		if len(row) != s.n {
			return ErrIllegalInput
		}
		st.sy[i] = append([]float64(nil), row...)
	}
	s.sens = st
	return nil
}

// ReinitSensitivities resets the sensitivity matrix after a driver-forced
// rewind, discarding sensitivity step history.
func (s *Solver) ReinitSensitivities(sy [][]float64) error {
	if s.sens == nil {
		return ErrIllegalInput
	}
	if len(sy) != s.sens.nIndep {
		return ErrIllegalInput
	}
	for i, row := range sy {
		copy(s.sens.sy[i], row)
	}
	s.sens.havePrevSy = false
	return nil
}

// SensitivityMatrix returns the current ns_independents x n_states matrix,
// or nil if sensitivities are not enabled.
func (s *Solver) SensitivityMatrix() [][]float64 {
	if s.sens == nil {
		return nil
	}
	return s.sens.sy
}

// advance propagates every sensitivity row across a just-accepted step of
// size h from (tOld, yOld), using explicit Euler on the internal-DQ
// sensitivity RHS — a staggered-corrector simplification of CVODES'
// simultaneous corrector, documented in DESIGN.md.
func (st *sensitivityState) advance(s *Solver, tOld float64, yOld []float64, h float64) {
	next := make([][]float64, st.nIndep)
	out := make([]float64, s.n)
	for j := 0; j < st.nIndep; j++ {
		st.rhs.DeriveSensitivity(tOld, yOld, st.sy[j], j, out)
		row := make([]float64, s.n)
		for i := 0; i < s.n; i++ {
			row[i] = st.sy[j][i] + h*out[i]
		}
		next[j] = row
	}
	st.syPrev = st.sy
	st.sy = next
	st.havePrevSy = true
}

// denseSy interpolates the sensitivity matrix at fractional position theta
// between the previous and current accepted sensitivity rows (linear —
// sensitivities are logged far less densely than state, so a linear blend
// is an acceptable approximation of the true dense output).
func (s *Solver) denseSy(theta float64) [][]float64 {
	if s.sens == nil {
		return nil
	}
	if !s.sens.havePrevSy {
		out := make([][]float64, s.sens.nIndep)
		for j := range out {
			out[j] = append([]float64(nil), s.sens.sy[j]...)
		}
		return out
	}
	out := make([][]float64, s.sens.nIndep)
	for j := range out {
		row := make([]float64, s.n)
		for i := 0; i < s.n; i++ {
			row[i] = s.sens.syPrev[j][i] + theta*(s.sens.sy[j][i]-s.sens.syPrev[j][i])
		}
		out[j] = row
	}
	return out
}
