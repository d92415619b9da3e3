package model

// Bound groups the external inputs to a Model: simulation time, the
// current pacing vector, host wall-clock time, and the RHS evaluation
// counter. Mutating Bound.RealTime or Bound.Evaluations never invalidates
// the derivative cache; mutating Time or Pace always does (spec.md §4.1).
type Bound struct {
	Time        float64
	Pace        []float64
	RealTime    float64
	Evaluations int64
}

// IndependentKind distinguishes a sensitivity independent variable that
// refers to a parameter slot from one that refers to an initial-state slot
// — the tagged-index rendition of the source's raw pointer aliasing
// (spec.md §9).
type IndependentKind int

const (
	IndependentParameter IndependentKind = iota
	IndependentState
)

// Independent is one column of the sensitivity matrix: either "parameter
// Slot" or "initial state Slot", resolved at access time rather than
// carrying a live pointer.
type Independent struct {
	Kind IndependentKind
	Slot int
}

// Model owns all numerical state of one cell instance. A single Model has
// one logical lifecycle: New -> (configure inputs -> Evaluate*)* -> the
// Model is simply dropped (there is no destroy step in a garbage-collected
// host; SimulationContext.Clean releases the borrowed reference).
type Model struct {
	def Definition

	states      []float64
	derivatives []float64

	intermediary []float64

	bound Bound

	literals       []float64
	literalDerived []float64

	parameters       []float64
	parameterDerived []float64

	// sensitivity extension
	independents []Independent
	sStates      [][]float64 // len(independents) x NStates, row per independent
	sInter       [][]float64 // NIntermediary x len(independents), computed by EvaluateSensitivityOutputs

	// logging
	logInit  bool
	bindings []binding

	// cache: a monotonic version counter, bumped on any mutation that
	// invalidates derivatives; memoized versions record what was current
	// the last time each derivation ran. Purely a performance optimization
	// per spec.md §9 — correctness never depends on it.
	version         uint64
	derivVersion    uint64
	derivValid      bool
	sensVersion     uint64
	sensValid       bool
}

type binding struct {
	name  string
	get   func(m *Model) float64
	class VarClass
	sink  Sink
}

// New allocates a Model from a compiled-in Definition: default literals,
// literal-derived constants, default parameters, parameter-derived
// constants, and default initial states are all populated immediately.
func New(def Definition) (*Model, error) {
	if def.Derive == nil {
		return nil, ErrOutOfMemory
	}
	m := &Model{
		def:              def,
		states:           append([]float64(nil), def.DefaultStates...),
		derivatives:      make([]float64, def.NStates()),
		intermediary:     make([]float64, def.NIntermediary()),
		literals:         append([]float64(nil), def.DefaultLiterals...),
		parameters:       append([]float64(nil), def.DefaultParameters...),
		bound:            Bound{Pace: make([]float64, def.NPace)},
	}
	m.recomputeLiteralDerived()
	m.recomputeParameterDerived()
	m.version = 1
	return m, nil
}

func (m *Model) recomputeLiteralDerived() {
	if m.def.LiteralDerived != nil {
		m.literalDerived = m.def.LiteralDerived(m.literals)
	}
}

func (m *Model) recomputeParameterDerived() {
	if m.def.ParameterDerived != nil {
		m.parameterDerived = m.def.ParameterDerived(m.parameters)
	}
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetLiterals stores values if they differ from the current literal
// vector, and recomputes literal- and parameter-derived constants
// (parameter-derived may itself close over literal-derived values in a
// richer model, so both are refreshed together).
func (m *Model) SetLiterals(values []float64) error {
	if m == nil {
		return ErrInvalidModel
	}
	if floatsEqual(m.literals, values) {
		return nil
	}
	copy(m.literals, values)
	m.recomputeLiteralDerived()
	m.recomputeParameterDerived()
	m.invalidate()
	return nil
}

// SetParameters stores values if they differ from the current parameter
// vector and recomputes parameter-derived constants.
func (m *Model) SetParameters(values []float64) error {
	if m == nil {
		return ErrInvalidModel
	}
	if floatsEqual(m.parameters, values) {
		return nil
	}
	copy(m.parameters, values)
	m.recomputeParameterDerived()
	m.invalidate()
	return nil
}

// SetParametersFromIndependents extracts only the parameter-kind slots of
// indep (as addressed by m.independents) and applies them, ignoring any
// initial-state-kind slots.
func (m *Model) SetParametersFromIndependents(indep []float64) error {
	if m == nil {
		return ErrInvalidModel
	}
	next := append([]float64(nil), m.parameters...)
	changed := false
	for i, ref := range m.independents {
		if ref.Kind != IndependentParameter || i >= len(indep) {
			continue
		}
		if next[ref.Slot] != indep[i] {
			next[ref.Slot] = indep[i]
			changed = true
		}
	}
	if !changed {
		return nil
	}
	copy(m.parameters, next)
	m.recomputeParameterDerived()
	m.invalidate()
	return nil
}

// SetBound writes time, pacing vector, realtime and evaluation count.
// Only a change to time or pace invalidates the derivative cache.
func (m *Model) SetBound(t float64, pace []float64, realtime float64, evals int64) error {
	if m == nil {
		return ErrInvalidModel
	}
	if m.bound.Time != t || !floatsEqual(m.bound.Pace, pace) {
		m.invalidate()
	}
	m.bound.Time = t
	copy(m.bound.Pace, pace)
	m.bound.RealTime = realtime
	m.bound.Evaluations = evals
	return nil
}

// SetStates stores values if they differ from the current state vector.
func (m *Model) SetStates(values []float64) error {
	if m == nil {
		return ErrInvalidModel
	}
	if floatsEqual(m.states, values) {
		return nil
	}
	copy(m.states, values)
	m.invalidate()
	return nil
}

// States returns the live state slice; callers must not retain it across a
// mutating call.
func (m *Model) States() []float64 { return m.states }

// Derivatives returns the last computed derivative vector; valid only
// after EvaluateDerivatives following any input mutation.
func (m *Model) Derivatives() []float64 { return m.derivatives }

// Intermediary returns the last computed intermediary vector.
func (m *Model) Intermediary() []float64 { return m.intermediary }

// Bound returns the current bound-input snapshot.
func (m *Model) Bound() Bound { return m.bound }

// SetupPacing (re)allocates the bound pacing vector to hold n independent
// pacing systems' levels.
func (m *Model) SetupPacing(n int) error {
	if m == nil {
		return ErrInvalidModel
	}
	m.bound.Pace = make([]float64, n)
	m.invalidate()
	return nil
}

func (m *Model) invalidate() {
	m.version++
	m.derivValid = false
	m.sensValid = false
}

// EvaluateDerivatives computes every intermediary and state derivative.
// Repeated calls without an intervening mutation are memoized against the
// version counter and return bit-equal results, matching spec.md §8's
// purity invariant regardless of whether the cache is warm or cold.
func (m *Model) EvaluateDerivatives() error {
	if m == nil {
		return ErrInvalidModel
	}
	if m.derivValid && m.derivVersion == m.version {
		return nil
	}
	m.def.Derive(m.bound.Time, m.bound.Pace, m.states, m.literals, m.literalDerived, m.parameters, m.parameterDerived, m.intermediary, m.derivatives)
	m.derivVersion = m.version
	m.derivValid = true
	m.bound.Evaluations++
	return nil
}

// SetStateSensitivities writes row i of the flat s_states storage.
func (m *Model) SetStateSensitivities(i int, row []float64) error {
	if m == nil {
		return ErrInvalidModel
	}
	if i < 0 || i >= len(m.sStates) {
		return ErrInvalidModel
	}
	copy(m.sStates[i], row)
	m.sensValid = false
	return nil
}

// EnableSensitivities configures the sensitivity extension for the given
// set of independents (parameters and/or initial states), allocating
// ns_independents x n_states storage for s_states and
// n_intermediary x ns_independents storage for the sensitivity-of-output
// matrix evaluate_sensitivity_outputs computes.
func (m *Model) EnableSensitivities(independents []Independent) {
	m.independents = append([]Independent(nil), independents...)
	m.sStates = make([][]float64, len(independents))
	for i := range m.sStates {
		m.sStates[i] = make([]float64, m.def.NStates())
	}
	m.sInter = make([][]float64, m.def.NIntermediary())
	for i := range m.sInter {
		m.sInter[i] = make([]float64, len(independents))
	}
}

// NIndependents reports ns_independents (0 when sensitivities are off).
func (m *Model) NIndependents() int { return len(m.independents) }

// NDependents reports ns_dependents: the sensitivity matrix logs the
// sensitivity of every intermediary variable.
func (m *Model) NDependents() int { return m.def.NIntermediary() }

// SensitivityMatrix returns the last computed n_dependents x n_independents
// matrix.
func (m *Model) SensitivityMatrix() [][]float64 { return m.sInter }

// EvaluateSensitivityOutputs computes intermediary-variable sensitivities
// assuming SetStateSensitivities has already populated s_states for this
// step, using an internal difference quotient exactly as CVODES' own
// internal-DQ sensitivity RHS does (spec.md §4.4): for each independent j,
// the model is re-derived at states perturbed along that independent's
// state-sensitivity direction (and, if independent j is itself a
// parameter, along that parameter too), and the resulting change in the
// intermediary vector divided by the perturbation gives column j of the
// output matrix.
func (m *Model) EvaluateSensitivityOutputs() error {
	if m == nil {
		return ErrInvalidModel
	}
	if len(m.independents) == 0 {
		return ErrNoSensitivitiesToLog
	}
	if err := m.EvaluateDerivatives(); err != nil {
		return err
	}
	if m.sensValid && m.sensVersion == m.version {
		return nil
	}
	const eps = 1e-7
	base := m.intermediary
	nInter := m.def.NIntermediary()
	nStates := m.def.NStates()

	scratchStates := make([]float64, nStates)
	scratchParams := append([]float64(nil), m.parameters...)
	scratchInter := make([]float64, nInter)
	scratchDeriv := make([]float64, nStates)

	for j, ref := range m.independents {
		copy(scratchStates, m.states)
		copy(scratchParams, m.parameters)
		for k := 0; k < nStates; k++ {
			scratchStates[k] += eps * m.sStates[j][k]
		}
		if ref.Kind == IndependentParameter {
			scratchParams[ref.Slot] += eps
		}
		var paramDerived []float64
		if m.def.ParameterDerived != nil {
			paramDerived = m.def.ParameterDerived(scratchParams)
		}
		m.def.Derive(m.bound.Time, m.bound.Pace, scratchStates, m.literals, m.literalDerived, scratchParams, paramDerived, scratchInter, scratchDeriv)
		for i := 0; i < nInter; i++ {
			m.sInter[i][j] = (scratchInter[i] - base[i]) / eps
		}
	}
	m.sensVersion = m.version
	m.sensValid = true
	return nil
}

// DirectionalDerivative evaluates the derivative vector at the current
// bound time/pace with states perturbed by eps*direction (and, if ref
// names a parameter, that parameter perturbed by eps too), without
// mutating the Model. The driver's forward-sensitivity RHS is built on it;
// EvaluateSensitivityOutputs does not call it, but applies the same
// perturbation in its own loop (with its own step of 1e-7) and differences
// the intermediaries instead of the derivatives.
func (m *Model) DirectionalDerivative(eps float64, direction []float64, ref Independent) []float64 {
	n := m.def.NStates()
	scratchStates := make([]float64, n)
	for i := 0; i < n; i++ {
		scratchStates[i] = m.states[i] + eps*direction[i]
	}
	scratchParams := append([]float64(nil), m.parameters...)
	if ref.Kind == IndependentParameter {
		scratchParams[ref.Slot] += eps
	}
	var pd []float64
	if m.def.ParameterDerived != nil {
		pd = m.def.ParameterDerived(scratchParams)
	}
	scratchInter := make([]float64, m.def.NIntermediary())
	scratchDeriv := make([]float64, n)
	m.def.Derive(m.bound.Time, m.bound.Pace, scratchStates, m.literals, m.literalDerived, scratchParams, pd, scratchInter, scratchDeriv)
	return scratchDeriv
}

// Independents returns the sensitivity independents configured by
// EnableSensitivities.
func (m *Model) Independents() []Independent { return m.independents }

// Clone returns a fresh Model built from the same Definition, with default
// inputs; no state, bound or sensitivity values are copied.
func (m *Model) Clone() (*Model, error) {
	return New(m.def)
}
