package model

// Definition is the compiled-in description of one biophysical cell model:
// component/variable names, default constants, and the RHS closure. It
// plays the role the teacher's physics.Pendulum/physics.CartPole structs
// play for their own dynamical systems, generalized so a single Model type
// can host any compiled-in definition instead of one struct per system.
type Definition struct {
	Name string

	StateNames    []string // fully qualified, e.g. "membrane.V"
	DefaultStates []float64

	LiteralNames    []string
	DefaultLiterals []float64

	ParameterNames    []string
	DefaultParameters []float64

	IntermediaryNames []string // fully qualified, e.g. "ina.INa"

	NPace int // number of independent pacing inputs this definition consumes

	// LiteralDerived recomputes any literal-derived constants from the
	// current literal vector. May be nil if the model has none.
	LiteralDerived func(literals []float64) []float64
	// LiteralDerivedNames names each slot LiteralDerived returns, for log
	// binding purposes; length must match LiteralDerived's output.
	LiteralDerivedNames []string

	// ParameterDerived recomputes any parameter-derived constants from the
	// current parameter vector. May be nil if the model has none.
	ParameterDerived      func(parameters []float64) []float64
	ParameterDerivedNames []string

	// Derive evaluates every intermediary and state derivative in one pass,
	// given the fully assembled input vectors. It must be side-effect free:
	// two calls with identical inputs must produce bit-equal outputs.
	Derive func(t float64, pace []float64, states, literals, literalDerived, parameters, parameterDerived []float64, intermediary, deriv []float64)
}

func (d Definition) NStates() int       { return len(d.StateNames) }
func (d Definition) NLiterals() int     { return len(d.LiteralNames) }
func (d Definition) NParameters() int   { return len(d.ParameterNames) }
func (d Definition) NIntermediary() int { return len(d.IntermediaryNames) }
