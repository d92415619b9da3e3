package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sink is the external mutable sequence a bound log variable appends to.
// It is the minimal capability set spec.md §9 asks for instead of a
// concrete container type, so the core stays host-agnostic.
type Sink interface {
	AppendFloat(v float64) error
}

// Sizer is an optional capability a Sink can implement to report how many
// values it already holds, so the driver can tell whether a dynamic-mode
// run is starting into a fresh sink or continuing to append to one from a
// prior run (spec.md §4.5 step 7).
type Sizer interface {
	Len() int
}

// MatrixSink receives one n_dependents x n_independents snapshot per call.
type MatrixSink interface {
	AppendMatrix(rows [][]float64) error
}

// VarClass tells the driver whether producing a variable's current value
// requires a full RHS evaluation (Derivative, Intermediary) or is available
// straight off the bound/state vectors.
type VarClass int

const (
	ClassBound VarClass = iota
	ClassState
	ClassDerivative
	ClassIntermediary
	ClassLiteral
	ClassParameter
)

type resolved struct {
	class VarClass
	get   func(m *Model) float64
}

// resolve maps a fully qualified variable name to an accessor closure and
// its class, following the naming convention in spec.md §6.
func (m *Model) resolve(name string) (resolved, bool) {
	switch {
	case name == "engine.time":
		return resolved{ClassBound, func(m *Model) float64 { return m.bound.Time }}, true
	case name == "engine.realtime":
		return resolved{ClassBound, func(m *Model) float64 { return m.bound.RealTime }}, true
	case name == "engine.evaluations":
		return resolved{ClassBound, func(m *Model) float64 { return float64(m.bound.Evaluations) }}, true
	case name == "engine.pace":
		if len(m.bound.Pace) == 1 {
			return resolved{ClassBound, func(m *Model) float64 { return m.bound.Pace[0] }}, true
		}
	case strings.HasPrefix(name, "engine.pace."):
		if idx, err := strconv.Atoi(strings.TrimPrefix(name, "engine.pace.")); err == nil {
			if idx >= 0 && idx < len(m.bound.Pace) {
				return resolved{ClassBound, func(m *Model) float64 { return m.bound.Pace[idx] }}, true
			}
		}
	case strings.HasPrefix(name, "dot(") && strings.HasSuffix(name, ")"):
		inner := name[4 : len(name)-1]
		if i := indexOf(m.def.StateNames, inner); i >= 0 {
			return resolved{ClassDerivative, func(m *Model) float64 { return m.derivatives[i] }}, true
		}
		return resolved{}, false
	default:
		if i := indexOf(m.def.StateNames, name); i >= 0 {
			return resolved{ClassState, func(m *Model) float64 { return m.states[i] }}, true
		}
		if i := indexOf(m.def.IntermediaryNames, name); i >= 0 {
			return resolved{ClassIntermediary, func(m *Model) float64 { return m.intermediary[i] }}, true
		}
		if i := indexOf(m.def.LiteralNames, name); i >= 0 {
			return resolved{ClassLiteral, func(m *Model) float64 { return m.literals[i] }}, true
		}
		if i := indexOf(m.def.ParameterNames, name); i >= 0 {
			return resolved{ClassParameter, func(m *Model) float64 { return m.parameters[i] }}, true
		}
		if i := indexOf(m.def.LiteralDerivedNames, name); i >= 0 {
			return resolved{ClassLiteral, func(m *Model) float64 { return m.literalDerived[i] }}, true
		}
		if i := indexOf(m.def.ParameterDerivedNames, name); i >= 0 {
			return resolved{ClassParameter, func(m *Model) float64 { return m.parameterDerived[i] }}, true
		}
	}
	return resolved{}, false
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// InitializeLogging binds every entry of descriptor (fully qualified name
// -> sink) in map iteration order made deterministic by sorting on first
// use; unknown names fail atomically with UnknownVariablesError so no
// partial binding is ever observed.
func (m *Model) InitializeLogging(descriptor map[string]Sink) error {
	if m == nil {
		return ErrInvalidModel
	}
	if m.logInit {
		return ErrLoggingAlreadyInitialized
	}
	names := make([]string, 0, len(descriptor))
	for n := range descriptor {
		names = append(names, n)
	}
	sort.Strings(names)

	var unknown []string
	bindings := make([]binding, 0, len(names))
	for _, name := range names {
		r, ok := m.resolve(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		sink := descriptor[name]
		bindings = append(bindings, binding{name: name, get: r.get, class: r.class, sink: sink})
	}
	if len(unknown) > 0 {
		return &UnknownVariablesError{Names: unknown}
	}
	m.bindings = bindings
	m.logInit = true
	return nil
}

// HasDerivedLogVariable reports whether any bound variable is a
// derivative or intermediary, the values only a full RHS evaluation can
// produce (driver.step step 7). Literal- and parameter-derived values are
// recomputed when literals or parameters are set and do not count.
func (m *Model) HasDerivedLogVariable() bool {
	for _, b := range m.bindings {
		if b.class == ClassDerivative || b.class == ClassIntermediary {
			return true
		}
	}
	return false
}

// LogIsEmpty reports whether every bound sink that exposes a Len is
// currently empty. Sinks that don't implement Sizer are treated as empty,
// the common case of a fresh sink allocated for one run.
func (m *Model) LogIsEmpty() bool {
	for _, b := range m.bindings {
		if sz, ok := b.sink.(Sizer); ok && sz.Len() > 0 {
			return false
		}
	}
	return true
}

// Log appends the current value of every bound variable to its sink, in
// binding order.
func (m *Model) Log() error {
	if m == nil {
		return ErrInvalidModel
	}
	if !m.logInit {
		return ErrLoggingNotInitialized
	}
	for _, b := range m.bindings {
		if err := b.sink.AppendFloat(b.get(m)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLogAppendFailed, b.name, err)
		}
	}
	return nil
}

// LogSensitivityMatrix appends the full n_dependents x n_independents
// snapshot computed by the last EvaluateSensitivityOutputs call. Per the
// resolved open question in spec.md §9, every cell is populated from
// m.sInter before the append — never a half-filled outer shell.
func (m *Model) LogSensitivityMatrix(sink MatrixSink) error {
	if m == nil {
		return ErrInvalidModel
	}
	if len(m.independents) == 0 {
		return ErrNoSensitivitiesToLog
	}
	rows := make([][]float64, len(m.sInter))
	for i, row := range m.sInter {
		rows[i] = append([]float64(nil), row...)
	}
	if err := sink.AppendMatrix(rows); err != nil {
		return fmt.Errorf("%w: %v", ErrSensitivityLogAppendFailed, err)
	}
	return nil
}

// DeinitializeLogging clears the current bindings, allowing InitializeLogging
// to be called again.
func (m *Model) DeinitializeLogging() error {
	if m == nil {
		return ErrInvalidModel
	}
	if !m.logInit {
		return ErrLoggingNotInitialized
	}
	m.bindings = nil
	m.logInit = false
	return nil
}
