// Package model implements the biophysical cell Model: state vector, bound
// inputs, literals, parameters, intermediaries and forward-sensitivity
// storage, plus the variable-logging bindings that read from it.
package model

import "errors"

// Sentinel errors a host maps to its own exception types, per the taxonomy
// in spec.md §7. Compare with errors.Is; an unknown log name is reported
// as an *UnknownVariablesError, which carries the offending names and
// unwraps to ErrUnknownVariablesInLog.
var (
	ErrOutOfMemory                = errors.New("model: out of memory")
	ErrInvalidModel               = errors.New("model: invalid model")
	ErrLoggingAlreadyInitialized  = errors.New("model: logging already initialized")
	ErrLoggingNotInitialized      = errors.New("model: logging not initialized")
	ErrUnknownVariablesInLog      = errors.New("model: unknown variables in log")
	ErrLogAppendFailed            = errors.New("model: log append failed")
	ErrSensitivityLogAppendFailed = errors.New("model: sensitivity log append failed")
	ErrNoSensitivitiesToLog       = errors.New("model: no sensitivities to log")
	ErrDerivativesStale           = errors.New("model: derivatives requested before an evaluation")
)

// UnknownVariablesError carries the specific names a log descriptor
// referenced that the Model does not recognize.
type UnknownVariablesError struct {
	Names []string
}

func (e *UnknownVariablesError) Error() string {
	msg := "model: unknown variables in log:"
	for _, n := range e.Names {
		msg += " " + n
	}
	return msg
}

func (e *UnknownVariablesError) Unwrap() error {
	return ErrUnknownVariablesInLog
}
