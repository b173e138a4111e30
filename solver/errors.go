package solver

import (
	"errors"
	"fmt"
)

var (
	// ErrInfeasible is returned when no rate assignment satisfies the model.
	ErrInfeasible = errors.New("infeasible rate model")
	// ErrNonFinite is returned when a computed rate is NaN or infinite.
	ErrNonFinite = errors.New("non-finite rate")
	// ErrIterationLimit is returned when a solve needs more LP passes than allowed.
	ErrIterationLimit = errors.New("iteration limit exceeded")
)

// Failure is a solve that was aborted. All rates have been reset to zero.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("solver: %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(stage string, err error) *Failure {
	return &Failure{Stage: stage, Err: err}
}
