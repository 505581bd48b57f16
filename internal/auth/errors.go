package auth

import (
	"errors"
	"fmt"

	"idgate.org/internal/outcome"
)

// Failure kinds. Operation results carry one of these so callers can map
// failures with errors.Is while the message stays user facing.
var (
	ErrValidation      = errors.New("auth: validation failed")
	ErrNotFound        = errors.New("auth: not found")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrPersistence     = errors.New("auth: persistence failure")
	ErrInvalidArgument = errors.New("auth: invalid argument")
)

// ErrConflict is returned by stores when a unique name is already taken.
var ErrConflict = errors.New("auth: conflict")

// Failure is the error carried by failed operation results.
type Failure struct {
	Kind    error
	Message string
	Cause   error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() []error {
	errs := []error{f.Kind}
	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}
	return errs
}

func newFailure(kind error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func fail[T any](kind error, format string, args ...any) outcome.Result[T] {
	return outcome.FailErr[T](newFailure(kind, format, args...))
}

// invalid re-labels a failed value-object pipeline as a validation failure.
func invalid[T any](o outcome.Outcome) outcome.Result[T] {
	err := o.Err()
	var f *Failure
	if errors.As(err, &f) {
		return outcome.FailErr[T](f)
	}
	return outcome.FailErr[T](&Failure{Kind: ErrValidation, Message: err.Error()})
}

func persistence[T any](err error) outcome.Result[T] {
	return outcome.FailErr[T](&Failure{Kind: ErrPersistence, Message: "An error occurred while saving changes", Cause: err})
}
