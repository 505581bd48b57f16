// Package outcome carries success/failure and optional values through validation
// pipelines without resorting to panics or sentinel nils.
package outcome

import "errors"

// Unit is the value carried by results that have nothing to return.
type Unit struct{}

// Outcome is implemented by every Result regardless of its value type.
type Outcome interface {
	IsSuccess() bool
	Err() error
}

// Result is either a success holding a value or a failure holding an error.
// The zero value is a failure with no message and should not be relied upon.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps value in a successful result.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Fail returns a failed result whose error text is message.
func Fail[T any](message string) Result[T] {
	return Result[T]{err: errors.New(message)}
}

// FailErr returns a failed result carrying err. A nil err is replaced by a generic failure.
func FailErr[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Result[T]{err: err}
}

// Success returns a successful Result[Unit].
func Success() Result[Unit] { return Ok(Unit{}) }

func (r Result[T]) IsSuccess() bool { return r.ok }

func (r Result[T]) IsFailure() bool { return !r.ok }

// Err returns the failure error or nil on success.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return errors.New("unknown failure")
	}
	return r.err
}

// Error returns the failure message; empty on success.
func (r Result[T]) Error() string {
	if r.ok {
		return ""
	}
	return r.Err().Error()
}

// Value returns the success value. Calling it on a failure is a programming error.
func (r Result[T]) Value() T {
	if !r.ok {
		panic("outcome: Value called on failed result: " + r.Error())
	}
	return r.value
}

// Unpack returns the value and error in conventional Go form.
func (r Result[T]) Unpack() (T, error) {
	if !r.ok {
		var zero T
		return zero, r.Err()
	}
	return r.value, nil
}

// Ensure keeps a successful result only if predicate holds on its value.
// Failures pass through untouched, so the first failing check wins.
func (r Result[T]) Ensure(predicate func(T) bool, message string) Result[T] {
	if !r.ok {
		return r
	}
	if !predicate(r.value) {
		return Fail[T](message)
	}
	return r
}

// OnSuccess runs fn for its side effect when r succeeded and returns r.
func (r Result[T]) OnSuccess(fn func(T)) Result[T] {
	if r.ok {
		fn(r.value)
	}
	return r
}

// OnFailure runs fn with the error when r failed and returns r.
func (r Result[T]) OnFailure(fn func(error)) Result[T] {
	if !r.ok {
		fn(r.Err())
	}
	return r
}

// Map transforms the value of a successful result.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Result[U]{err: r.Err()}
	}
	return Ok(fn(r.value))
}

// Bind chains a result-producing step after r.
func Bind[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.ok {
		return Result[U]{err: r.Err()}
	}
	return fn(r.value)
}

// Propagate converts a failure of one type into a failure of another, keeping the error.
func Propagate[U any](o Outcome) Result[U] {
	return Result[U]{err: o.Err()}
}

// Combine returns the first failure among outcomes, or success when all succeeded.
func Combine(outcomes ...Outcome) Result[Unit] {
	for _, o := range outcomes {
		if !o.IsSuccess() {
			return Result[Unit]{err: o.Err()}
		}
	}
	return Success()
}
