package outcome

// Maybe is a present-or-absent value.
type Maybe[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](value T) Maybe[T] { return Maybe[T]{value: value, ok: true} }

// None returns an absent value.
func None[T any]() Maybe[T] { return Maybe[T]{} }

// FromPtr is Some(*p) for a non-nil p and None otherwise.
func FromPtr[T any](p *T) Maybe[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (m Maybe[T]) HasValue() bool { return m.ok }

func (m Maybe[T]) HasNoValue() bool { return !m.ok }

// Value returns the held value. Dereferencing an absent Maybe panics.
func (m Maybe[T]) Value() T {
	if !m.ok {
		panic("outcome: Value called on empty Maybe")
	}
	return m.value
}

// ToResult turns absence into a failure with message.
func (m Maybe[T]) ToResult(message string) Result[T] {
	if !m.ok {
		return Fail[T](message)
	}
	return Ok(m.value)
}

// OrElse returns the held value or fallback.
func (m Maybe[T]) OrElse(fallback T) T {
	if !m.ok {
		return fallback
	}
	return m.value
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (m Maybe[T]) Ptr() *T {
	if !m.ok {
		return nil
	}
	v := m.value
	return &v
}

// Unwrap applies fn to the held value, returning the zero U when absent.
func Unwrap[T, U any](m Maybe[T], fn func(T) U) U {
	var zero U
	return UnwrapOr(m, fn, zero)
}

// UnwrapOr applies fn to the held value, returning fallback when absent.
func UnwrapOr[T, U any](m Maybe[T], fn func(T) U, fallback U) U {
	if !m.ok {
		return fallback
	}
	return fn(m.value)
}
