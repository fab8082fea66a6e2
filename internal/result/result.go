// Package result carries the outcome of a client operation: a value, a
// success that produced no value, or a failure.
package result

// Result is returned by query and mutation operations so that callers handle
// success and failure through the same value rather than through separate
// error paths.
type Result[T any] struct {
	value   T
	present bool
	err     error
}

// Ok returns a successful result holding value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, present: true}
}

// Empty returns a successful result with no value, for example when an
// operation was suppressed.
func Empty[T any]() Result[T] {
	return Result[T]{}
}

// Fail returns a failed result. A nil error is still reported as a failure.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = errUnknown
	}
	return Result[T]{err: err}
}

// Failed returns the failure cause and true if the operation failed.
func (r Result[T]) Failed() (error, bool) {
	return r.err, r.err != nil
}

// Value returns the value and true if the operation succeeded with a value.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.present
}

// Unwrap converts the result into the conventional value/error pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

type unknownError struct{}

func (unknownError) Error() string { return "operation failed" }

var errUnknown error = unknownError{}
