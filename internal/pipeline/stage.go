package pipeline

import "fmt"

// stage is the outcome of one contained pipeline step. A degraded stage
// still carries a usable fallback value.
type stage[T any] struct {
	value    T
	degraded bool
	reason   string
}

func ok[T any](v T) stage[T] {
	return stage[T]{value: v}
}

func degraded[T any](v T, reason string) stage[T] {
	return stage[T]{value: v, degraded: true, reason: reason}
}

// contain runs fn and converts an error or panic into a degraded stage
// holding fallback().
func contain[T any](name string, fn func() (T, error), fallback func() T) (s stage[T]) {
	defer func() {
		if r := recover(); r != nil {
			s = degraded(fallback(), fmt.Sprintf("%s: panic: %v", name, r))
		}
	}()
	v, err := fn()
	if err != nil {
		return degraded(fallback(), fmt.Sprintf("%s: %v", name, err))
	}
	return ok(v)
}
