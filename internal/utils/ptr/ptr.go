// Package ptr provides pointer helpers.
package ptr

// To creates a pointer to the given value.
func To[T any](v T) *T {
	return &v
}

// Value returns the value p points to, or the zero value when p is nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
