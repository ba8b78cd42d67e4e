package engine

import "errors"

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("engine pool closed")

// ErrBusy is returned when Search is called on a handle that is already searching.
var ErrBusy = errors.New("engine busy")

// deadError signals that the engine process exited or stopped responding.
// The slot owning it must be restarted before reuse.
type deadError struct{ reason string }

func (e deadError) Error() string { return "engine dead: " + e.reason }

// IsEngineDead reports whether err was caused by a dead engine process.
func IsEngineDead(err error) bool {
	var d deadError
	return errors.As(err, &d)
}

// unsupportedVariantError is returned when a handle cannot play the requested variant.
type unsupportedVariantError struct{ variant string }

func (e unsupportedVariantError) Error() string { return "engine does not support variant: " + e.variant }

// IsUnsupportedVariant reports whether err indicates a variant the engine lacks.
func IsUnsupportedVariant(err error) bool {
	var u unsupportedVariantError
	return errors.As(err, &u)
}

// dependencyUnavailableError signals a missing or unusable engine binary so
// the CLI can exit with a startup error instead of retrying.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing engine binary.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}
