package worker

import (
	"errors"
	"fmt"
)

// ErrAuthenticationFailed is returned by Run when the server rejects the key.
var ErrAuthenticationFailed = errors.New("authentication failed")

var errNoEvaluation = errors.New("engine returned no evaluation")

type invalidJobError struct {
	field  string
	reason string
}

func (e invalidJobError) Error() string {
	return fmt.Sprintf("invalid job %s: %s", e.field, e.reason)
}

func invalidJob(field, format string, args ...any) error {
	return invalidJobError{field: field, reason: fmt.Sprintf(format, args...)}
}

// IsInvalidJob reports whether err rejected a job payload before analysis.
func IsInvalidJob(err error) bool {
	var e invalidJobError
	return errors.As(err, &e)
}
