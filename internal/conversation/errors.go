package conversation

import (
	"errors"
	"fmt"
)

// ErrInvalidRating is returned when a feedback rating falls outside its scale.
var ErrInvalidRating = errors.New("rating out of range")

// ExternalError wraps a vector-index or language-model failure with the
// pipeline stage that raised it. The turn aborts, nothing is persisted, and
// the caller decides whether to retry.
type ExternalError struct {
	Stage State
	Err   error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external service failed at %s: %v", e.Stage, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}
