package datafeed

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by v1 for operations only v2 defines.
	ErrUnsupported = errors.New("operation not supported by this datafeed version")
	// ErrLoopRunning is returned when Start is called on a running loop.
	ErrLoopRunning = errors.New("datafeed loop already running")
)

// BackoffExhaustedError ends the loop once transient failures push the
// backoff past its ceiling. Cause is the last underlying failure.
type BackoffExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *BackoffExhaustedError) Error() string {
	return fmt.Sprintf("datafeed backoff exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *BackoffExhaustedError) Unwrap() error {
	return e.Cause
}
