package listener

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// EventError is returned by a listener that wants the current batch to be
// delivered again. On a v2 datafeed the loop then leaves the ack id where
// it was, so the agent replays the batch on the next read. On v1 it is
// handled like any other listener failure.
type EventError struct {
	Reason string
	Err    error
}

func NewEventError(reason string, err error) *EventError {
	return &EventError{Reason: reason, Err: err}
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event error: %s: %v", e.Reason, e.Err)
	}
	return "event error: " + e.Reason
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// IsEventError reports whether err is, or wraps, an *EventError.
func IsEventError(err error) bool {
	var evErr *EventError
	return errors.As(err, &evErr)
}

// ListenerFailure records one listener call that returned an error or
// panicked. It never escapes the loop; it is logged and aggregated into
// Result.Err.
type ListenerFailure struct {
	EventID   string
	EventType model.EventType
	Listener  string
	Err       error
}

func (f *ListenerFailure) Error() string {
	return fmt.Sprintf("listener %s failed on event %s (%s): %v", f.Listener, f.EventID, f.EventType, f.Err)
}

func (f *ListenerFailure) Unwrap() error {
	return f.Err
}
