package queue

import (
	"errors"
	"fmt"
)

// ErrQueueUnavailable indicates a transport-level failure talking to the
// queue/status store. Always retryable: callers should back off and try
// EnsureConnection again.
var ErrQueueUnavailable = errors.New("queue service unavailable")

// ErrSerialization indicates a job payload could not be serialized or
// deserialized.
var ErrSerialization = errors.New("job serialization failed")

// ErrInvalidTransition indicates a status write would move a job
// backwards in its lifecycle, or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// unavailable wraps a transport error so callers can match it with
// errors.Is(err, ErrQueueUnavailable).
func unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrQueueUnavailable, cause)
}
