package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrConcurrencyConflict is returned when an append races with another
	// writer on the same aggregate. Callers may reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate was modified by another writer")

	// ErrInvalidStateTransition is returned when a command is not legal
	// given the aggregate's current folded state. Not retryable.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrStoreUnavailable is returned when the event store cannot be
	// reached within the command deadline. Retryable with backoff.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrUnknownAggregate is returned when a command references an
	// aggregate with no event history and is not a create command.
	ErrUnknownAggregate = errors.New("unknown aggregate: no event history")

	// ErrUnknownEventType is returned by the codec for event types it has
	// no decoder for. Recoverable on reads of historical events.
	ErrUnknownEventType = errors.New("unknown event type")
)

// IllegalTransitionError reports an order status transition that is not in
// the transition table.
type IllegalTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal order status transition from %q to %q", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidStateTransition) match illegal status
// transitions as well.
func (e IllegalTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// SerializationError reports an event payload that failed to encode or
// decode. Fatal for new writes, logged and skipped on reads of history.
type SerializationError struct {
	EventType string
	Err       error
}

func (e SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize event %q: %v", e.EventType, e.Err)
}

func (e SerializationError) Unwrap() error {
	return e.Err
}
