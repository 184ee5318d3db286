package domain

import (
	"fmt"
	"time"
)

// AggregateBase provides common aggregate functionality: identity, the
// last-applied sequence, and the uncommitted events raised since the last
// load or save.
type AggregateBase struct {
	id            string
	aggregateType string
	sequence      int64
	committedSeq  int64
	uncommitted   []Event
	applier       func(event interface{}) error
}

// Aggregate is the interface the event store works against.
type Aggregate interface {
	GetID() string
	GetType() string
	// LastSequence is the sequence of the last event applied, committed
	// or not. Zero means the aggregate has no history.
	LastSequence() int64
	// CommittedSequence is the sequence of the last event known to be
	// persisted; it is the expected-version for an optimistic append.
	CommittedSequence() int64
	GetUncommittedEvents() []Event
	ClearUncommittedEvents()
	Apply(event interface{}) error
	Replay(event Event) error
}

// NewAggregateBase creates a new aggregate base. The applier must be a
// pure fold over (state, event) with a no-op default for unknown events.
func NewAggregateBase(aggregateType string, applier func(interface{}) error) *AggregateBase {
	return &AggregateBase{
		aggregateType: aggregateType,
		applier:       applier,
	}
}

// GetID returns the aggregate ID.
func (a *AggregateBase) GetID() string {
	return a.id
}

// SetID sets the aggregate ID.
func (a *AggregateBase) SetID(id string) {
	a.id = id
}

// GetType returns the aggregate type.
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// LastSequence returns the sequence of the last applied event.
func (a *AggregateBase) LastSequence() int64 {
	return a.sequence
}

// CommittedSequence returns the sequence of the last persisted event.
func (a *AggregateBase) CommittedSequence() int64 {
	return a.committedSeq
}

// GetUncommittedEvents returns events raised since the last load or save.
func (a *AggregateBase) GetUncommittedEvents() []Event {
	return a.uncommitted
}

// ClearUncommittedEvents drops the uncommitted events and advances the
// committed sequence. The store calls this after a successful append.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommitted = nil
	a.committedSeq = a.sequence
}

// Apply raises a new event: it folds the payload into the aggregate's
// state and records it as uncommitted at the next sequence number.
func (a *AggregateBase) Apply(event interface{}) error {
	if a.applier == nil {
		return fmt.Errorf("applier is not set")
	}

	eventType, ok := eventName(event)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}

	if err := a.applier(event); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	a.sequence++
	a.uncommitted = append(a.uncommitted, Event{
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		Type:          eventType,
		Sequence:      a.sequence,
		Timestamp:     time.Now().UTC(),
		Data:          event,
	})

	return nil
}

// Replay folds a historical event loaded from the store. Events with a nil
// payload (unknown historical types) advance the sequence without touching
// state.
func (a *AggregateBase) Replay(event Event) error {
	if event.Sequence != a.sequence+1 {
		return fmt.Errorf("out-of-order replay: have sequence %d, got event %d", a.sequence, event.Sequence)
	}
	if event.Data != nil {
		if err := a.applier(event.Data); err != nil {
			return fmt.Errorf("failed to replay event %s: %w", event.Type, err)
		}
	}
	a.sequence = event.Sequence
	a.committedSeq = event.Sequence
	return nil
}
