package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
)

// storedEvent keeps payloads serialized so the in-memory store exercises
// the same encode/decode path as the database-backed one.
type storedEvent struct {
	position      int64
	eventID       string
	aggregateID   string
	aggregateType string
	eventType     string
	data          []byte
	sequence      int64
	timestamp     time.Time
}

// MemoryEventStore is an in-memory EventStore used by tests and local
// runs. Semantics match GormEventStore, including optimistic concurrency.
type MemoryEventStore struct {
	mu       sync.Mutex
	streams  map[string][]storedEvent
	all      []storedEvent
	position int64
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		streams: make(map[string][]storedEvent),
	}
}

// Append persists events for one aggregate under the optimistic
// concurrency check.
func (s *MemoryEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedLastSequence int64, events []domain.Event) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	var last int64
	if len(stream) > 0 {
		last = stream[len(stream)-1].sequence
	}
	if last != expectedLastSequence {
		return nil, fmt.Errorf("%w: expected sequence %d, store has %d for aggregate %s",
			domain.ErrConcurrencyConflict, expectedLastSequence, last, aggregateID)
	}

	sequences := make([]int64, 0, len(events))
	for i, event := range events {
		data, err := domain.MarshalEventData(event.Type, event.Data)
		if err != nil {
			return nil, err
		}

		s.position++
		stored := storedEvent{
			position:      s.position,
			eventID:       uuid.New().String(),
			aggregateID:   aggregateID,
			aggregateType: aggregateType,
			eventType:     event.Type,
			data:          data,
			sequence:      expectedLastSequence + int64(i) + 1,
			timestamp:     event.Timestamp,
		}
		s.streams[aggregateID] = append(s.streams[aggregateID], stored)
		s.all = append(s.all, stored)
		sequences = append(sequences, stored.sequence)
	}

	return sequences, nil
}

// LoadStream returns an aggregate's events in sequence order.
func (s *MemoryEventStore) LoadStream(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	events := make([]domain.Event, 0, len(stream))
	for _, stored := range stream {
		events = append(events, s.decode(stored))
	}

	return events, nil
}

// LoadAll returns events across all aggregates after a global position.
func (s *MemoryEventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.Event
	for _, stored := range s.all {
		if stored.position <= afterPosition {
			continue
		}
		events = append(events, s.decode(stored))
		if limit > 0 && len(events) >= limit {
			break
		}
	}

	return events, nil
}

// LastSequence returns the last assigned sequence for an aggregate.
func (s *MemoryEventStore) LastSequence(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if len(stream) == 0 {
		return 0, nil
	}
	return stream[len(stream)-1].sequence, nil
}

// LastPosition returns the highest global position in the store.
func (s *MemoryEventStore) LastPosition(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, nil
}

// Exists checks if an aggregate has any history.
func (s *MemoryEventStore) Exists(ctx context.Context, aggregateID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[aggregateID]) > 0, nil
}

func (s *MemoryEventStore) decode(stored storedEvent) domain.Event {
	data, err := domain.UnmarshalEventData(stored.eventType, stored.data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEventType) {
			log.Warn().
				Str("eventID", stored.eventID).
				Str("eventType", stored.eventType).
				Msg("Skipping event with unknown type")
		} else {
			log.Error().Err(err).
				Str("eventID", stored.eventID).
				Str("eventType", stored.eventType).
				Msg("Failed to decode event payload")
		}
		data = nil
	}

	return domain.Event{
		ID:             stored.eventID,
		AggregateID:    stored.aggregateID,
		AggregateType:  stored.aggregateType,
		Type:           stored.eventType,
		Sequence:       stored.sequence,
		GlobalPosition: stored.position,
		Timestamp:      stored.timestamp,
		Data:           data,
	}
}
