package eventstore

import (
	"context"

	"example.com/dinehub/services/orders/domain"
)

// EventStore is the append-only, per-aggregate-ordered event log. It is
// the single source of truth; read models are derived from it and never
// queried by command handlers.
type EventStore interface {
	// Append persists events for one aggregate. expectedLastSequence must
	// equal the store's last known sequence for the aggregate or the
	// append fails with domain.ErrConcurrencyConflict. Returns the
	// assigned sequence numbers.
	Append(ctx context.Context, aggregateID, aggregateType string, expectedLastSequence int64, events []domain.Event) ([]int64, error)

	// LoadStream returns the aggregate's events ordered by sequence
	// ascending. Unknown historical event types are returned with a nil
	// payload so folds treat them as no-ops.
	LoadStream(ctx context.Context, aggregateID string) ([]domain.Event, error)

	// LoadAll returns up to limit events across all aggregates with a
	// global position greater than afterPosition, ordered by global
	// position ascending. Used for projector catch-up.
	LoadAll(ctx context.Context, afterPosition int64, limit int) ([]domain.Event, error)

	// LastSequence returns the last assigned sequence for an aggregate,
	// zero if it has no history.
	LastSequence(ctx context.Context, aggregateID string) (int64, error)

	// LastPosition returns the highest global position in the store.
	LastPosition(ctx context.Context) (int64, error)

	// Exists checks if an aggregate has any history.
	Exists(ctx context.Context, aggregateID string) (bool, error)
}

// Load replays an aggregate's full history into it.
func Load(ctx context.Context, store EventStore, aggregate domain.Aggregate) error {
	events, err := store.LoadStream(ctx, aggregate.GetID())
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := aggregate.Replay(event); err != nil {
			return err
		}
	}

	return nil
}

// Save appends an aggregate's uncommitted events with the committed
// sequence as the expected version, detecting concurrent writers.
func Save(ctx context.Context, store EventStore, aggregate domain.Aggregate) error {
	events := aggregate.GetUncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	_, err := store.Append(ctx, aggregate.GetID(), aggregate.GetType(), aggregate.CommittedSequence(), events)
	if err != nil {
		return err
	}

	aggregate.ClearUncommittedEvents()
	return nil
}
