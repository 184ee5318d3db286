package projections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/repositories"
)

// ErrRebuildInProgress is returned when a rebuild is requested for a
// projector that is already being rebuilt.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// Rebuilder regenerates one projector's read model from the full event
// history. Other projections keep serving reads while a rebuild runs; the
// target projection is stale or empty until it completes.
//
// A projection's tables have a single writer. The worker's event
// processor must be stopped, or at least have the target projector
// removed, before a rebuild of that projector runs; the in-progress
// guard here only covers concurrent rebuild requests within one process.
type Rebuilder struct {
	store       eventstore.EventStore
	checkpoints repositories.CheckpointRepository
	projectors  map[string]Projector
	batchSize   int

	mu         sync.Mutex
	inProgress map[string]bool
}

// NewRebuilder creates a rebuild controller over the given projectors.
func NewRebuilder(store eventstore.EventStore, checkpoints repositories.CheckpointRepository, projectors ...Projector) *Rebuilder {
	byName := make(map[string]Projector, len(projectors))
	for _, p := range projectors {
		byName[p.Name()] = p
	}

	return &Rebuilder{
		store:       store,
		checkpoints: checkpoints,
		projectors:  byName,
		batchSize:   500,
		inProgress:  make(map[string]bool),
	}
}

// begin claims the projector for a rebuild. It returns false when a
// rebuild of the same projector is already running.
func (r *Rebuilder) begin(projectorName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inProgress[projectorName] {
		return false
	}
	r.inProgress[projectorName] = true
	return true
}

func (r *Rebuilder) end(projectorName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inProgress, projectorName)
}

// Rebuild truncates the named projector's tables, resets its cursor and
// re-feeds the entire event history in global order. It returns the
// number of events applied. Cancellation between batches leaves the
// projection consistent up to its persisted cursor.
func (r *Rebuilder) Rebuild(ctx context.Context, projectorName string) (int64, error) {
	projector, ok := r.projectors[projectorName]
	if !ok {
		return 0, fmt.Errorf("unknown projector: %s", projectorName)
	}

	if !r.begin(projectorName) {
		return 0, fmt.Errorf("%w: %s", ErrRebuildInProgress, projectorName)
	}
	defer r.end(projectorName)

	log.Info().Str("projector", projectorName).Msg("Starting projection rebuild")

	if err := projector.Reset(ctx); err != nil {
		return 0, fmt.Errorf("failed to reset projection: %w", err)
	}
	if err := r.checkpoints.Reset(ctx, projectorName); err != nil {
		return 0, fmt.Errorf("failed to reset checkpoint: %w", err)
	}

	var (
		applied  int64
		position int64
	)
	for {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}

		events, err := r.store.LoadAll(ctx, position, r.batchSize)
		if err != nil {
			return applied, err
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if err := projector.Apply(ctx, event); err != nil {
				return applied, fmt.Errorf("rebuild failed at position %d: %w", event.GlobalPosition, err)
			}
			position = event.GlobalPosition
			applied++
		}

		if err := r.checkpoints.Set(ctx, projectorName, position); err != nil {
			return applied, err
		}
	}

	log.Info().Str("projector", projectorName).Int64("events", applied).Msg("Projection rebuild complete")
	return applied, nil
}
