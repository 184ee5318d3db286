package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/repositories"
)

// EventProcessor drives projectors over the event log. Each projector has
// its own persisted cursor and fails independently: an apply error pauses
// that projector at its last good position while the others keep
// consuming.
type EventProcessor struct {
	store       eventstore.EventStore
	checkpoints repositories.CheckpointRepository
	projectors  []Projector
	batchSize   int
	interval    time.Duration
	running     bool
	mutex       sync.Mutex
	stopChan    chan struct{}
}

// NewEventProcessor creates a new event processor.
func NewEventProcessor(store eventstore.EventStore, checkpoints repositories.CheckpointRepository, projectors ...Projector) *EventProcessor {
	return &EventProcessor{
		store:       store,
		checkpoints: checkpoints,
		projectors:  projectors,
		batchSize:   100,
		interval:    2 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

// SetBatchSize overrides the default batch size. Must be called before
// Start.
func (p *EventProcessor) SetBatchSize(size int) {
	if size > 0 {
		p.batchSize = size
	}
}

// SetInterval overrides the default polling interval. Must be called
// before Start.
func (p *EventProcessor) SetInterval(interval time.Duration) {
	if interval > 0 {
		p.interval = interval
	}
}

// Start starts the processing loop.
func (p *EventProcessor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	go p.processLoop()
}

// Stop stops the processing loop.
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	p.stopChan <- struct{}{}
}

func (p *EventProcessor) processLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(context.Background())
		case <-p.stopChan:
			return
		}
	}
}

// tick advances every projector by at most one batch. Projector failures
// are isolated: they are logged and the projector retries from its cursor
// on the next tick.
func (p *EventProcessor) tick(ctx context.Context) {
	for _, projector := range p.projectors {
		if _, err := p.runOnce(ctx, projector); err != nil {
			log.Error().Err(err).Str("projector", projector.Name()).Msg("Projector batch failed")
		}
	}
}

// runOnce feeds one batch of events past the projector's cursor through
// it, persisting the cursor at the last successfully applied event.
func (p *EventProcessor) runOnce(ctx context.Context, projector Projector) (int, error) {
	position, err := p.checkpoints.Get(ctx, projector.Name())
	if err != nil {
		return 0, err
	}

	events, err := p.store.LoadAll(ctx, position, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	applied := 0
	for _, event := range events {
		if err := projector.Apply(ctx, event); err != nil {
			// Persist progress up to the failure so the retry resumes at
			// the bad event, not before it.
			if applied > 0 {
				if cpErr := p.checkpoints.Set(ctx, projector.Name(), position); cpErr != nil {
					log.Error().Err(cpErr).Str("projector", projector.Name()).Msg("Failed to persist checkpoint")
				}
			}
			return applied, err
		}
		position = event.GlobalPosition
		applied++
	}

	if err := p.checkpoints.Set(ctx, projector.Name(), position); err != nil {
		return applied, err
	}

	return applied, nil
}

// CatchUp runs all projectors until none has pending events. Used at
// worker startup and by tests; batching granularity does not affect the
// resulting read models.
func (p *EventProcessor) CatchUp(ctx context.Context) error {
	for {
		pending := false
		for _, projector := range p.projectors {
			applied, err := p.runOnce(ctx, projector)
			if err != nil {
				return err
			}
			if applied > 0 {
				pending = true
			}
		}
		if !pending {
			return nil
		}
	}
}

// Lag reports, per projector, how many global positions behind the head
// of the event log its cursor is.
func (p *EventProcessor) Lag(ctx context.Context) (map[string]int64, error) {
	head, err := p.store.LastPosition(ctx)
	if err != nil {
		return nil, err
	}

	lag := make(map[string]int64, len(p.projectors))
	for _, projector := range p.projectors {
		position, err := p.checkpoints.Get(ctx, projector.Name())
		if err != nil {
			return nil, err
		}
		lag[projector.Name()] = head - position
	}

	return lag, nil
}
