package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/models"
)

// GormEventStore implements EventStore on the events table.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store.
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append persists events inside one transaction. The expected-version
// check plus the unique (aggregate_id, sequence) index guarantee that of
// two concurrent writers exactly one succeeds.
func (s *GormEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedLastSequence int64, events []domain.Event) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	sequences := make([]int64, 0, len(events))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&models.Event{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&last).Error; err != nil {
			return translateStoreErr(err)
		}

		if last != expectedLastSequence {
			return fmt.Errorf("%w: expected sequence %d, store has %d for aggregate %s",
				domain.ErrConcurrencyConflict, expectedLastSequence, last, aggregateID)
		}

		for i, event := range events {
			data, err := domain.MarshalEventData(event.Type, event.Data)
			if err != nil {
				return err
			}

			sequence := expectedLastSequence + int64(i) + 1
			dbEvent := models.Event{
				EventID:       uuid.New().String(),
				AggregateID:   aggregateID,
				AggregateType: aggregateType,
				EventType:     event.Type,
				Data:          data,
				Sequence:      sequence,
				Timestamp:     event.Timestamp,
			}

			if err := tx.Create(&dbEvent).Error; err != nil {
				return translateStoreErr(err)
			}

			sequences = append(sequences, sequence)

			log.Info().
				Str("aggregateID", aggregateID).
				Str("eventType", event.Type).
				Int64("sequence", sequence).
				Msg("Event appended")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return sequences, nil
}

// LoadStream returns an aggregate's events in sequence order.
func (s *GormEventStore) LoadStream(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("sequence ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, translateStoreErr(err)
	}

	return decodeRows(dbEvents), nil
}

// LoadAll returns events across all aggregates after a global position.
func (s *GormEventStore) LoadAll(ctx context.Context, afterPosition int64, limit int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("id > ?", afterPosition).
		Order("id ASC").
		Limit(limit).
		Find(&dbEvents).Error; err != nil {
		return nil, translateStoreErr(err)
	}

	return decodeRows(dbEvents), nil
}

// LastSequence returns the last assigned sequence for an aggregate.
func (s *GormEventStore) LastSequence(ctx context.Context, aggregateID string) (int64, error) {
	var last int64
	if err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error; err != nil {
		return 0, translateStoreErr(err)
	}

	return last, nil
}

// LastPosition returns the highest global position in the store.
func (s *GormEventStore) LastPosition(ctx context.Context) (int64, error) {
	var last int64
	if err := s.db.WithContext(ctx).Model(&models.Event{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&last).Error; err != nil {
		return 0, translateStoreErr(err)
	}

	return last, nil
}

// Exists checks if an aggregate has any history.
func (s *GormEventStore) Exists(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Count(&count).Error; err != nil {
		return false, translateStoreErr(err)
	}

	return count > 0, nil
}

// decodeRows converts log rows to domain events. Rows with an unknown
// event type keep their sequence but carry a nil payload; decode failures
// on known types are logged and treated the same so one bad historical
// row cannot wedge a stream.
func decodeRows(dbEvents []models.Event) []domain.Event {
	events := make([]domain.Event, 0, len(dbEvents))
	for _, dbEvent := range dbEvents {
		data, err := domain.UnmarshalEventData(dbEvent.EventType, dbEvent.Data)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownEventType) {
				log.Warn().
					Str("eventID", dbEvent.EventID).
					Str("eventType", dbEvent.EventType).
					Msg("Skipping event with unknown type")
			} else {
				log.Error().Err(err).
					Str("eventID", dbEvent.EventID).
					Str("eventType", dbEvent.EventType).
					Msg("Failed to decode event payload")
			}
			data = nil
		}

		events = append(events, domain.Event{
			ID:             dbEvent.EventID,
			AggregateID:    dbEvent.AggregateID,
			AggregateType:  dbEvent.AggregateType,
			Type:           dbEvent.EventType,
			Sequence:       dbEvent.Sequence,
			GlobalPosition: int64(dbEvent.ID),
			Timestamp:      dbEvent.Timestamp,
			Data:           data,
		})
	}

	return events
}

// translateStoreErr maps infrastructure failures onto the domain error
// taxonomy so callers can decide on retries.
func translateStoreErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 = unique_violation: a concurrent writer won the race for
		// (aggregate_id, sequence) between our max() read and the insert.
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
		return err
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}

	return err
}
