package models

import (
	"time"
)

// Event is the append-only event log row. ID doubles as the globally
// monotonic position projector cursors resume from; the unique
// (aggregate_id, sequence) index rejects duplicate sequence numbers and
// backs the optimistic concurrency check. Rows are never updated or
// deleted.
type Event struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"uniqueIndex" json:"event_id"`
	AggregateID   string    `gorm:"uniqueIndex:idx_events_aggregate_sequence" json:"aggregate_id"`
	AggregateType string    `gorm:"index" json:"aggregate_type"`
	EventType     string    `json:"event_type"`
	Data          []byte    `json:"data"`
	Sequence      int64     `gorm:"uniqueIndex:idx_events_aggregate_sequence" json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProjectionCheckpoint stores the highest global position a projector has
// consumed, so catch-up after a crash resumes without double-applying or
// skipping.
type ProjectionCheckpoint struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectorName string    `gorm:"uniqueIndex" json:"projector_name"`
	Position      int64     `json:"position"`
	UpdatedAt     time.Time `json:"updated_at"`
}
