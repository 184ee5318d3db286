package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/dinehub/services/orders/models"
)

// CheckpointRepository persists projector cursors.
type CheckpointRepository interface {
	Get(ctx context.Context, projectorName string) (int64, error)
	Set(ctx context.Context, projectorName string, position int64) error
	Reset(ctx context.Context, projectorName string) error
}

type checkpointRepository struct {
	db *gorm.DB
}

// NewCheckpointRepository creates a GORM-backed checkpoint repository.
func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

// Get returns the projector's cursor, zero if it has never run.
func (r *checkpointRepository) Get(ctx context.Context, projectorName string) (int64, error) {
	var checkpoint models.ProjectionCheckpoint
	if err := r.db.WithContext(ctx).
		Where("projector_name = ?", projectorName).
		First(&checkpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return checkpoint.Position, nil
}

func (r *checkpointRepository) Set(ctx context.Context, projectorName string, position int64) error {
	checkpoint := models.ProjectionCheckpoint{
		ProjectorName: projectorName,
		Position:      position,
		UpdatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "projector_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).
		Create(&checkpoint).Error
}

func (r *checkpointRepository) Reset(ctx context.Context, projectorName string) error {
	return r.Set(ctx, projectorName, 0)
}
