package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/dinehub/services/orders/models"
)

// SessionRepository owns the order_sessions read-model table. Only the
// session projector writes through it.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (*models.OrderSession, error)
	SaveSession(ctx context.Context, session *models.OrderSession) error
	GetActiveSessionsForLocation(ctx context.Context, locationID int64) ([]models.OrderSession, error)
	ListIdleActiveSessions(ctx context.Context, idleSince time.Time, limit int) ([]models.OrderSession, error)
	TruncateAll(ctx context.Context) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a GORM-backed session repository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) GetSession(ctx context.Context, sessionID string) (*models.OrderSession, error) {
	var session models.OrderSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) SaveSession(ctx context.Context, session *models.OrderSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *sessionRepository) GetActiveSessionsForLocation(ctx context.Context, locationID int64) ([]models.OrderSession, error) {
	var sessions []models.OrderSession
	if err := r.db.WithContext(ctx).
		Where("location_id = ? AND status = ?", locationID, "active").
		Order("last_activity_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListIdleActiveSessions returns active sessions with no activity since
// idleSince. The abandonment sweep feeds these back in as AbandonSession
// commands.
func (r *sessionRepository) ListIdleActiveSessions(ctx context.Context, idleSince time.Time, limit int) ([]models.OrderSession, error) {
	var sessions []models.OrderSession
	if err := r.db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", "active", idleSince).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepository) TruncateAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&models.OrderSession{}).Error
}
