package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/repositories"
)

const sweepBatchSize = 200

// SessionSweeper abandons sessions that have been idle for longer than
// the configured timeout. It reads candidates from the session read model
// and goes through the normal AbandonSession command path, so a session
// that saw activity after the projection lagged behind simply loses the
// race and is skipped.
type SessionSweeper struct {
	sessions    repositories.SessionRepository
	handler     *SessionHandler
	idleTimeout time.Duration
}

// NewSessionSweeper creates a sweeper with the given idle timeout.
func NewSessionSweeper(sessions repositories.SessionRepository, handler *SessionHandler, idleTimeout time.Duration) *SessionSweeper {
	return &SessionSweeper{
		sessions:    sessions,
		handler:     handler,
		idleTimeout: idleTimeout,
	}
}

// Sweep abandons all idle sessions found in one pass and returns how many
// were abandoned.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	idleSince := time.Now().Add(-s.idleTimeout)

	candidates, err := s.sessions.ListIdleActiveSessions(ctx, idleSince, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range candidates {
		cmd := AbandonSessionCommand{
			SessionID:   candidate.SessionID,
			Reason:      "idle_timeout",
			IfIdleSince: &idleSince,
			// Keyed to the observed activity time so re-sweeping the
			// same candidate is a no-op.
			IdempotencyKey: fmt.Sprintf("sweep-%d", candidate.LastActivityAt.UnixNano()),
		}

		if _, err := s.handler.HandleAbandonSession(ctx, cmd); err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrUnknownAggregate) {
				// Already terminal, or the read model is ahead of us.
				continue
			}
			log.Error().Err(err).Str("sessionID", candidate.SessionID).Msg("Failed to abandon idle session")
			continue
		}
		swept++
	}

	if swept > 0 {
		log.Info().Int("count", swept).Msg("Abandoned idle sessions")
	}

	return swept, nil
}
