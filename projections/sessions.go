package projections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/models"
	"example.com/dinehub/services/orders/repositories"
)

// SessionProjectorName identifies the session projector's cursor.
const SessionProjectorName = "order_sessions"

// SessionProjector maintains the order_sessions read model.
type SessionProjector struct {
	sessions repositories.SessionRepository
}

// NewSessionProjector creates a new session projector.
func NewSessionProjector(sessions repositories.SessionRepository) *SessionProjector {
	return &SessionProjector{sessions: sessions}
}

// Name returns the projector name.
func (p *SessionProjector) Name() string {
	return SessionProjectorName
}

// Reset truncates the projector's owned table.
func (p *SessionProjector) Reset(ctx context.Context) error {
	return p.sessions.TruncateAll(ctx)
}

// Apply projects one event into the session read model.
func (p *SessionProjector) Apply(ctx context.Context, event domain.Event) error {
	if event.AggregateType != domain.AggregateTypeOrderSession {
		return nil
	}

	if initiated, ok := event.Data.(domain.SessionInitiatedEvent); ok {
		return p.projectSessionInitiated(ctx, event, initiated)
	}

	session, err := p.sessions.GetSession(ctx, event.AggregateID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("session row missing for aggregate %s at sequence %d", event.AggregateID, event.Sequence)
		}
		return err
	}

	if event.Sequence <= session.LastSequence {
		return nil
	}
	if event.Sequence > session.LastSequence+1 {
		return fmt.Errorf("sequence gap for session %s: row at %d, event at %d", event.AggregateID, session.LastSequence, event.Sequence)
	}

	cart, err := decodeCart(session.CartItems)
	if err != nil {
		return err
	}

	switch e := event.Data.(type) {
	case domain.CartItemAddedEvent:
		cart = append(cart, domain.CartItem{
			LineItemID: e.LineItemID,
			ItemID:     e.ItemID,
			Name:       e.Name,
			Quantity:   e.Quantity,
			UnitPrice:  e.UnitPrice,
			Modifiers:  e.Modifiers,
			TotalPrice: domain.LineTotal(e.Quantity, e.UnitPrice, e.Modifiers),
		})
		session.LastActivityAt = e.Time

	case domain.CartItemRemovedEvent:
		for i, item := range cart {
			if item.LineItemID == e.LineItemID {
				cart = append(cart[:i], cart[i+1:]...)
				break
			}
		}
		session.LastActivityAt = e.Time

	case domain.CartItemModifiedEvent:
		for i := range cart {
			if cart[i].LineItemID == e.LineItemID {
				cart[i].Quantity = e.Quantity
				cart[i].Modifiers = e.Modifiers
				cart[i].TotalPrice = domain.LineTotal(e.Quantity, cart[i].UnitPrice, e.Modifiers)
				break
			}
		}
		session.LastActivityAt = e.Time

	case domain.ServingTypeSelectedEvent:
		servingType := e.ServingType
		session.ServingType = &servingType
		session.LastActivityAt = e.Time

	case domain.CustomerInfoEnteredEvent:
		session.CustomerName = e.Name
		session.CustomerPhone = e.Phone
		session.CustomerEmail = e.Email
		session.TableNumber = e.TableNumber
		session.LastActivityAt = e.Time

	case domain.PaymentMethodSelectedEvent:
		method := e.PaymentMethod
		session.PaymentMethod = &method
		session.LastActivityAt = e.Time

	case domain.DraftSavedEvent:
		session.LastActivityAt = e.Time

	case domain.SessionAbandonedEvent:
		session.Status = string(domain.SessionStatusAbandoned)
		session.LastActivityAt = e.Time

	case domain.SessionConvertedEvent:
		session.Status = string(domain.SessionStatusConverted)
		orderID := e.OrderID
		session.OrderID = &orderID
		session.LastActivityAt = e.Time

	default:
		// Unknown event types advance the cursor only.
	}

	encoded, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	session.CartItems = encoded
	session.CartItemsCount = len(cart)
	session.LastSequence = event.Sequence
	session.UpdatedAt = event.Timestamp

	return p.sessions.SaveSession(ctx, session)
}

func (p *SessionProjector) projectSessionInitiated(ctx context.Context, event domain.Event, e domain.SessionInitiatedEvent) error {
	if existing, err := p.sessions.GetSession(ctx, event.AggregateID); err == nil && existing.LastSequence >= event.Sequence {
		return nil
	} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	session := &models.OrderSession{
		SessionID:      e.SessionID,
		LocationID:     e.LocationID,
		Status:         string(domain.SessionStatusActive),
		CartItems:      []byte("[]"),
		StartedAt:      e.StartedAt,
		LastActivityAt: e.StartedAt,
		LastSequence:   event.Sequence,
		CreatedAt:      event.Timestamp,
		UpdatedAt:      event.Timestamp,
	}
	if e.UserID != "" {
		userID := e.UserID
		session.UserID = &userID
	}

	return p.sessions.SaveSession(ctx, session)
}

func decodeCart(raw []byte) ([]domain.CartItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cart []domain.CartItem
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, err
	}
	return cart, nil
}
