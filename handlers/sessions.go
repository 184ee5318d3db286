package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/eventstore"
)

// maxConflictRetries bounds reload-and-retry after an optimistic append
// loses to a concurrent writer. Exhausting it surfaces the conflict.
const maxConflictRetries = 3

// Command structs
type StartSessionCommand struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	LocationID     int64  `json:"location_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type AddItemToCartCommand struct {
	SessionID      string                `json:"session_id" validate:"required"`
	LineItemID     string                `json:"line_item_id"`
	ItemID         int64                 `json:"item_id"`
	Name           string                `json:"name"`
	Quantity       int                   `json:"quantity" validate:"gt=0"`
	UnitPrice      int64                 `json:"unit_price"`
	Modifiers      []domain.ItemModifier `json:"modifiers"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type RemoveItemFromCartCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	LineItemID     string `json:"line_item_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ModifyCartItemCommand struct {
	SessionID      string                `json:"session_id" validate:"required"`
	LineItemID     string                `json:"line_item_id" validate:"required"`
	Quantity       int                   `json:"quantity" validate:"gt=0"`
	Modifiers      []domain.ItemModifier `json:"modifiers"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type SelectServingTypeCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	ServingType    string `json:"serving_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

type EnterCustomerInfoCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	TableNumber    string `json:"table_number"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SelectPaymentMethodCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SaveDraftCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type AbandonSessionCommand struct {
	SessionID string `json:"session_id" validate:"required"`
	Reason    string `json:"reason"`
	// IfIdleSince makes the abandon conditional: it is rejected when the
	// session saw activity after this instant. The idle-timeout sweep
	// sets it to guard against a stale read model.
	IfIdleSince    *time.Time `json:"if_idle_since,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
}

type ConvertSessionToOrderCommand struct {
	SessionID      string `json:"session_id" validate:"required"`
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SessionHandler handles commands against order session aggregates.
type SessionHandler struct {
	store  eventstore.EventStore
	ledger CommandLedger
}

// NewSessionHandler creates a new session command handler.
func NewSessionHandler(store eventstore.EventStore, ledger CommandLedger) *SessionHandler {
	return &SessionHandler{store: store, ledger: ledger}
}

// HandleStartSession initiates a new order session.
func (h *SessionHandler) HandleStartSession(ctx context.Context, cmd StartSessionCommand) ([]domain.Event, error) {
	if cmd.SessionID == "" {
		cmd.SessionID = uuid.New().String()
	}
	log.Info().Str("sessionID", cmd.SessionID).Msg("Handling StartSession command")

	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if aggregate.Created() {
			return fmt.Errorf("%w: session %s already started", domain.ErrInvalidStateTransition, cmd.SessionID)
		}
		return aggregate.Apply(domain.SessionInitiatedEvent{
			SessionID:  cmd.SessionID,
			UserID:     cmd.UserID,
			LocationID: cmd.LocationID,
			StartedAt:  time.Now().UTC(),
		})
	})
}

// HandleAddItemToCart adds an item to an active session's cart.
func (h *SessionHandler) HandleAddItemToCart(ctx context.Context, cmd AddItemToCartCommand) ([]domain.Event, error) {
	if cmd.LineItemID == "" {
		cmd.LineItemID = uuid.New().String()
	}

	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		if cmd.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidStateTransition)
		}
		return aggregate.Apply(domain.CartItemAddedEvent{
			LineItemID: cmd.LineItemID,
			ItemID:     cmd.ItemID,
			Name:       cmd.Name,
			Quantity:   cmd.Quantity,
			UnitPrice:  cmd.UnitPrice,
			Modifiers:  cmd.Modifiers,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleRemoveItemFromCart removes a cart line.
func (h *SessionHandler) HandleRemoveItemFromCart(ctx context.Context, cmd RemoveItemFromCartCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		if _, ok := aggregate.FindCartItem(cmd.LineItemID); !ok {
			return fmt.Errorf("%w: cart item %s not found", domain.ErrInvalidStateTransition, cmd.LineItemID)
		}
		return aggregate.Apply(domain.CartItemRemovedEvent{
			LineItemID: cmd.LineItemID,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleModifyCartItem changes the quantity or modifiers of a cart line.
func (h *SessionHandler) HandleModifyCartItem(ctx context.Context, cmd ModifyCartItemCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		if _, ok := aggregate.FindCartItem(cmd.LineItemID); !ok {
			return fmt.Errorf("%w: cart item %s not found", domain.ErrInvalidStateTransition, cmd.LineItemID)
		}
		if cmd.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidStateTransition)
		}
		return aggregate.Apply(domain.CartItemModifiedEvent{
			LineItemID: cmd.LineItemID,
			Quantity:   cmd.Quantity,
			Modifiers:  cmd.Modifiers,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleSelectServingType records the serving type choice.
func (h *SessionHandler) HandleSelectServingType(ctx context.Context, cmd SelectServingTypeCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		return aggregate.Apply(domain.ServingTypeSelectedEvent{
			ServingType: cmd.ServingType,
			Time:        time.Now().UTC(),
		})
	})
}

// HandleEnterCustomerInfo records customer details.
func (h *SessionHandler) HandleEnterCustomerInfo(ctx context.Context, cmd EnterCustomerInfoCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		return aggregate.Apply(domain.CustomerInfoEnteredEvent{
			Name:        cmd.Name,
			Phone:       cmd.Phone,
			Email:       cmd.Email,
			TableNumber: cmd.TableNumber,
			Time:        time.Now().UTC(),
		})
	})
}

// HandleSelectPaymentMethod records the payment method choice.
func (h *SessionHandler) HandleSelectPaymentMethod(ctx context.Context, cmd SelectPaymentMethodCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		return aggregate.Apply(domain.PaymentMethodSelectedEvent{
			PaymentMethod: cmd.PaymentMethod,
			Time:          time.Now().UTC(),
		})
	})
}

// HandleSaveDraft marks the session as explicitly saved, refreshing its
// activity timestamp.
func (h *SessionHandler) HandleSaveDraft(ctx context.Context, cmd SaveDraftCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		return aggregate.Apply(domain.DraftSavedEvent{Time: time.Now().UTC()})
	})
}

// HandleAbandonSession terminates a session. The idle-timeout sweep and
// explicit user action both arrive through this command.
func (h *SessionHandler) HandleAbandonSession(ctx context.Context, cmd AbandonSessionCommand) ([]domain.Event, error) {
	log.Info().Str("sessionID", cmd.SessionID).Str("reason", cmd.Reason).Msg("Handling AbandonSession command")

	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		if cmd.IfIdleSince != nil && aggregate.State.LastActivityAt.After(*cmd.IfIdleSince) {
			return fmt.Errorf("%w: session %s saw activity after %s", domain.ErrInvalidStateTransition, cmd.SessionID, cmd.IfIdleSince.Format(time.RFC3339))
		}
		return aggregate.Apply(domain.SessionAbandonedEvent{
			Reason: cmd.Reason,
			Time:   time.Now().UTC(),
		})
	})
}

// HandleConvertSessionToOrder terminates a session by handing its cart
// over to a new order. The caller issues StartOrder with the returned
// order ID afterwards.
func (h *SessionHandler) HandleConvertSessionToOrder(ctx context.Context, cmd ConvertSessionToOrderCommand) ([]domain.Event, error) {
	if cmd.OrderID == "" {
		cmd.OrderID = uuid.New().String()
	}
	log.Info().Str("sessionID", cmd.SessionID).Str("orderID", cmd.OrderID).Msg("Handling ConvertSessionToOrder command")

	return h.execute(ctx, cmd.SessionID, cmd.IdempotencyKey, func(aggregate *domain.SessionAggregate) error {
		if err := h.requireActive(aggregate); err != nil {
			return err
		}
		if len(aggregate.State.CartItems) == 0 {
			return fmt.Errorf("%w: cannot convert session with an empty cart", domain.ErrInvalidStateTransition)
		}
		return aggregate.Apply(domain.SessionConvertedEvent{
			OrderID: cmd.OrderID,
			Time:    time.Now().UTC(),
		})
	})
}

// requireActive rejects commands against sessions that do not exist or
// have already seen a terminal event.
func (h *SessionHandler) requireActive(aggregate *domain.SessionAggregate) error {
	if !aggregate.Created() {
		return fmt.Errorf("%w: session %s", domain.ErrUnknownAggregate, aggregate.GetID())
	}
	if aggregate.Terminal() {
		return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidStateTransition, aggregate.GetID(), aggregate.State.Status)
	}
	return nil
}

// seen consults the idempotency ledger. Ledger outages are logged and
// treated as unseen so command processing does not depend on the cache.
func (h *SessionHandler) seen(ctx context.Context, aggregateID, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" || h.ledger == nil {
		return false, nil
	}

	fresh, err := h.ledger.Record(ctx, aggregateID, idempotencyKey)
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", aggregateID).Msg("Idempotency ledger unavailable")
		return false, nil
	}
	if !fresh {
		log.Info().Str("aggregateID", aggregateID).Str("idempotencyKey", idempotencyKey).Msg("Duplicate command ignored")
	}
	return !fresh, nil
}

// forget releases a recorded key after a failed command so the caller's
// retry with the same key is not dropped as a duplicate. It runs on a
// fresh context: the failure being cleaned up may be the caller's
// context expiring.
func (h *SessionHandler) forget(aggregateID, idempotencyKey string) {
	if idempotencyKey == "" || h.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ledger.Forget(ctx, aggregateID, idempotencyKey); err != nil {
		log.Warn().Err(err).Str("aggregateID", aggregateID).Msg("Failed to release idempotency key")
	}
}

// execute records the command's idempotency key, runs the append cycle,
// and releases the key again when the command fails. Only a command that
// actually committed its events keeps the key, so retrying a failed
// command is never mistaken for a duplicate.
func (h *SessionHandler) execute(ctx context.Context, sessionID, idempotencyKey string, fn func(*domain.SessionAggregate) error) ([]domain.Event, error) {
	if dup, err := h.seen(ctx, sessionID, idempotencyKey); err != nil {
		return nil, err
	} else if dup {
		return nil, nil
	}

	events, err := h.run(ctx, sessionID, fn)
	if err != nil {
		h.forget(sessionID, idempotencyKey)
	}
	return events, err
}

// run is one load-fold-validate-append cycle, reloading and retrying a
// bounded number of times when the append loses an optimistic
// concurrency race.
func (h *SessionHandler) run(ctx context.Context, sessionID string, fn func(*domain.SessionAggregate) error) ([]domain.Event, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		aggregate := domain.NewSessionAggregate(sessionID)
		if err := eventstore.Load(ctx, h.store, aggregate); err != nil {
			return nil, err
		}

		if err := fn(aggregate); err != nil {
			return nil, err
		}

		events := append([]domain.Event(nil), aggregate.GetUncommittedEvents()...)
		if err := eventstore.Save(ctx, h.store, aggregate); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return events, nil
	}

	return nil, lastErr
}
