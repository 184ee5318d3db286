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

// KitchenNotifier pushes kitchen-relevant status changes to the kitchen
// display path. Implementations must be safe for concurrent use.
type KitchenNotifier interface {
	NotifyOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, items []domain.OrderItem) error
}

// Command structs
type StartOrderCommand struct {
	OrderID        string `json:"order_id"`
	SessionID      string `json:"session_id" validate:"required"`
	TaxRateBps     int64  `json:"tax_rate_bps"`
	IdempotencyKey string `json:"idempotency_key"`
}

type AddOrderItemCommand struct {
	OrderID        string                `json:"order_id" validate:"required"`
	LineItemID     string                `json:"line_item_id"`
	ItemID         int64                 `json:"item_id"`
	Name           string                `json:"name"`
	Quantity       int                   `json:"quantity" validate:"gt=0"`
	UnitPrice      int64                 `json:"unit_price"`
	Modifiers      []domain.ItemModifier `json:"modifiers"`
	IdempotencyKey string                `json:"idempotency_key"`
}

type RemoveOrderItemCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	LineItemID     string `json:"line_item_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ChangeOrderItemQuantityCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	LineItemID     string `json:"line_item_id" validate:"required"`
	Quantity       int    `json:"quantity" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ChangeOrderStatusCommand struct {
	OrderID        string             `json:"order_id" validate:"required"`
	Status         domain.OrderStatus `json:"status" validate:"required"`
	ChangedBy      string             `json:"changed_by"`
	Notes          string             `json:"notes"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type CancelOrderCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	Reason         string `json:"reason"`
	CancelledBy    string `json:"cancelled_by"`
	IdempotencyKey string `json:"idempotency_key"`
}

type RefundOrderCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	RefundedBy     string `json:"refunded_by"`
	IdempotencyKey string `json:"idempotency_key"`
}

type RecordOrderPaymentCommand struct {
	OrderID        string `json:"order_id" validate:"required"`
	PaymentStatus  string `json:"payment_status"`
	PaymentMethod  string `json:"payment_method"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// OrderHandler handles commands against order aggregates.
type OrderHandler struct {
	store   eventstore.EventStore
	ledger  CommandLedger
	kitchen KitchenNotifier
}

// NewOrderHandler creates a new order command handler. kitchen may be nil
// when no kitchen display path is configured.
func NewOrderHandler(store eventstore.EventStore, ledger CommandLedger, kitchen KitchenNotifier) *OrderHandler {
	return &OrderHandler{store: store, ledger: ledger, kitchen: kitchen}
}

// HandleStartOrder materializes an order from a converted session,
// copying the session's cart into the order's item list.
func (h *OrderHandler) HandleStartOrder(ctx context.Context, cmd StartOrderCommand) ([]domain.Event, error) {
	log.Info().Str("orderID", cmd.OrderID).Str("sessionID", cmd.SessionID).Msg("Handling StartOrder command")

	session := domain.NewSessionAggregate(cmd.SessionID)
	if err := eventstore.Load(ctx, h.store, session); err != nil {
		return nil, err
	}
	if !session.Created() {
		return nil, fmt.Errorf("%w: session %s", domain.ErrUnknownAggregate, cmd.SessionID)
	}
	if session.State.Status != domain.SessionStatusConverted {
		return nil, fmt.Errorf("%w: session %s is %s, expected converted", domain.ErrInvalidStateTransition, cmd.SessionID, session.State.Status)
	}
	if cmd.OrderID == "" {
		cmd.OrderID = session.State.OrderID
	}
	if cmd.OrderID != session.State.OrderID {
		return nil, fmt.Errorf("%w: session %s converted to order %s, not %s", domain.ErrInvalidStateTransition, cmd.SessionID, session.State.OrderID, cmd.OrderID)
	}

	items := make([]domain.OrderItem, 0, len(session.State.CartItems))
	for _, cartItem := range session.State.CartItems {
		items = append(items, domain.OrderItem{
			LineItemID:    cartItem.LineItemID,
			ItemID:        cartItem.ItemID,
			Name:          cartItem.Name,
			Quantity:      cartItem.Quantity,
			UnitPrice:     cartItem.UnitPrice,
			Modifiers:     cartItem.Modifiers,
			TotalPrice:    cartItem.TotalPrice,
			KitchenStatus: "pending",
		})
	}

	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if aggregate.Created() {
			return fmt.Errorf("%w: order %s already started", domain.ErrInvalidStateTransition, cmd.OrderID)
		}
		return aggregate.Apply(domain.OrderStartedEvent{
			OrderID:    cmd.OrderID,
			SessionID:  cmd.SessionID,
			LocationID: session.State.LocationID,
			UserID:     session.State.UserID,
			Type:       session.State.ServingType,
			Items:      items,
			TaxRateBps: cmd.TaxRateBps,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleAddOrderItem appends an item to a still-modifiable order.
func (h *OrderHandler) HandleAddOrderItem(ctx context.Context, cmd AddOrderItemCommand) ([]domain.Event, error) {
	if cmd.LineItemID == "" {
		cmd.LineItemID = uuid.New().String()
	}

	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireModifiable(aggregate); err != nil {
			return err
		}
		if cmd.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidStateTransition)
		}
		return aggregate.Apply(domain.OrderItemAddedEvent{
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

// HandleRemoveOrderItem removes a line from a still-modifiable order.
func (h *OrderHandler) HandleRemoveOrderItem(ctx context.Context, cmd RemoveOrderItemCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireModifiable(aggregate); err != nil {
			return err
		}
		if _, ok := aggregate.FindItem(cmd.LineItemID); !ok {
			return fmt.Errorf("%w: order item %s not found", domain.ErrInvalidStateTransition, cmd.LineItemID)
		}
		return aggregate.Apply(domain.OrderItemRemovedEvent{
			LineItemID: cmd.LineItemID,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleChangeOrderItemQuantity changes a line's quantity.
func (h *OrderHandler) HandleChangeOrderItemQuantity(ctx context.Context, cmd ChangeOrderItemQuantityCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireModifiable(aggregate); err != nil {
			return err
		}
		if _, ok := aggregate.FindItem(cmd.LineItemID); !ok {
			return fmt.Errorf("%w: order item %s not found", domain.ErrInvalidStateTransition, cmd.LineItemID)
		}
		if cmd.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidStateTransition)
		}
		return aggregate.Apply(domain.OrderItemQuantityChangedEvent{
			LineItemID: cmd.LineItemID,
			Quantity:   cmd.Quantity,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleChangeOrderStatus moves an order towards the target status. Direct
// edges take a single event; a forward jump inside the checkout pipeline
// emits one event per intermediate stage. Kitchen-relevant targets are
// pushed to the kitchen after a successful append.
func (h *OrderHandler) HandleChangeOrderStatus(ctx context.Context, cmd ChangeOrderStatusCommand) ([]domain.Event, error) {
	log.Info().Str("orderID", cmd.OrderID).Str("status", string(cmd.Status)).Msg("Handling ChangeOrderStatus command")

	events, err := h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireStarted(aggregate); err != nil {
			return err
		}
		path, err := domain.StatusPath(aggregate.State.Status, cmd.Status)
		if err != nil {
			return err
		}
		from := aggregate.State.Status
		for _, next := range path {
			event := domain.OrderStatusChangedEvent{
				From:      from,
				To:        next,
				ChangedBy: cmd.ChangedBy,
				Notes:     cmd.Notes,
				Time:      time.Now().UTC(),
			}
			if err := aggregate.Apply(event); err != nil {
				return err
			}
			from = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cmd.Status.AffectsKitchen() {
		h.notifyKitchen(ctx, cmd.OrderID, cmd.Status)
	}

	return events, nil
}

// HandleCancelOrder cancels an order that is still cancellable.
func (h *OrderHandler) HandleCancelOrder(ctx context.Context, cmd CancelOrderCommand) ([]domain.Event, error) {
	log.Info().Str("orderID", cmd.OrderID).Str("reason", cmd.Reason).Msg("Handling CancelOrder command")

	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireStarted(aggregate); err != nil {
			return err
		}
		if !aggregate.State.Status.CanBeCancelled() {
			return domain.IllegalTransitionError{From: aggregate.State.Status, To: domain.StatusCancelled}
		}
		return aggregate.Apply(domain.OrderCancelledEvent{
			From:        aggregate.State.Status,
			Reason:      cmd.Reason,
			CancelledBy: cmd.CancelledBy,
			Time:        time.Now().UTC(),
		})
	})
}

// HandleRefundOrder refunds a completed order in full.
func (h *OrderHandler) HandleRefundOrder(ctx context.Context, cmd RefundOrderCommand) ([]domain.Event, error) {
	log.Info().Str("orderID", cmd.OrderID).Msg("Handling RefundOrder command")

	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireStarted(aggregate); err != nil {
			return err
		}
		if err := domain.CheckTransition(aggregate.State.Status, domain.StatusRefunded); err != nil {
			return err
		}
		return aggregate.Apply(domain.OrderRefundedEvent{
			Amount:     aggregate.State.Total,
			RefundedBy: cmd.RefundedBy,
			Time:       time.Now().UTC(),
		})
	})
}

// HandleRecordOrderPayment records a payment outcome against the order.
func (h *OrderHandler) HandleRecordOrderPayment(ctx context.Context, cmd RecordOrderPaymentCommand) ([]domain.Event, error) {
	return h.execute(ctx, cmd.OrderID, cmd.IdempotencyKey, func(aggregate *domain.OrderAggregate) error {
		if err := h.requireStarted(aggregate); err != nil {
			return err
		}
		if !aggregate.State.Status.CanProcessPayment() {
			return fmt.Errorf("%w: cannot record payment while order %s is %s", domain.ErrInvalidStateTransition, cmd.OrderID, aggregate.State.Status)
		}
		return aggregate.Apply(domain.OrderPaymentRecordedEvent{
			PaymentStatus: cmd.PaymentStatus,
			PaymentMethod: cmd.PaymentMethod,
			Amount:        cmd.Amount,
			Time:          time.Now().UTC(),
		})
	})
}

func (h *OrderHandler) requireStarted(aggregate *domain.OrderAggregate) error {
	if !aggregate.Created() {
		return fmt.Errorf("%w: order %s", domain.ErrUnknownAggregate, aggregate.GetID())
	}
	return nil
}

func (h *OrderHandler) requireModifiable(aggregate *domain.OrderAggregate) error {
	if err := h.requireStarted(aggregate); err != nil {
		return err
	}
	if !aggregate.State.Status.CanBeModified() {
		return fmt.Errorf("%w: order %s is %s and can no longer be modified", domain.ErrInvalidStateTransition, aggregate.GetID(), aggregate.State.Status)
	}
	return nil
}

// notifyKitchen is best effort: the status change is already committed,
// so delivery failures are logged and not surfaced to the caller.
func (h *OrderHandler) notifyKitchen(ctx context.Context, orderID string, status domain.OrderStatus) {
	if h.kitchen == nil {
		return
	}

	aggregate := domain.NewOrderAggregate(orderID)
	if err := eventstore.Load(ctx, h.store, aggregate); err != nil {
		log.Error().Err(err).Str("orderID", orderID).Msg("Failed to load order for kitchen notification")
		return
	}

	if err := h.kitchen.NotifyOrderStatus(ctx, orderID, status, aggregate.State.Items); err != nil {
		log.Error().Err(err).Str("orderID", orderID).Msg("Failed to notify kitchen")
	}
}

func (h *OrderHandler) seen(ctx context.Context, aggregateID, idempotencyKey string) (bool, error) {
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

func (h *OrderHandler) forget(aggregateID, idempotencyKey string) {
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
// actually committed its events keeps the key.
func (h *OrderHandler) execute(ctx context.Context, orderID, idempotencyKey string, fn func(*domain.OrderAggregate) error) ([]domain.Event, error) {
	if dup, err := h.seen(ctx, orderID, idempotencyKey); err != nil {
		return nil, err
	} else if dup {
		return nil, nil
	}

	events, err := h.run(ctx, orderID, fn)
	if err != nil {
		h.forget(orderID, idempotencyKey)
	}
	return events, err
}

func (h *OrderHandler) run(ctx context.Context, orderID string, fn func(*domain.OrderAggregate) error) ([]domain.Event, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		aggregate := domain.NewOrderAggregate(orderID)
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
