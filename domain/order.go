package domain

import "time"

// Payment status values carried on the order read model.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

// OrderState represents the folded state of an order: post-conversion
// fulfilment. Money fields are minor currency units.
type OrderState struct {
	OrderID          string
	SessionID        string
	LocationID       int64
	UserID           string
	Type             string
	Status           OrderStatus
	Items            []OrderItem
	Subtotal         int64
	Tax              int64
	Tip              int64
	Discount         int64
	Total            int64
	TaxRateBps       int64
	PaymentStatus    string
	PaymentMethod    string
	CancelReason     string
	StatusTimestamps map[OrderStatus]time.Time
}

// OrderAggregate is the aggregate for an order. Its Status field is only
// ever written by folding status events validated against the transition
// table.
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates a new order aggregate with zero state.
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{
		State: OrderState{
			OrderID:          id,
			StatusTimestamps: map[OrderStatus]time.Time{},
		},
	}

	base := NewAggregateBase(AggregateTypeOrder, aggregate.applyEvent)
	base.SetID(id)
	aggregate.AggregateBase = base

	return aggregate
}

// Created reports whether the order has any history.
func (a *OrderAggregate) Created() bool {
	return a.LastSequence() > 0
}

// FindItem returns the order item with the given line item ID.
func (a *OrderAggregate) FindItem(lineItemID string) (OrderItem, bool) {
	for _, item := range a.State.Items {
		if item.LineItemID == lineItemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// recalcTotals recomputes the money fields from the current items.
func (a *OrderAggregate) recalcTotals() {
	var subtotal int64
	for _, item := range a.State.Items {
		subtotal += item.TotalPrice
	}
	a.State.Subtotal = subtotal
	a.State.Tax = subtotal * a.State.TaxRateBps / 10000
	a.State.Total = a.State.Subtotal + a.State.Tax + a.State.Tip - a.State.Discount
}

// applyEvent folds an event into the order state. Unknown event types are
// a no-op for forward compatibility.
func (a *OrderAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case OrderStartedEvent:
		a.State.OrderID = e.OrderID
		a.State.SessionID = e.SessionID
		a.State.LocationID = e.LocationID
		a.State.UserID = e.UserID
		a.State.Type = e.Type
		a.State.Status = StatusDraft
		a.State.Items = append([]OrderItem(nil), e.Items...)
		a.State.TaxRateBps = e.TaxRateBps
		a.State.PaymentStatus = PaymentPending
		a.State.StatusTimestamps[StatusDraft] = e.Time
		a.recalcTotals()

	case OrderItemAddedEvent:
		a.State.Items = append(a.State.Items, OrderItem{
			LineItemID:    e.LineItemID,
			ItemID:        e.ItemID,
			Name:          e.Name,
			Quantity:      e.Quantity,
			UnitPrice:     e.UnitPrice,
			Modifiers:     e.Modifiers,
			TotalPrice:    LineTotal(e.Quantity, e.UnitPrice, e.Modifiers),
			KitchenStatus: "pending",
		})
		a.recalcTotals()

	case OrderItemRemovedEvent:
		for i, item := range a.State.Items {
			if item.LineItemID == e.LineItemID {
				a.State.Items = append(a.State.Items[:i], a.State.Items[i+1:]...)
				break
			}
		}
		a.recalcTotals()

	case OrderItemQuantityChangedEvent:
		for i := range a.State.Items {
			if a.State.Items[i].LineItemID == e.LineItemID {
				item := &a.State.Items[i]
				item.Quantity = e.Quantity
				item.TotalPrice = LineTotal(item.Quantity, item.UnitPrice, item.Modifiers)
				break
			}
		}
		a.recalcTotals()

	case OrderStatusChangedEvent:
		a.State.Status = e.To
		a.State.StatusTimestamps[e.To] = e.Time

	case OrderCancelledEvent:
		a.State.Status = StatusCancelled
		a.State.CancelReason = e.Reason
		a.State.StatusTimestamps[StatusCancelled] = e.Time

	case OrderRefundedEvent:
		a.State.Status = StatusRefunded
		a.State.PaymentStatus = PaymentRefunded
		a.State.StatusTimestamps[StatusRefunded] = e.Time

	case OrderPaymentRecordedEvent:
		a.State.PaymentStatus = e.PaymentStatus
		if e.PaymentMethod != "" {
			a.State.PaymentMethod = e.PaymentMethod
		}
	}

	return nil
}
