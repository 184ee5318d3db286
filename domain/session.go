package domain

import "time"

// SessionStatus is the lifecycle status of an order session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusConverted SessionStatus = "converted"
)

// CustomerInfo captures the customer details entered during a session.
type CustomerInfo struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	TableNumber string `json:"table_number,omitempty"`
}

// SessionState represents the folded state of an order session: the
// pre-checkout browsing and cart behavior of one customer visit.
type SessionState struct {
	SessionID      string
	UserID         string
	LocationID     int64
	Status         SessionStatus
	CartItems      []CartItem
	CustomerInfo   CustomerInfo
	ServingType    string
	PaymentMethod  string
	OrderID        string
	StartedAt      time.Time
	LastActivityAt time.Time
}

// SessionAggregate is the aggregate for an order session.
type SessionAggregate struct {
	*AggregateBase
	State SessionState
}

// NewSessionAggregate creates a new session aggregate with zero state.
func NewSessionAggregate(id string) *SessionAggregate {
	aggregate := &SessionAggregate{
		State: SessionState{
			SessionID: id,
		},
	}

	base := NewAggregateBase(AggregateTypeOrderSession, aggregate.applyEvent)
	base.SetID(id)
	aggregate.AggregateBase = base

	return aggregate
}

// Created reports whether the session has any history.
func (a *SessionAggregate) Created() bool {
	return a.LastSequence() > 0
}

// Terminal reports whether a terminal event has been folded. No further
// events are accepted after one.
func (a *SessionAggregate) Terminal() bool {
	return a.State.Status == SessionStatusAbandoned || a.State.Status == SessionStatusConverted
}

// FindCartItem returns the cart item with the given line item ID.
func (a *SessionAggregate) FindCartItem(lineItemID string) (CartItem, bool) {
	for _, item := range a.State.CartItems {
		if item.LineItemID == lineItemID {
			return item, true
		}
	}
	return CartItem{}, false
}

// applyEvent folds an event into the session state. Unknown event types
// are a no-op for forward compatibility.
func (a *SessionAggregate) applyEvent(event interface{}) error {
	switch e := event.(type) {
	case SessionInitiatedEvent:
		a.State.SessionID = e.SessionID
		a.State.UserID = e.UserID
		a.State.LocationID = e.LocationID
		a.State.Status = SessionStatusActive
		a.State.StartedAt = e.StartedAt
		a.State.LastActivityAt = e.StartedAt

	case CartItemAddedEvent:
		a.State.CartItems = append(a.State.CartItems, CartItem{
			LineItemID: e.LineItemID,
			ItemID:     e.ItemID,
			Name:       e.Name,
			Quantity:   e.Quantity,
			UnitPrice:  e.UnitPrice,
			Modifiers:  e.Modifiers,
			TotalPrice: LineTotal(e.Quantity, e.UnitPrice, e.Modifiers),
		})
		a.State.LastActivityAt = e.Time

	case CartItemRemovedEvent:
		for i, item := range a.State.CartItems {
			if item.LineItemID == e.LineItemID {
				a.State.CartItems = append(a.State.CartItems[:i], a.State.CartItems[i+1:]...)
				break
			}
		}
		a.State.LastActivityAt = e.Time

	case CartItemModifiedEvent:
		for i := range a.State.CartItems {
			if a.State.CartItems[i].LineItemID == e.LineItemID {
				item := &a.State.CartItems[i]
				item.Quantity = e.Quantity
				item.Modifiers = e.Modifiers
				item.TotalPrice = LineTotal(item.Quantity, item.UnitPrice, item.Modifiers)
				break
			}
		}
		a.State.LastActivityAt = e.Time

	case ServingTypeSelectedEvent:
		a.State.ServingType = e.ServingType
		a.State.LastActivityAt = e.Time

	case CustomerInfoEnteredEvent:
		a.State.CustomerInfo = CustomerInfo{
			Name:        e.Name,
			Phone:       e.Phone,
			Email:       e.Email,
			TableNumber: e.TableNumber,
		}
		a.State.LastActivityAt = e.Time

	case PaymentMethodSelectedEvent:
		a.State.PaymentMethod = e.PaymentMethod
		a.State.LastActivityAt = e.Time

	case DraftSavedEvent:
		a.State.LastActivityAt = e.Time

	case SessionAbandonedEvent:
		a.State.Status = SessionStatusAbandoned
		a.State.LastActivityAt = e.Time

	case SessionConvertedEvent:
		a.State.Status = SessionStatusConverted
		a.State.OrderID = e.OrderID
		a.State.LastActivityAt = e.Time
	}

	return nil
}
