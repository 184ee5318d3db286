package domain

import (
	"encoding/json"
	"time"
)

// Aggregate type discriminators
const (
	AggregateTypeOrderSession = "order_session"
	AggregateTypeOrder        = "order"
)

// EventType constants. The V1 prefix versions the payload schema; new
// payload shapes ship under a new constant rather than mutating these.
const (
	// OrderSession events
	SessionInitiated      = "V1_SESSION_INITIATED"
	CartItemAdded         = "V1_CART_ITEM_ADDED"
	CartItemRemoved       = "V1_CART_ITEM_REMOVED"
	CartItemModified      = "V1_CART_ITEM_MODIFIED"
	ServingTypeSelected   = "V1_SERVING_TYPE_SELECTED"
	CustomerInfoEntered   = "V1_CUSTOMER_INFO_ENTERED"
	PaymentMethodSelected = "V1_PAYMENT_METHOD_SELECTED"
	DraftSaved            = "V1_DRAFT_SAVED"
	SessionAbandoned      = "V1_SESSION_ABANDONED"
	SessionConverted      = "V1_SESSION_CONVERTED"

	// Order events
	OrderStarted             = "V1_ORDER_STARTED"
	OrderItemAdded           = "V1_ORDER_ITEM_ADDED"
	OrderItemRemoved         = "V1_ORDER_ITEM_REMOVED"
	OrderItemQuantityChanged = "V1_ORDER_ITEM_QUANTITY_CHANGED"
	OrderStatusChanged       = "V1_ORDER_STATUS_CHANGED"
	OrderCancelled           = "V1_ORDER_CANCELLED"
	OrderRefunded            = "V1_ORDER_REFUNDED"
	OrderPaymentRecorded     = "V1_ORDER_PAYMENT_RECORDED"
)

// Event represents a domain event. Sequence is monotonic per aggregate and
// assigned when the event is raised; GlobalPosition is assigned by the
// store at append time and is zero until then.
type Event struct {
	ID             string      `json:"id"`
	AggregateID    string      `json:"aggregate_id"`
	AggregateType  string      `json:"aggregate_type"`
	Type           string      `json:"type"`
	Sequence       int64       `json:"sequence"`
	GlobalPosition int64       `json:"global_position"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           interface{} `json:"data"`
}

// ItemModifier is a priced modifier attached to a cart or order item.
type ItemModifier struct {
	ModifierID int64  `json:"modifier_id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
}

// CartItem is one line of an order session's cart. Prices are in minor
// currency units.
type CartItem struct {
	LineItemID string         `json:"line_item_id"`
	ItemID     int64          `json:"item_id"`
	Name       string         `json:"name"`
	Quantity   int            `json:"quantity"`
	UnitPrice  int64          `json:"unit_price"`
	Modifiers  []ItemModifier `json:"modifiers,omitempty"`
	TotalPrice int64          `json:"total_price"`
}

// OrderItem is one line of a confirmed order.
type OrderItem struct {
	LineItemID    string         `json:"line_item_id"`
	ItemID        int64          `json:"item_id"`
	Name          string         `json:"name"`
	Quantity      int            `json:"quantity"`
	UnitPrice     int64          `json:"unit_price"`
	Modifiers     []ItemModifier `json:"modifiers,omitempty"`
	TotalPrice    int64          `json:"total_price"`
	KitchenStatus string         `json:"kitchen_status"`
}

// LineTotal computes the line price for a quantity, unit price and
// modifier set.
func LineTotal(quantity int, unitPrice int64, modifiers []ItemModifier) int64 {
	per := unitPrice
	for _, m := range modifiers {
		per += m.Price
	}
	return per * int64(quantity)
}

// OrderSession events

type SessionInitiatedEvent struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	LocationID int64     `json:"location_id"`
	StartedAt  time.Time `json:"started_at"`
}

type CartItemAddedEvent struct {
	LineItemID string         `json:"line_item_id"`
	ItemID     int64          `json:"item_id"`
	Name       string         `json:"name"`
	Quantity   int            `json:"quantity"`
	UnitPrice  int64          `json:"unit_price"`
	Modifiers  []ItemModifier `json:"modifiers,omitempty"`
	Time       time.Time      `json:"time"`
}

type CartItemRemovedEvent struct {
	LineItemID string    `json:"line_item_id"`
	Time       time.Time `json:"time"`
}

type CartItemModifiedEvent struct {
	LineItemID string         `json:"line_item_id"`
	Quantity   int            `json:"quantity"`
	Modifiers  []ItemModifier `json:"modifiers,omitempty"`
	Time       time.Time      `json:"time"`
}

type ServingTypeSelectedEvent struct {
	ServingType string    `json:"serving_type"`
	Time        time.Time `json:"time"`
}

type CustomerInfoEnteredEvent struct {
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	TableNumber string    `json:"table_number,omitempty"`
	Time        time.Time `json:"time"`
}

type PaymentMethodSelectedEvent struct {
	PaymentMethod string    `json:"payment_method"`
	Time          time.Time `json:"time"`
}

type DraftSavedEvent struct {
	Time time.Time `json:"time"`
}

type SessionAbandonedEvent struct {
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

type SessionConvertedEvent struct {
	OrderID string    `json:"order_id"`
	Time    time.Time `json:"time"`
}

// Order events

type OrderStartedEvent struct {
	OrderID    string      `json:"order_id"`
	SessionID  string      `json:"session_id,omitempty"`
	LocationID int64       `json:"location_id"`
	UserID     string      `json:"user_id,omitempty"`
	Type       string      `json:"type"`
	Items      []OrderItem `json:"items,omitempty"`
	TaxRateBps int64       `json:"tax_rate_bps"`
	Time       time.Time   `json:"time"`
}

type OrderItemAddedEvent struct {
	LineItemID string         `json:"line_item_id"`
	ItemID     int64          `json:"item_id"`
	Name       string         `json:"name"`
	Quantity   int            `json:"quantity"`
	UnitPrice  int64          `json:"unit_price"`
	Modifiers  []ItemModifier `json:"modifiers,omitempty"`
	Time       time.Time      `json:"time"`
}

type OrderItemRemovedEvent struct {
	LineItemID string    `json:"line_item_id"`
	Time       time.Time `json:"time"`
}

type OrderItemQuantityChangedEvent struct {
	LineItemID string    `json:"line_item_id"`
	Quantity   int       `json:"quantity"`
	Time       time.Time `json:"time"`
}

type OrderStatusChangedEvent struct {
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ChangedBy string      `json:"changed_by,omitempty"`
	Notes     string      `json:"notes,omitempty"`
	Time      time.Time   `json:"time"`
}

type OrderCancelledEvent struct {
	From        OrderStatus `json:"from"`
	Reason      string      `json:"reason"`
	CancelledBy string      `json:"cancelled_by,omitempty"`
	Time        time.Time   `json:"time"`
}

type OrderRefundedEvent struct {
	Amount     int64     `json:"amount"`
	RefundedBy string    `json:"refunded_by,omitempty"`
	Time       time.Time `json:"time"`
}

type OrderPaymentRecordedEvent struct {
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Amount        int64     `json:"amount"`
	Time          time.Time `json:"time"`
}

// eventNames maps payload struct types to their eventType discriminator.
func eventName(data interface{}) (string, bool) {
	switch data.(type) {
	case SessionInitiatedEvent:
		return SessionInitiated, true
	case CartItemAddedEvent:
		return CartItemAdded, true
	case CartItemRemovedEvent:
		return CartItemRemoved, true
	case CartItemModifiedEvent:
		return CartItemModified, true
	case ServingTypeSelectedEvent:
		return ServingTypeSelected, true
	case CustomerInfoEnteredEvent:
		return CustomerInfoEntered, true
	case PaymentMethodSelectedEvent:
		return PaymentMethodSelected, true
	case DraftSavedEvent:
		return DraftSaved, true
	case SessionAbandonedEvent:
		return SessionAbandoned, true
	case SessionConvertedEvent:
		return SessionConverted, true
	case OrderStartedEvent:
		return OrderStarted, true
	case OrderItemAddedEvent:
		return OrderItemAdded, true
	case OrderItemRemovedEvent:
		return OrderItemRemoved, true
	case OrderItemQuantityChangedEvent:
		return OrderItemQuantityChanged, true
	case OrderStatusChangedEvent:
		return OrderStatusChanged, true
	case OrderCancelledEvent:
		return OrderCancelled, true
	case OrderRefundedEvent:
		return OrderRefunded, true
	case OrderPaymentRecordedEvent:
		return OrderPaymentRecorded, true
	default:
		return "", false
	}
}

func decodeInto(eventType string, raw []byte, dst interface{}) (interface{}, error) {
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, SerializationError{EventType: eventType, Err: err}
	}
	return dst, nil
}

// UnmarshalEventData decodes a serialized payload by its eventType
// discriminator into the matching typed struct. Unknown event types return
// ErrUnknownEventType so readers of historical streams can warn and fold
// the event as a no-op.
func UnmarshalEventData(eventType string, raw []byte) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch eventType {
	case SessionInitiated:
		v, err = decodeInto(eventType, raw, &SessionInitiatedEvent{})
	case CartItemAdded:
		v, err = decodeInto(eventType, raw, &CartItemAddedEvent{})
	case CartItemRemoved:
		v, err = decodeInto(eventType, raw, &CartItemRemovedEvent{})
	case CartItemModified:
		v, err = decodeInto(eventType, raw, &CartItemModifiedEvent{})
	case ServingTypeSelected:
		v, err = decodeInto(eventType, raw, &ServingTypeSelectedEvent{})
	case CustomerInfoEntered:
		v, err = decodeInto(eventType, raw, &CustomerInfoEnteredEvent{})
	case PaymentMethodSelected:
		v, err = decodeInto(eventType, raw, &PaymentMethodSelectedEvent{})
	case DraftSaved:
		v, err = decodeInto(eventType, raw, &DraftSavedEvent{})
	case SessionAbandoned:
		v, err = decodeInto(eventType, raw, &SessionAbandonedEvent{})
	case SessionConverted:
		v, err = decodeInto(eventType, raw, &SessionConvertedEvent{})
	case OrderStarted:
		v, err = decodeInto(eventType, raw, &OrderStartedEvent{})
	case OrderItemAdded:
		v, err = decodeInto(eventType, raw, &OrderItemAddedEvent{})
	case OrderItemRemoved:
		v, err = decodeInto(eventType, raw, &OrderItemRemovedEvent{})
	case OrderItemQuantityChanged:
		v, err = decodeInto(eventType, raw, &OrderItemQuantityChangedEvent{})
	case OrderStatusChanged:
		v, err = decodeInto(eventType, raw, &OrderStatusChangedEvent{})
	case OrderCancelled:
		v, err = decodeInto(eventType, raw, &OrderCancelledEvent{})
	case OrderRefunded:
		v, err = decodeInto(eventType, raw, &OrderRefundedEvent{})
	case OrderPaymentRecorded:
		v, err = decodeInto(eventType, raw, &OrderPaymentRecordedEvent{})
	default:
		return nil, ErrUnknownEventType
	}
	if err != nil {
		return nil, err
	}
	return dereference(v), nil
}

// dereference unwraps the pointer produced by decoding so appliers can
// switch on value types, matching how events are raised.
func dereference(v interface{}) interface{} {
	switch p := v.(type) {
	case *SessionInitiatedEvent:
		return *p
	case *CartItemAddedEvent:
		return *p
	case *CartItemRemovedEvent:
		return *p
	case *CartItemModifiedEvent:
		return *p
	case *ServingTypeSelectedEvent:
		return *p
	case *CustomerInfoEnteredEvent:
		return *p
	case *PaymentMethodSelectedEvent:
		return *p
	case *DraftSavedEvent:
		return *p
	case *SessionAbandonedEvent:
		return *p
	case *SessionConvertedEvent:
		return *p
	case *OrderStartedEvent:
		return *p
	case *OrderItemAddedEvent:
		return *p
	case *OrderItemRemovedEvent:
		return *p
	case *OrderItemQuantityChangedEvent:
		return *p
	case *OrderStatusChangedEvent:
		return *p
	case *OrderCancelledEvent:
		return *p
	case *OrderRefundedEvent:
		return *p
	case *OrderPaymentRecordedEvent:
		return *p
	default:
		return v
	}
}

// MarshalEventData encodes a typed payload for persistence.
func MarshalEventData(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, SerializationError{EventType: eventType, Err: err}
	}
	return raw, nil
}
