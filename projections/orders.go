package projections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/models"
	"example.com/dinehub/services/orders/repositories"
)

// OrderProjectorName identifies the order projector's cursor.
const OrderProjectorName = "orders"

// OrdersIndex is the Elasticsearch index for order search.
const OrdersIndex = "orders"

// historyStatuses are the customer-visible milestones recorded in
// order_status_histories. The internal checkout calculation stages are
// not part of the history read model.
var historyStatuses = map[domain.OrderStatus]bool{
	domain.StatusConfirmed:  true,
	domain.StatusPreparing:  true,
	domain.StatusReady:      true,
	domain.StatusDelivering: true,
	domain.StatusDelivered:  true,
	domain.StatusCompleted:  true,
	domain.StatusCancelled:  true,
	domain.StatusRefunded:   true,
}

// OrderProjector maintains the orders, order_items and
// order_status_histories read models, plus an optional search index.
type OrderProjector struct {
	orders        repositories.OrderRepository
	elasticClient *elasticsearch.Client
	indexPrefix   string
}

// NewOrderProjector creates a new order projector. elasticClient may be
// nil, in which case only the database read model is maintained.
func NewOrderProjector(orders repositories.OrderRepository, elasticClient *elasticsearch.Client, indexPrefix string) *OrderProjector {
	return &OrderProjector{
		orders:        orders,
		elasticClient: elasticClient,
		indexPrefix:   indexPrefix,
	}
}

// Name returns the projector name.
func (p *OrderProjector) Name() string {
	return OrderProjectorName
}

// Reset truncates the projector's owned tables.
func (p *OrderProjector) Reset(ctx context.Context) error {
	return p.orders.TruncateAll(ctx)
}

// Apply projects one event into the order read model.
func (p *OrderProjector) Apply(ctx context.Context, event domain.Event) error {
	if event.AggregateType != domain.AggregateTypeOrder {
		return nil
	}

	if started, ok := event.Data.(domain.OrderStartedEvent); ok {
		return p.projectOrderStarted(ctx, event, started)
	}

	order, err := p.orders.GetOrder(ctx, event.AggregateID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("order row missing for aggregate %s at sequence %d", event.AggregateID, event.Sequence)
		}
		return err
	}

	// Idempotency and ordering guard: skip what the row already reflects,
	// refuse to jump a gap.
	if event.Sequence <= order.LastSequence {
		return nil
	}
	if event.Sequence > order.LastSequence+1 {
		return fmt.Errorf("sequence gap for order %s: row at %d, event at %d", event.AggregateID, order.LastSequence, event.Sequence)
	}

	switch e := event.Data.(type) {
	case domain.OrderItemAddedEvent:
		if err := p.saveItem(ctx, order.OrderID, domain.OrderItem{
			LineItemID:    e.LineItemID,
			ItemID:        e.ItemID,
			Name:          e.Name,
			Quantity:      e.Quantity,
			UnitPrice:     e.UnitPrice,
			Modifiers:     e.Modifiers,
			TotalPrice:    domain.LineTotal(e.Quantity, e.UnitPrice, e.Modifiers),
			KitchenStatus: "pending",
		}); err != nil {
			return err
		}
		order.ItemsCount++
		p.addToTotals(order, domain.LineTotal(e.Quantity, e.UnitPrice, e.Modifiers))

	case domain.OrderItemRemovedEvent:
		items, err := p.orders.GetOrderItems(ctx, order.OrderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.LineItemID == e.LineItemID {
				if err := p.orders.DeleteOrderItem(ctx, e.LineItemID); err != nil {
					return err
				}
				order.ItemsCount--
				p.addToTotals(order, -item.TotalPrice)
				break
			}
		}

	case domain.OrderItemQuantityChangedEvent:
		items, err := p.orders.GetOrderItems(ctx, order.OrderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.LineItemID == e.LineItemID {
				oldTotal := item.TotalPrice
				perUnit := item.TotalPrice / int64(item.Quantity)
				item.Quantity = e.Quantity
				item.TotalPrice = perUnit * int64(e.Quantity)
				item.UpdatedAt = event.Timestamp
				if err := p.orders.SaveOrderItem(ctx, &item); err != nil {
					return err
				}
				p.addToTotals(order, item.TotalPrice-oldTotal)
				break
			}
		}

	case domain.OrderStatusChangedEvent:
		order.Status = string(e.To)
		p.stampStatus(order, e.To, e.Time)
		if err := p.recordHistory(ctx, event, order.OrderID, e.From, e.To, e.ChangedBy, e.Notes, e.Time); err != nil {
			return err
		}

	case domain.OrderCancelledEvent:
		order.Status = string(domain.StatusCancelled)
		reason := e.Reason
		order.CancelReason = &reason
		if err := p.recordHistory(ctx, event, order.OrderID, e.From, domain.StatusCancelled, e.CancelledBy, e.Reason, e.Time); err != nil {
			return err
		}

	case domain.OrderRefundedEvent:
		from := domain.OrderStatus(order.Status)
		order.Status = string(domain.StatusRefunded)
		order.PaymentStatus = domain.PaymentRefunded
		if err := p.recordHistory(ctx, event, order.OrderID, from, domain.StatusRefunded, e.RefundedBy, "", e.Time); err != nil {
			return err
		}

	case domain.OrderPaymentRecordedEvent:
		order.PaymentStatus = e.PaymentStatus

	default:
		// Unknown event types advance the cursor without touching state so
		// new event types can ship before this projector learns them.
	}

	order.LastSequence = event.Sequence
	order.UpdatedAt = event.Timestamp
	if err := p.orders.SaveOrder(ctx, order); err != nil {
		return err
	}

	return p.indexOrder(ctx, order)
}

func (p *OrderProjector) projectOrderStarted(ctx context.Context, event domain.Event, e domain.OrderStartedEvent) error {
	if existing, err := p.orders.GetOrder(ctx, event.AggregateID); err == nil && existing.LastSequence >= event.Sequence {
		return nil
	} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}

	sessionID := e.SessionID
	order := &models.Order{
		OrderID:       e.OrderID,
		LocationID:    e.LocationID,
		UserID:        e.UserID,
		Type:          e.Type,
		Status:        string(domain.StatusDraft),
		PaymentStatus: domain.PaymentPending,
		TaxRateBps:    e.TaxRateBps,
		ItemsCount:    len(e.Items),
		LastSequence:  event.Sequence,
		CreatedAt:     event.Timestamp,
		UpdatedAt:     event.Timestamp,
	}
	if sessionID != "" {
		order.SessionID = &sessionID
	}

	var subtotal int64
	for _, item := range e.Items {
		if err := p.saveItem(ctx, e.OrderID, item); err != nil {
			return err
		}
		subtotal += item.TotalPrice
	}
	order.Subtotal = subtotal
	order.Tax = subtotal * e.TaxRateBps / 10000
	order.Total = order.Subtotal + order.Tax + order.Tip - order.Discount

	if err := p.orders.SaveOrder(ctx, order); err != nil {
		return err
	}

	return p.indexOrder(ctx, order)
}

func (p *OrderProjector) saveItem(ctx context.Context, orderID string, item domain.OrderItem) error {
	modifiers, err := json.Marshal(item.Modifiers)
	if err != nil {
		return err
	}

	return p.orders.SaveOrderItem(ctx, &models.OrderItem{
		OrderID:       orderID,
		LineItemID:    item.LineItemID,
		ItemID:        item.ItemID,
		Name:          item.Name,
		Quantity:      item.Quantity,
		UnitPrice:     item.UnitPrice,
		Modifiers:     modifiers,
		TotalPrice:    item.TotalPrice,
		KitchenStatus: item.KitchenStatus,
	})
}

func (p *OrderProjector) addToTotals(order *models.Order, delta int64) {
	order.Subtotal += delta
	order.Tax = order.Subtotal * order.TaxRateBps / 10000
	order.Total = order.Subtotal + order.Tax + order.Tip - order.Discount
}

func (p *OrderProjector) stampStatus(order *models.Order, status domain.OrderStatus, at time.Time) {
	switch status {
	case domain.StatusConfirmed:
		t := at
		order.ConfirmedAt = &t
	case domain.StatusCompleted:
		t := at
		order.CompletedAt = &t
	}
}

func (p *OrderProjector) recordHistory(ctx context.Context, event domain.Event, orderID string, from, to domain.OrderStatus, changedBy, notes string, at time.Time) error {
	if !historyStatuses[to] {
		return nil
	}

	err := p.orders.CreateStatusHistory(ctx, &models.OrderStatusHistory{
		EventID:    event.ID,
		OrderID:    orderID,
		FromStatus: string(from),
		ToStatus:   string(to),
		ChangedBy:  changedBy,
		Notes:      notes,
		ChangedAt:  at,
	})
	if errors.Is(err, repositories.ErrDuplicateKey) {
		// Already recorded on a previous delivery of this event.
		return nil
	}
	return err
}

// indexOrder mirrors the order row into Elasticsearch for search. Index
// failures are logged, not fatal: the database read model is the source
// for queries and the index can be rebuilt.
func (p *OrderProjector) indexOrder(ctx context.Context, order *models.Order) error {
	if p.elasticClient == nil {
		return nil
	}

	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}

	res, err := p.elasticClient.Index(
		formatIndex(p.indexPrefix, OrdersIndex),
		bytesReader(doc),
		p.elasticClient.Index.WithDocumentID(order.OrderID),
		p.elasticClient.Index.WithContext(ctx),
	)
	if err != nil {
		log.Error().Err(err).Str("orderID", order.OrderID).Msg("Failed to index order")
		return nil
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Error().Str("orderID", order.OrderID).Str("response", res.String()).Msg("Elasticsearch rejected order document")
	}
	return nil
}
