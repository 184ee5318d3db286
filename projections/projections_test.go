package projections

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/dinehub/services/orders/domain"
	"example.com/dinehub/services/orders/eventstore"
	"example.com/dinehub/services/orders/handlers"
	"example.com/dinehub/services/orders/models"
	"example.com/dinehub/services/orders/repositories"
)

type fakeOrderRepo struct {
	orders  []models.Order
	items   []models.OrderItem
	history []models.OrderStatusHistory
}

func (r *fakeOrderRepo) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	for _, order := range r.orders {
		if order.OrderID == orderID {
			copied := order
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeOrderRepo) SaveOrder(ctx context.Context, order *models.Order) error {
	for i := range r.orders {
		if r.orders[i].OrderID == order.OrderID {
			r.orders[i] = *order
			return nil
		}
	}
	r.orders = append(r.orders, *order)
	return nil
}

func (r *fakeOrderRepo) SaveOrderItem(ctx context.Context, item *models.OrderItem) error {
	for i := range r.items {
		if r.items[i].LineItemID == item.LineItemID {
			r.items[i] = *item
			return nil
		}
	}
	r.items = append(r.items, *item)
	return nil
}

func (r *fakeOrderRepo) DeleteOrderItem(ctx context.Context, lineItemID string) error {
	for i := range r.items {
		if r.items[i].LineItemID == lineItemID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *fakeOrderRepo) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	for _, item := range r.items {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *fakeOrderRepo) CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	for _, existing := range r.history {
		if existing.EventID == entry.EventID {
			return repositories.ErrDuplicateKey
		}
	}
	r.history = append(r.history, *entry)
	return nil
}

func (r *fakeOrderRepo) GetStatusHistory(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	for _, entry := range r.history {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *fakeOrderRepo) ListOrdersForLocation(ctx context.Context, locationID int64, statuses []string) ([]models.Order, error) {
	var orders []models.Order
	for _, order := range r.orders {
		if order.LocationID != locationID {
			continue
		}
		if len(statuses) > 0 {
			matched := false
			for _, status := range statuses {
				if order.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *fakeOrderRepo) TruncateAll(ctx context.Context) error {
	r.orders = nil
	r.items = nil
	r.history = nil
	return nil
}

type fakeSessionRepo struct {
	sessions []models.OrderSession
}

func (r *fakeSessionRepo) GetSession(ctx context.Context, sessionID string) (*models.OrderSession, error) {
	for _, session := range r.sessions {
		if session.SessionID == sessionID {
			copied := session
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeSessionRepo) SaveSession(ctx context.Context, session *models.OrderSession) error {
	for i := range r.sessions {
		if r.sessions[i].SessionID == session.SessionID {
			r.sessions[i] = *session
			return nil
		}
	}
	r.sessions = append(r.sessions, *session)
	return nil
}

func (r *fakeSessionRepo) GetActiveSessionsForLocation(ctx context.Context, locationID int64) ([]models.OrderSession, error) {
	var sessions []models.OrderSession
	for _, session := range r.sessions {
		if session.LocationID == locationID && session.Status == string(domain.SessionStatusActive) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (r *fakeSessionRepo) ListIdleActiveSessions(ctx context.Context, idleSince time.Time, limit int) ([]models.OrderSession, error) {
	var sessions []models.OrderSession
	for _, session := range r.sessions {
		if session.Status != string(domain.SessionStatusActive) || !session.LastActivityAt.Before(idleSince) {
			continue
		}
		sessions = append(sessions, session)
		if limit > 0 && len(sessions) >= limit {
			break
		}
	}
	return sessions, nil
}

func (r *fakeSessionRepo) TruncateAll(ctx context.Context) error {
	r.sessions = nil
	return nil
}

type fakeCheckpointRepo struct {
	positions map[string]int64
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{positions: make(map[string]int64)}
}

func (r *fakeCheckpointRepo) Get(ctx context.Context, projectorName string) (int64, error) {
	return r.positions[projectorName], nil
}

func (r *fakeCheckpointRepo) Set(ctx context.Context, projectorName string, position int64) error {
	r.positions[projectorName] = position
	return nil
}

func (r *fakeCheckpointRepo) Reset(ctx context.Context, projectorName string) error {
	delete(r.positions, projectorName)
	return nil
}

type projectionFixture struct {
	store       *eventstore.MemoryEventStore
	orderRows   *fakeOrderRepo
	sessionRows *fakeSessionRepo
	checkpoints *fakeCheckpointRepo
	processor   *EventProcessor
	rebuilder   *Rebuilder
	orders      *handlers.OrderHandler
	sessions    *handlers.SessionHandler
}

func newProjectionFixture(t *testing.T) *projectionFixture {
	t.Helper()

	store := eventstore.NewMemoryEventStore()
	orderRows := &fakeOrderRepo{}
	sessionRows := &fakeSessionRepo{}
	checkpoints := newFakeCheckpointRepo()
	ledger := handlers.NewMemoryLedger(time.Hour)

	orderProjector := NewOrderProjector(orderRows, nil, "")
	sessionProjector := NewSessionProjector(sessionRows)

	processor := NewEventProcessor(store, checkpoints, orderProjector, sessionProjector)
	processor.SetBatchSize(3)

	return &projectionFixture{
		store:       store,
		orderRows:   orderRows,
		sessionRows: sessionRows,
		checkpoints: checkpoints,
		processor:   processor,
		rebuilder:   NewRebuilder(store, checkpoints, orderProjector, sessionProjector),
		orders:      handlers.NewOrderHandler(store, ledger, nil),
		sessions:    handlers.NewSessionHandler(store, ledger),
	}
}

// driveToPreparing walks a checkout from an empty session to an order the
// kitchen is preparing: start, add one line of two pizzas, pick dine-in,
// convert, start the order and confirm it.
func driveToPreparing(t *testing.T, f *projectionFixture) {
	t.Helper()
	ctx := context.Background()

	_, err := f.sessions.HandleStartSession(ctx, handlers.StartSessionCommand{
		SessionID:  "session-1",
		UserID:     "user-7",
		LocationID: 5,
	})
	require.NoError(t, err)

	_, err = f.sessions.HandleAddItemToCart(ctx, handlers.AddItemToCartCommand{
		SessionID:  "session-1",
		LineItemID: "line-1",
		ItemID:     42,
		Name:       "Margherita",
		Quantity:   2,
		UnitPrice:  2500,
	})
	require.NoError(t, err)

	_, err = f.sessions.HandleSelectServingType(ctx, handlers.SelectServingTypeCommand{
		SessionID:   "session-1",
		ServingType: "dine_in",
	})
	require.NoError(t, err)

	_, err = f.sessions.HandleConvertSessionToOrder(ctx, handlers.ConvertSessionToOrderCommand{
		SessionID: "session-1",
		OrderID:   "order-1",
	})
	require.NoError(t, err)

	_, err = f.orders.HandleStartOrder(ctx, handlers.StartOrderCommand{
		OrderID:    "order-1",
		SessionID:  "session-1",
		TaxRateBps: 800,
	})
	require.NoError(t, err)

	_, err = f.orders.HandleChangeOrderStatus(ctx, handlers.ChangeOrderStatusCommand{
		OrderID:   "order-1",
		Status:    domain.StatusConfirmed,
		ChangedBy: "user-7",
	})
	require.NoError(t, err)

	_, err = f.orders.HandleChangeOrderStatus(ctx, handlers.ChangeOrderStatusCommand{
		OrderID:   "order-1",
		Status:    domain.StatusPreparing,
		ChangedBy: "kitchen-1",
	})
	require.NoError(t, err)
}

func TestOrderProjectionFromCheckout(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)

	ctx := context.Background()
	require.NoError(t, f.processor.CatchUp(ctx))

	session, err := f.sessionRows.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, string(domain.SessionStatusConverted), session.Status)
	require.NotNil(t, session.OrderID)
	require.Equal(t, "order-1", *session.OrderID)
	require.Equal(t, 1, session.CartItemsCount)

	order, err := f.orderRows.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusPreparing), order.Status)
	require.Equal(t, int64(5), order.LocationID)
	require.Equal(t, int64(5000), order.Subtotal)
	require.Equal(t, int64(400), order.Tax)
	require.Equal(t, int64(5400), order.Total)
	require.Equal(t, 1, order.ItemsCount)
	require.NotNil(t, order.SessionID)
	require.Equal(t, "session-1", *order.SessionID)
	require.NotNil(t, order.ConfirmedAt)

	items, err := f.orderRows.GetOrderItems(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "line-1", items[0].LineItemID)
	require.Equal(t, int64(5000), items[0].TotalPrice)
	require.Equal(t, "pending", items[0].KitchenStatus)

	// The checkout calculation stages stay internal; only the two
	// customer-visible milestones are recorded.
	history, err := f.orderRows.GetStatusHistory(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, string(domain.StatusConfirmed), history[0].ToStatus)
	require.Equal(t, string(domain.StatusPreparing), history[1].ToStatus)

	head, err := f.store.LastPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, head, f.checkpoints.positions[OrderProjectorName])
	require.Equal(t, head, f.checkpoints.positions[SessionProjectorName])
}

func TestProjectionReplayIsIdempotent(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)

	ctx := context.Background()
	require.NoError(t, f.processor.CatchUp(ctx))

	before, err := f.orderRows.GetOrder(ctx, "order-1")
	require.NoError(t, err)

	// Rewind the cursors and re-deliver the whole log.
	require.NoError(t, f.checkpoints.Reset(ctx, OrderProjectorName))
	require.NoError(t, f.checkpoints.Reset(ctx, SessionProjectorName))
	require.NoError(t, f.processor.CatchUp(ctx))

	after, err := f.orderRows.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.Equal(t, before.Subtotal, after.Subtotal)
	require.Equal(t, before.Total, after.Total)
	require.Equal(t, before.ItemsCount, after.ItemsCount)
	require.Equal(t, before.LastSequence, after.LastSequence)

	history, err := f.orderRows.GetStatusHistory(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	items, err := f.orderRows.GetOrderItems(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestOrderItemEventsAdjustTotals(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)

	ctx := context.Background()
	_, err := f.sessions.HandleStartSession(ctx, handlers.StartSessionCommand{SessionID: "session-2", LocationID: 5})
	require.NoError(t, err)
	_, err = f.sessions.HandleAddItemToCart(ctx, handlers.AddItemToCartCommand{
		SessionID: "session-2", LineItemID: "line-a", ItemID: 42, Name: "Margherita", Quantity: 2, UnitPrice: 2500,
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleConvertSessionToOrder(ctx, handlers.ConvertSessionToOrderCommand{SessionID: "session-2", OrderID: "order-2"})
	require.NoError(t, err)
	_, err = f.orders.HandleStartOrder(ctx, handlers.StartOrderCommand{OrderID: "order-2", SessionID: "session-2", TaxRateBps: 800})
	require.NoError(t, err)

	_, err = f.orders.HandleAddOrderItem(ctx, handlers.AddOrderItemCommand{
		OrderID: "order-2", LineItemID: "line-b", ItemID: 7, Name: "Tiramisu", Quantity: 1, UnitPrice: 1000,
	})
	require.NoError(t, err)
	_, err = f.orders.HandleChangeOrderItemQuantity(ctx, handlers.ChangeOrderItemQuantityCommand{
		OrderID: "order-2", LineItemID: "line-b", Quantity: 3,
	})
	require.NoError(t, err)
	_, err = f.orders.HandleRemoveOrderItem(ctx, handlers.RemoveOrderItemCommand{
		OrderID: "order-2", LineItemID: "line-a",
	})
	require.NoError(t, err)

	require.NoError(t, f.processor.CatchUp(ctx))

	order, err := f.orderRows.GetOrder(ctx, "order-2")
	require.NoError(t, err)
	require.Equal(t, 1, order.ItemsCount)
	require.Equal(t, int64(3000), order.Subtotal)
	require.Equal(t, int64(240), order.Tax)
	require.Equal(t, int64(3240), order.Total)

	items, err := f.orderRows.GetOrderItems(ctx, "order-2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "line-b", items[0].LineItemID)
	require.Equal(t, 3, items[0].Quantity)
	require.Equal(t, int64(3000), items[0].TotalPrice)
}

func TestSessionProjectorFoldsCart(t *testing.T) {
	f := newProjectionFixture(t)
	ctx := context.Background()

	_, err := f.sessions.HandleStartSession(ctx, handlers.StartSessionCommand{SessionID: "session-1", LocationID: 9})
	require.NoError(t, err)
	_, err = f.sessions.HandleAddItemToCart(ctx, handlers.AddItemToCartCommand{
		SessionID: "session-1", LineItemID: "line-1", ItemID: 1, Name: "Espresso", Quantity: 1, UnitPrice: 300,
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleAddItemToCart(ctx, handlers.AddItemToCartCommand{
		SessionID: "session-1", LineItemID: "line-2", ItemID: 2, Name: "Croissant", Quantity: 1, UnitPrice: 450,
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleModifyCartItem(ctx, handlers.ModifyCartItemCommand{
		SessionID: "session-1", LineItemID: "line-1", Quantity: 2,
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleRemoveItemFromCart(ctx, handlers.RemoveItemFromCartCommand{
		SessionID: "session-1", LineItemID: "line-2",
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleEnterCustomerInfo(ctx, handlers.EnterCustomerInfoCommand{
		SessionID: "session-1", Name: "Ada", TableNumber: "12",
	})
	require.NoError(t, err)
	_, err = f.sessions.HandleAbandonSession(ctx, handlers.AbandonSessionCommand{
		SessionID: "session-1", Reason: "customer left",
	})
	require.NoError(t, err)

	require.NoError(t, f.processor.CatchUp(ctx))

	session, err := f.sessionRows.GetSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, string(domain.SessionStatusAbandoned), session.Status)
	require.Equal(t, "Ada", session.CustomerName)
	require.Equal(t, "12", session.TableNumber)
	require.Equal(t, 1, session.CartItemsCount)

	var cart []domain.CartItem
	require.NoError(t, json.Unmarshal(session.CartItems, &cart))
	require.Len(t, cart, 1)
	require.Equal(t, "line-1", cart[0].LineItemID)
	require.Equal(t, 2, cart[0].Quantity)
	require.Equal(t, int64(600), cart[0].TotalPrice)
}

func TestSequenceGapIsRejected(t *testing.T) {
	f := newProjectionFixture(t)
	projector := NewOrderProjector(f.orderRows, nil, "")
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, projector.Apply(ctx, domain.Event{
		ID:            "evt-1",
		AggregateID:   "order-9",
		AggregateType: domain.AggregateTypeOrder,
		Type:          domain.OrderStarted,
		Sequence:      1,
		Timestamp:     now,
		Data: domain.OrderStartedEvent{
			OrderID:    "order-9",
			LocationID: 5,
			Type:       "takeaway",
			TaxRateBps: 800,
			Time:       now,
		},
	}))

	// Sequence 3 arrives with 2 never delivered.
	err := projector.Apply(ctx, domain.Event{
		ID:            "evt-3",
		AggregateID:   "order-9",
		AggregateType: domain.AggregateTypeOrder,
		Type:          domain.OrderStatusChanged,
		Sequence:      3,
		Timestamp:     now,
		Data: domain.OrderStatusChangedEvent{
			From: domain.StatusDraft,
			To:   domain.StatusStarted,
			Time: now,
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sequence gap")
}

func TestUnknownEventTypeAdvancesCursor(t *testing.T) {
	f := newProjectionFixture(t)
	projector := NewOrderProjector(f.orderRows, nil, "")
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, projector.Apply(ctx, domain.Event{
		ID:            "evt-1",
		AggregateID:   "order-9",
		AggregateType: domain.AggregateTypeOrder,
		Type:          domain.OrderStarted,
		Sequence:      1,
		Timestamp:     now,
		Data:          domain.OrderStartedEvent{OrderID: "order-9", LocationID: 5, Time: now},
	}))

	require.NoError(t, projector.Apply(ctx, domain.Event{
		ID:            "evt-2",
		AggregateID:   "order-9",
		AggregateType: domain.AggregateTypeOrder,
		Type:          "V2_SOMETHING_NEW",
		Sequence:      2,
		Timestamp:     now,
		Data:          nil,
	}))

	order, err := f.orderRows.GetOrder(ctx, "order-9")
	require.NoError(t, err)
	require.Equal(t, int64(2), order.LastSequence)
	require.Equal(t, string(domain.StatusDraft), order.Status)
}

// failingProjector applies the first event and rejects every one after,
// standing in for a projector hitting a bad row.
type failingProjector struct {
	applied int
}

func (p *failingProjector) Name() string { return "failing" }

func (p *failingProjector) Apply(ctx context.Context, event domain.Event) error {
	if p.applied >= 1 {
		return errors.New("storage exploded")
	}
	p.applied++
	return nil
}

func (p *failingProjector) Reset(ctx context.Context) error { return nil }

func TestProcessorPausesFailingProjectorAtCursor(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)
	ctx := context.Background()

	failing := &failingProjector{}
	processor := NewEventProcessor(f.store, f.checkpoints, failing)
	processor.SetBatchSize(10)

	applied, err := processor.runOnce(ctx, failing)
	require.Error(t, err)
	require.Equal(t, 1, applied)

	// The cursor stops at the last good event so the retry resumes at
	// the one that failed.
	events, err := f.store.LoadAll(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, events[0].GlobalPosition, f.checkpoints.positions["failing"])
}

func TestRebuildReproducesReadModel(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)
	ctx := context.Background()

	require.NoError(t, f.processor.CatchUp(ctx))

	want, err := f.orderRows.GetOrder(ctx, "order-1")
	require.NoError(t, err)

	// Corrupt the read model, then rebuild it from the log.
	f.orderRows.orders[0].Status = "garbage"
	f.orderRows.orders[0].Total = -1

	head, err := f.store.LastPosition(ctx)
	require.NoError(t, err)

	applied, err := f.rebuilder.Rebuild(ctx, OrderProjectorName)
	require.NoError(t, err)
	require.Equal(t, head, applied)

	got, err := f.orderRows.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.Subtotal, got.Subtotal)
	require.Equal(t, want.Tax, got.Tax)
	require.Equal(t, want.Total, got.Total)
	require.Equal(t, want.ItemsCount, got.ItemsCount)
	require.Equal(t, want.LastSequence, got.LastSequence)

	history, err := f.orderRows.GetStatusHistory(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.Equal(t, head, f.checkpoints.positions[OrderProjectorName])
}

func TestConcurrentRebuildOfSameProjectorRejected(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)
	ctx := context.Background()

	// Claim the projector as an in-flight rebuild would.
	require.True(t, f.rebuilder.begin(OrderProjectorName))

	_, err := f.rebuilder.Rebuild(ctx, OrderProjectorName)
	require.ErrorIs(t, err, ErrRebuildInProgress)

	// Another projector is unaffected.
	_, err = f.rebuilder.Rebuild(ctx, SessionProjectorName)
	require.NoError(t, err)

	f.rebuilder.end(OrderProjectorName)
	_, err = f.rebuilder.Rebuild(ctx, OrderProjectorName)
	require.NoError(t, err)
}

func TestRebuildUnknownProjector(t *testing.T) {
	f := newProjectionFixture(t)

	_, err := f.rebuilder.Rebuild(context.Background(), "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown projector")
}

func TestLagReportsDistanceFromHead(t *testing.T) {
	f := newProjectionFixture(t)
	driveToPreparing(t, f)
	ctx := context.Background()

	lag, err := f.processor.Lag(ctx)
	require.NoError(t, err)
	head, err := f.store.LastPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, head, lag[OrderProjectorName])

	require.NoError(t, f.processor.CatchUp(ctx))

	lag, err = f.processor.Lag(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), lag[OrderProjectorName])
	require.Equal(t, int64(0), lag[SessionProjectorName])
}
