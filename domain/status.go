package domain

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	StatusDraft                OrderStatus = "draft"
	StatusStarted              OrderStatus = "started"
	StatusItemsAdded           OrderStatus = "items_added"
	StatusItemsValidated       OrderStatus = "items_validated"
	StatusPromotionsCalculated OrderStatus = "promotions_calculated"
	StatusPriceCalculated      OrderStatus = "price_calculated"
	StatusConfirmed            OrderStatus = "confirmed"
	StatusPreparing            OrderStatus = "preparing"
	StatusReady                OrderStatus = "ready"
	StatusDelivering           OrderStatus = "delivering"
	StatusDelivered            OrderStatus = "delivered"
	StatusCompleted            OrderStatus = "completed"
	StatusCancelled            OrderStatus = "cancelled"
	StatusRefunded             OrderStatus = "refunded"
)

// statusTransitions is the closed set of legal edges. Anything not listed
// here is an illegal transition.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusDraft:                {StatusStarted, StatusCancelled},
	StatusStarted:              {StatusItemsAdded, StatusCancelled},
	StatusItemsAdded:           {StatusItemsValidated, StatusCancelled},
	StatusItemsValidated:       {StatusPromotionsCalculated, StatusCancelled},
	StatusPromotionsCalculated: {StatusPriceCalculated, StatusCancelled},
	StatusPriceCalculated:      {StatusConfirmed, StatusCancelled},
	StatusConfirmed:            {StatusPreparing, StatusCancelled},
	StatusPreparing:            {StatusReady, StatusCancelled},
	StatusReady:                {StatusDelivering, StatusCompleted},
	StatusDelivering:           {StatusDelivered},
	StatusDelivered:            {StatusCompleted},
	StatusCompleted:            {StatusRefunded},
	StatusCancelled:            {},
	StatusRefunded:             {},
}

// checkoutPipeline is the linear run of calculation stages an order passes
// through between creation and confirmation. ChangeOrderStatus may target
// any later stage of the pipeline and the handler steps through the
// intermediate stages one legal edge at a time. Fulfilment states past
// confirmed are never skipped.
var checkoutPipeline = []OrderStatus{
	StatusDraft,
	StatusStarted,
	StatusItemsAdded,
	StatusItemsValidated,
	StatusPromotionsCalculated,
	StatusPriceCalculated,
	StatusConfirmed,
}

// StatusTraits are the side-predicates callers must honor per status.
type StatusTraits struct {
	CanBeModified     bool
	CanBeCancelled    bool
	CanProcessPayment bool
	AffectsKitchen    bool
}

var statusTraits = map[OrderStatus]StatusTraits{
	StatusDraft:                {CanBeModified: true, CanBeCancelled: true},
	StatusStarted:              {CanBeModified: true, CanBeCancelled: true},
	StatusItemsAdded:           {CanBeModified: true, CanBeCancelled: true},
	StatusItemsValidated:       {CanBeModified: true, CanBeCancelled: true},
	StatusPromotionsCalculated: {CanBeModified: true, CanBeCancelled: true},
	StatusPriceCalculated:      {CanBeModified: true, CanBeCancelled: true, CanProcessPayment: true},
	StatusConfirmed:            {CanBeCancelled: true, CanProcessPayment: true, AffectsKitchen: true},
	StatusPreparing:            {CanBeCancelled: true, CanProcessPayment: true, AffectsKitchen: true},
	StatusReady:                {CanProcessPayment: true, AffectsKitchen: true},
	StatusDelivering:           {CanProcessPayment: true},
	StatusDelivered:            {CanProcessPayment: true},
	StatusCompleted:            {},
	StatusCancelled:            {},
	StatusRefunded:             {},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (s OrderStatus) Terminal() bool {
	edges, ok := statusTransitions[s]
	return ok && len(edges) == 0
}

// CanTransitionTo reports whether the edge s -> to is in the transition
// table.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Traits returns the side-predicates for s. Unknown statuses have all
// predicates false.
func (s OrderStatus) Traits() StatusTraits {
	return statusTraits[s]
}

// CanBeModified reports whether order items may still change in s.
func (s OrderStatus) CanBeModified() bool { return statusTraits[s].CanBeModified }

// CanBeCancelled reports whether an order in s may be cancelled.
func (s OrderStatus) CanBeCancelled() bool { return statusTraits[s].CanBeCancelled }

// CanProcessPayment reports whether payment may be taken in s.
func (s OrderStatus) CanProcessPayment() bool { return statusTraits[s].CanProcessPayment }

// AffectsKitchen reports whether a change into s is relevant to the
// kitchen display path.
func (s OrderStatus) AffectsKitchen() bool { return statusTraits[s].AffectsKitchen }

// CheckTransition validates a single edge.
func CheckTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return IllegalTransitionError{From: from, To: to}
	}
	return nil
}

func pipelineIndex(s OrderStatus) int {
	for i, p := range checkoutPipeline {
		if p == s {
			return i
		}
	}
	return -1
}

// StatusPath returns the ordered list of statuses an order must pass
// through to go from from to to, one legal edge per step. A direct edge
// yields a single step; a forward jump inside the checkout pipeline yields
// each intermediate calculation stage. Any other pair is illegal.
func StatusPath(from, to OrderStatus) ([]OrderStatus, error) {
	if !to.Valid() || from == to {
		return nil, IllegalTransitionError{From: from, To: to}
	}
	if from.CanTransitionTo(to) {
		return []OrderStatus{to}, nil
	}
	fi, ti := pipelineIndex(from), pipelineIndex(to)
	if fi >= 0 && ti > fi {
		return checkoutPipeline[fi+1 : ti+1], nil
	}
	return nil, IllegalTransitionError{From: from, To: to}
}
