package projections

import (
	"context"

	"example.com/dinehub/services/orders/domain"
)

// Projector consumes the ordered event stream and maintains one set of
// read-model tables it exclusively owns.
//
// Apply must be idempotent: re-applying an event already reflected in the
// read model leaves it unchanged. Events for one aggregate arrive in
// ascending sequence order; a detected gap is an error, which pauses this
// projector's cursor without affecting others.
type Projector interface {
	Name() string
	Apply(ctx context.Context, event domain.Event) error
	// Reset truncates the projector's owned tables. Only the rebuild
	// controller calls it.
	Reset(ctx context.Context) error
}
