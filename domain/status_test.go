package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var allStatuses = []OrderStatus{
	StatusDraft,
	StatusStarted,
	StatusItemsAdded,
	StatusItemsValidated,
	StatusPromotionsCalculated,
	StatusPriceCalculated,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusDelivering,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
	StatusRefunded,
}

// legalEdges mirrors the transition table; the full from/to matrix is
// checked against it so no edge can be added or lost silently.
var legalEdges = map[OrderStatus]map[OrderStatus]bool{
	StatusDraft:                {StatusStarted: true, StatusCancelled: true},
	StatusStarted:              {StatusItemsAdded: true, StatusCancelled: true},
	StatusItemsAdded:           {StatusItemsValidated: true, StatusCancelled: true},
	StatusItemsValidated:       {StatusPromotionsCalculated: true, StatusCancelled: true},
	StatusPromotionsCalculated: {StatusPriceCalculated: true, StatusCancelled: true},
	StatusPriceCalculated:      {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:            {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing:            {StatusReady: true, StatusCancelled: true},
	StatusReady:                {StatusDelivering: true, StatusCompleted: true},
	StatusDelivering:           {StatusDelivered: true},
	StatusDelivered:            {StatusCompleted: true},
	StatusCompleted:            {StatusRefunded: true},
	StatusCancelled:            {},
	StatusRefunded:             {},
}

func TestCanTransitionToFullMatrix(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			expected := legalEdges[from][to]
			require.Equal(t, expected, from.CanTransitionTo(to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range allStatuses {
		if status == StatusCancelled || status == StatusRefunded {
			require.True(t, status.Terminal(), "%s should be terminal", status)
		} else {
			require.False(t, status.Terminal(), "%s should not be terminal", status)
		}
	}
}

func TestValid(t *testing.T) {
	for _, status := range allStatuses {
		require.True(t, status.Valid())
	}
	require.False(t, OrderStatus("bogus").Valid())
	require.False(t, OrderStatus("").Valid())
}

func TestCancellableMatchesCancelEdges(t *testing.T) {
	// Every state that can be cancelled must have a direct edge to
	// cancelled, and vice versa.
	for _, status := range allStatuses {
		require.Equal(t, status.CanTransitionTo(StatusCancelled), status.CanBeCancelled(),
			"CanBeCancelled mismatch for %s", status)
	}
}

func TestModifiableStatuses(t *testing.T) {
	modifiable := map[OrderStatus]bool{
		StatusDraft:                true,
		StatusStarted:              true,
		StatusItemsAdded:           true,
		StatusItemsValidated:       true,
		StatusPromotionsCalculated: true,
		StatusPriceCalculated:      true,
	}

	for _, status := range allStatuses {
		require.Equal(t, modifiable[status], status.CanBeModified(),
			"CanBeModified mismatch for %s", status)
	}
}

func TestPaymentStatuses(t *testing.T) {
	payable := map[OrderStatus]bool{
		StatusPriceCalculated: true,
		StatusConfirmed:       true,
		StatusPreparing:       true,
		StatusReady:           true,
		StatusDelivering:      true,
		StatusDelivered:       true,
	}

	for _, status := range allStatuses {
		require.Equal(t, payable[status], status.CanProcessPayment(),
			"CanProcessPayment mismatch for %s", status)
	}
}

func TestKitchenStatuses(t *testing.T) {
	kitchen := map[OrderStatus]bool{
		StatusConfirmed: true,
		StatusPreparing: true,
		StatusReady:     true,
	}

	for _, status := range allStatuses {
		require.Equal(t, kitchen[status], status.AffectsKitchen(),
			"AffectsKitchen mismatch for %s", status)
	}
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, CheckTransition(StatusCompleted, StatusRefunded))

	err := CheckTransition(StatusDraft, StatusConfirmed)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	var illegal IllegalTransitionError
	require.True(t, errors.As(err, &illegal))
	require.Equal(t, StatusDraft, illegal.From)
	require.Equal(t, StatusConfirmed, illegal.To)
}

func TestStatusPathDirectEdge(t *testing.T) {
	path, err := StatusPath(StatusConfirmed, StatusPreparing)
	require.NoError(t, err)
	require.Equal(t, []OrderStatus{StatusPreparing}, path)
}

func TestStatusPathPipelineJump(t *testing.T) {
	// Draft to confirmed walks every calculation stage in order.
	path, err := StatusPath(StatusDraft, StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, []OrderStatus{
		StatusStarted,
		StatusItemsAdded,
		StatusItemsValidated,
		StatusPromotionsCalculated,
		StatusPriceCalculated,
		StatusConfirmed,
	}, path)

	// Partial jumps inside the pipeline work too.
	path, err = StatusPath(StatusItemsAdded, StatusPriceCalculated)
	require.NoError(t, err)
	require.Equal(t, []OrderStatus{
		StatusItemsValidated,
		StatusPromotionsCalculated,
		StatusPriceCalculated,
	}, path)
}

func TestStatusPathRejectsFulfilmentSkips(t *testing.T) {
	// Fulfilment states past confirmed are never skipped.
	cases := []struct {
		from, to OrderStatus
	}{
		{StatusDraft, StatusReady},
		{StatusDraft, StatusPreparing},
		{StatusConfirmed, StatusReady},
		{StatusConfirmed, StatusDelivered},
		{StatusPreparing, StatusCompleted},
	}

	for _, tc := range cases {
		_, err := StatusPath(tc.from, tc.to)
		require.ErrorIs(t, err, ErrInvalidStateTransition, "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusPathRejectsBackwardAndSelf(t *testing.T) {
	_, err := StatusPath(StatusConfirmed, StatusDraft)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = StatusPath(StatusPreparing, StatusPreparing)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = StatusPath(StatusCancelled, StatusDraft)
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = StatusPath(StatusDraft, OrderStatus("bogus"))
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}
