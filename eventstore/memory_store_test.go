package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/dinehub/services/orders/domain"
)

func sessionEvents(n int) []domain.Event {
	events := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		var data interface{}
		eventType := domain.CartItemAdded
		if i == 0 {
			eventType = domain.SessionInitiated
			data = domain.SessionInitiatedEvent{SessionID: "session-1", LocationID: 5, StartedAt: time.Now().UTC()}
		} else {
			data = domain.CartItemAddedEvent{LineItemID: "line-1", ItemID: 42, Quantity: 1, UnitPrice: 100, Time: time.Now().UTC()}
		}
		events = append(events, domain.Event{
			AggregateID:   "session-1",
			AggregateType: domain.AggregateTypeOrderSession,
			Type:          eventType,
			Sequence:      int64(i + 1),
			Timestamp:     time.Now().UTC(),
			Data:          data,
		})
	}
	return events
}

func TestAppendAssignsSequencesAndPositions(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	sequences, err := store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(3))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, sequences)

	loaded, err := store.LoadStream(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, event := range loaded {
		require.Equal(t, int64(i+1), event.Sequence)
		require.Equal(t, int64(i+1), event.GlobalPosition)
		require.NotEmpty(t, event.ID)
		require.NotNil(t, event.Data)
	}

	last, err := store.LastSequence(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), last)

	position, err := store.LastPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), position)
}

func TestAppendStaleExpectedSequenceConflicts(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	_, err := store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(2))
	require.NoError(t, err)

	// A writer that loaded before the first append must lose.
	_, err = store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(1))
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// The correct expected sequence succeeds.
	_, err = store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 2, sessionEvents(1))
	require.NoError(t, err)
}

func TestConcurrentAppendExactlyOneWins(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	_, err := store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(1))
	require.NoError(t, err)

	// Two writers race from the same observed sequence.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 1, sessionEvents(1))
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range results {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
			conflicts++
		}
	}
	require.Equal(t, 1, conflicts, "exactly one writer should lose")

	last, err := store.LastSequence(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), last)
}

func TestLoadAllWalksGlobalPositions(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	_, err := store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(3))
	require.NoError(t, err)

	other := sessionEvents(1)
	other[0].AggregateID = "session-2"
	_, err = store.Append(ctx, "session-2", domain.AggregateTypeOrderSession, 0, other)
	require.NoError(t, err)

	// Page through in batches of 2.
	var all []domain.Event
	var position int64
	for {
		batch, err := store.LoadAll(ctx, position, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		position = batch[len(batch)-1].GlobalPosition
	}

	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].GlobalPosition, all[i-1].GlobalPosition)
	}
}

func TestExists(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "session-1")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.Append(ctx, "session-1", domain.AggregateTypeOrderSession, 0, sessionEvents(1))
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "session-1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	session := domain.NewSessionAggregate("session-1")
	require.NoError(t, session.Apply(domain.SessionInitiatedEvent{
		SessionID:  "session-1",
		LocationID: 5,
		StartedAt:  time.Now().UTC(),
	}))
	require.NoError(t, session.Apply(domain.CartItemAddedEvent{
		LineItemID: "line-1",
		ItemID:     42,
		Name:       "Margherita",
		Quantity:   2,
		UnitPrice:  2500,
		Time:       time.Now().UTC(),
	}))

	require.NoError(t, Save(ctx, store, session))
	require.Empty(t, session.GetUncommittedEvents())
	require.Equal(t, int64(2), session.CommittedSequence())

	reloaded := domain.NewSessionAggregate("session-1")
	require.NoError(t, Load(ctx, store, reloaded))

	require.Equal(t, session.State, reloaded.State)
	require.Equal(t, int64(2), reloaded.CommittedSequence())
}

func TestSaveStaleAggregateConflicts(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	first := domain.NewSessionAggregate("session-1")
	require.NoError(t, first.Apply(domain.SessionInitiatedEvent{SessionID: "session-1", StartedAt: time.Now().UTC()}))
	require.NoError(t, Save(ctx, store, first))

	// A second aggregate loads, then the first writes again.
	second := domain.NewSessionAggregate("session-1")
	require.NoError(t, Load(ctx, store, second))

	require.NoError(t, first.Apply(domain.DraftSavedEvent{Time: time.Now().UTC()}))
	require.NoError(t, Save(ctx, store, first))

	require.NoError(t, second.Apply(domain.DraftSavedEvent{Time: time.Now().UTC()}))
	err := Save(ctx, store, second)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}
