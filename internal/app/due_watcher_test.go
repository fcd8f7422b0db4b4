package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

func TestDueDateWatcher_NotifiesOnce(t *testing.T) {
	ctx := context.Background()
	soon := monday0700.Add(3 * time.Hour)
	later := monday0700.Add(72 * time.Hour)

	store := memstore.NewJobStore()
	for _, req := range []CreateJobRequest{
		{ID: "j1", JobNumber: "J-1", Priority: domain.PriorityHigh, DueDate: &soon, Tasks: jobRequest().Tasks},
		{ID: "j2", JobNumber: "J-2", Priority: domain.PriorityLow, DueDate: &later, Tasks: jobRequest().Tasks},
	} {
		j, err := BuildJob(req, monday0700)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, j))
	}

	bus := memorybus.New(zerolog.Nop())
	events, cancel := bus.Subscribe(domain.EventJobDueSoon)
	defer cancel()

	w := NewDueDateWatcher(zerolog.Nop(), store, bus)
	w.now = func() time.Time { return monday0700 }

	assert.Equal(t, 1, w.tick(ctx))
	require.Len(t, events, 1)
	evt := <-events
	assert.Equal(t, "j1", evt.AggregateID)
	payload, ok := evt.Payload.(DueSoon)
	require.True(t, ok)
	assert.False(t, payload.Overdue)

	assert.Equal(t, 0, w.tick(ctx), "already notified")

	// Échéance déplacée: nouvelle notification, désormais en retard.
	j1, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	moved := monday0700.Add(-time.Hour)
	j1.DueDate = &moved
	require.NoError(t, store.Save(ctx, j1))
	assert.Equal(t, 1, w.tick(ctx))
	evt = <-events
	assert.True(t, evt.Payload.(DueSoon).Overdue)
	assert.Contains(t, w.notified, "j1")

	// Job annulé: l'entrée est oubliée.
	j1, err = store.Get(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, j1.TransitionTo(domain.JobCancelled, monday0700))
	require.NoError(t, store.Save(ctx, j1))
	assert.Equal(t, 0, w.tick(ctx))
	assert.Empty(t, w.notified)
}
