package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-io/stagehand/internal/events"
	"github.com/stagehand-io/stagehand/internal/queue"
	"github.com/stagehand-io/stagehand/pkg/types"
)

func waitForStatus(t *testing.T, q *queue.JobQueue, id int64, want types.QueueItemStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := q.Get(id)
		require.NoError(t, err)
		if item.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	item, _ := q.Get(id)
	t.Fatalf("item %d never reached %s, last status %s", id, want, item.Status)
}

func TestRunner_CompletesItems(t *testing.T) {
	q := queue.New(newFakeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item, err := q.Enqueue(ctx, "acme/api", "payments", "")
	require.NoError(t, err)

	executed := make(chan *types.QueueItem, 1)
	r := queue.NewRunner(q, func(ctx context.Context, item *types.QueueItem) error {
		executed <- item
		return nil
	}, 2, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case got := <-executed:
		assert.Equal(t, item.ID, got.ID)
		assert.Equal(t, "payments", got.FeatureKey)
		assert.NotEmpty(t, got.WorkerHandle)
	case <-time.After(5 * time.Second):
		t.Fatal("action never ran")
	}
	waitForStatus(t, q, item.ID, types.QueueCompleted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_RecordsFailures(t *testing.T) {
	q := queue.New(newFakeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item, err := q.Enqueue(ctx, "acme/api", "payments", "")
	require.NoError(t, err)

	r := queue.NewRunner(q, func(ctx context.Context, item *types.QueueItem) error {
		return errors.New("tool exited 1")
	}, 1, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitForStatus(t, q, item.ID, types.QueueFailed)
	got, err := q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "tool exited 1", got.ErrorMessage)

	// Failed items stay failed; the runner never retries on its own.
	time.Sleep(50 * time.Millisecond)
	got, err = q.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.QueueFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	cancel()
	<-done
}

func TestRunner_EventsObservableViaBus(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe("observer")

	q := queue.New(newFakeStore(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	item, err := q.Enqueue(ctx, "acme/api", "payments", "")
	require.NoError(t, err)

	r := queue.NewRunner(q, func(ctx context.Context, item *types.QueueItem) error {
		return nil
	}, 1, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitForStatus(t, q, item.ID, types.QueueCompleted)
	cancel()
	<-done

	seen := map[events.EventType]bool{}
	for _, ev := range drainEvents(sub) {
		seen[ev.Type] = true
	}
	assert.True(t, seen[events.EventQueueEnqueued])
	assert.True(t, seen[events.EventQueueClaimed], "a bus subscriber observes the worker's claim")
	assert.True(t, seen[events.EventQueueCompleted])
}

func TestRunner_DrainsBacklogAcrossWorkers(t *testing.T) {
	q := queue.New(newFakeStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 6
	var ids []int64
	for i := 0; i < n; i++ {
		item, err := q.Enqueue(ctx, "acme/api", "payments", "")
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	r := queue.NewRunner(q, func(ctx context.Context, item *types.QueueItem) error {
		return nil
	}, 3, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for _, id := range ids {
		waitForStatus(t, q, id, types.QueueCompleted)
	}

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, n, stats.Completed)
	assert.Equal(t, 0, stats.Running)

	cancel()
	<-done
}
