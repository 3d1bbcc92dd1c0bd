// Package queue implements the durable job queue driving unattended
// feature processing
package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stagehand-io/stagehand/internal/events"
	"github.com/stagehand-io/stagehand/pkg/types"
)

// Store is the persistence surface the queue needs. The sqlite store
// implements it; the claim must execute as a single atomic operation.
type Store interface {
	EnqueueItem(repoName, featureKey, cliTool string) (*types.QueueItem, error)
	ClaimNextItem(workerHandle string) (*types.QueueItem, error)
	CompleteItem(id int64) error
	FailItem(id int64, message string) error
	ReenqueueItem(id int64) error
	CancelItem(id int64) error
	PruneItems(cutoff int64) (int, error)
	GetQueueItem(id int64) (*types.QueueItem, error)
	ListQueueItems(status types.QueueItemStatus) ([]*types.QueueItem, error)
	QueueStats() (*types.QueueStats, error)
}

// JobQueue wraps the store with event publication. It enforces the item
// lifecycle but deliberately not de-duplication (a caller policy) nor
// automatic retry (RetryCount is bookkeeping for the caller).
type JobQueue struct {
	store Store
	bus   *events.Bus
	log   *logrus.Entry
}

// New creates a job queue over the given store. bus may be nil.
func New(store Store, bus *events.Bus) *JobQueue {
	return &JobQueue{
		store: store,
		bus:   bus,
		log:   logrus.WithField("component", "queue"),
	}
}

// Enqueue inserts a pending automation request and returns it
func (q *JobQueue) Enqueue(ctx context.Context, repoName, featureKey, cliTool string) (*types.QueueItem, error) {
	item, err := q.store.EnqueueItem(repoName, featureKey, cliTool)
	if err != nil {
		return nil, err
	}
	q.publish(ctx, events.NewQueueEvent(events.EventQueueEnqueued, item.ID, featureKey, map[string]any{
		"repo": repoName, "cli_tool": cliTool,
	}))
	q.log.WithFields(logrus.Fields{"item": item.ID, "feature": featureKey}).Info("enqueued")
	return item, nil
}

// ClaimNext atomically claims the oldest pending item for the given
// worker handle. Returns nil when nothing is pending.
func (q *JobQueue) ClaimNext(ctx context.Context, workerHandle string) (*types.QueueItem, error) {
	item, err := q.store.ClaimNextItem(workerHandle)
	if err != nil || item == nil {
		return item, err
	}
	q.publish(ctx, events.NewQueueEvent(events.EventQueueClaimed, item.ID, item.FeatureKey, map[string]any{
		"worker": workerHandle,
	}))
	return item, nil
}

// Complete marks a running item completed
func (q *JobQueue) Complete(ctx context.Context, id int64) error {
	if err := q.store.CompleteItem(id); err != nil {
		return err
	}
	q.publish(ctx, events.NewQueueEvent(events.EventQueueCompleted, id, "", nil))
	return nil
}

// Fail marks a running item failed with the given message
func (q *JobQueue) Fail(ctx context.Context, id int64, message string) error {
	if err := q.store.FailItem(id, message); err != nil {
		return err
	}
	q.publish(ctx, events.NewQueueEvent(events.EventQueueFailed, id, "", map[string]any{
		"error": message,
	}))
	return nil
}

// Reenqueue resets a failed item to pending, bumping its retry count.
// Fails with InvalidState for items in any other state.
func (q *JobQueue) Reenqueue(ctx context.Context, id int64) error {
	if err := q.store.ReenqueueItem(id); err != nil {
		return err
	}
	q.publish(ctx, events.NewQueueEvent(events.EventQueueReenqueued, id, "", nil))
	return nil
}

// Cancel hard-deletes a pending item; claimed work cannot be cancelled
func (q *JobQueue) Cancel(id int64) error {
	return q.store.CancelItem(id)
}

// Prune hard-deletes completed and failed items older than the retention
// window and returns how many were removed.
func (q *JobQueue) Prune(olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
	n, err := q.store.PruneItems(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.WithField("removed", n).Info("pruned queue items")
	}
	return n, nil
}

// Get retrieves an item by id
func (q *JobQueue) Get(id int64) (*types.QueueItem, error) {
	return q.store.GetQueueItem(id)
}

// List returns items, optionally filtered by status
func (q *JobQueue) List(status types.QueueItemStatus) ([]*types.QueueItem, error) {
	return q.store.ListQueueItems(status)
}

// Stats returns item counts by status
func (q *JobQueue) Stats() (*types.QueueStats, error) {
	return q.store.QueueStats()
}

func (q *JobQueue) publish(ctx context.Context, ev *events.Event) {
	if q.bus == nil {
		return
	}
	if err := q.bus.Publish(ctx, ev); err != nil {
		q.log.WithError(err).Debug("event publish skipped")
	}
}
