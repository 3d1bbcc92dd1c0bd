package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// Action executes one claimed queue item. The engine only records the
// outcome; what the action actually runs (an external CLI tool, an
// automation agent) is the caller's business.
type Action func(ctx context.Context, item *types.QueueItem) error

// Runner drives N workers against the queue. Each worker claims items,
// runs the action, and reports completion or failure back into the
// queue. Failed items stay failed until a caller re-enqueues them.
type Runner struct {
	queue        *JobQueue
	action       Action
	workers      int
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewRunner creates a runner. workers must be at least 1.
func NewRunner(q *JobQueue, action Action, workers int, pollInterval time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		queue:        q,
		action:       action,
		workers:      workers,
		pollInterval: pollInterval,
		log:          logrus.WithField("component", "runner"),
	}
}

// Run blocks until the context is cancelled, keeping all workers polling
func (r *Runner) Run(ctx context.Context) error {
	r.log.WithField("workers", r.workers).Info("runner starting")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		id := i
		g.Go(func() error {
			return r.worker(ctx, id)
		})
	}

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// newPollBackoff builds the wait strategy used while the queue is empty.
// Backoff instances are stateful; always return a fresh one.
func (r *Runner) newPollBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.pollInterval
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // poll forever
	return bo
}

// worker claims and executes items until the context is cancelled
func (r *Runner) worker(ctx context.Context, id int) error {
	handle := fmt.Sprintf("worker-%d-%d", id, time.Now().UnixNano())
	log := r.log.WithField("worker", handle)
	log.Debug("worker started")

	wait := r.newPollBackoff()
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping")
			return ctx.Err()
		default:
		}

		item, err := r.queue.ClaimNext(ctx, handle)
		if err != nil {
			log.WithError(err).Error("claim failed")
			if !sleep(ctx, wait.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		if item == nil {
			// Queue is empty; back off before polling again
			if !sleep(ctx, wait.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		wait.Reset()

		r.execute(ctx, log, item)
	}
}

// execute runs the action for one claimed item and records the outcome
func (r *Runner) execute(ctx context.Context, log *logrus.Entry, item *types.QueueItem) {
	start := time.Now()
	log = log.WithFields(logrus.Fields{"item": item.ID, "feature": item.FeatureKey})
	log.Info("executing")

	if err := r.action(ctx, item); err != nil {
		log.WithError(err).Warn("item failed")
		if ferr := r.queue.Fail(ctx, item.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("recording failure")
		}
		return
	}

	if err := r.queue.Complete(ctx, item.ID); err != nil {
		log.WithError(err).Error("recording completion")
		return
	}
	log.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("completed")
}

// sleep waits for d or until the context is cancelled; returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
