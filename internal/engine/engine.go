// Package engine ties the workflow validator, planner, checkpoint
// manager, and storage together behind per-feature critical sections.
// Every mutating operation is a serialized load-validate-mutate-save
// sequence; reads operate on the loaded snapshot.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stagehand-io/stagehand/internal/checkpoint"
	"github.com/stagehand-io/stagehand/internal/events"
	"github.com/stagehand-io/stagehand/internal/planner"
	"github.com/stagehand-io/stagehand/internal/workflow"
	"github.com/stagehand-io/stagehand/pkg/types"
)

// Storage is the task set persistence surface the engine needs.
// SaveTaskSet is expected to be atomic; its failure is surfaced upward
// unmodified.
type Storage interface {
	LoadTaskSet(featureKey string) (*types.TaskSet, error)
	SaveTaskSet(ts *types.TaskSet) error
}

// Engine coordinates all task set mutation for the process
type Engine struct {
	store       Storage
	validator   *workflow.Validator
	checkpoints *checkpoint.Manager
	bus         *events.Bus
	locks       *featureLocks
	log         *logrus.Entry
}

// New creates an engine. bus may be nil when no one is listening.
func New(store Storage, v *workflow.Validator, cm *checkpoint.Manager, bus *events.Bus) *Engine {
	return &Engine{
		store:       store,
		validator:   v,
		checkpoints: cm,
		bus:         bus,
		locks:       newFeatureLocks(),
		log:         logrus.WithField("component", "engine"),
	}
}

// Validator exposes the validator for read-only rule queries
func (e *Engine) Validator() *workflow.Validator { return e.validator }

// AddTask appends a new task to a feature in its initial pipeline status.
// A task may not depend on itself; cross-task cycles are not rejected
// here (independent edits can always introduce them) and are caught by
// the planner instead.
func (e *Engine) AddTask(featureKey, taskID, title, description string, dependencies []string, order int) (*types.Task, error) {
	defer e.locks.lock(featureKey)()

	ts, err := e.store.LoadTaskSet(featureKey)
	if err != nil {
		return nil, err
	}
	if ts.Get(taskID) != nil {
		return nil, types.NewError(types.KindInvalidState, "engine.addTask",
			"task %s already exists in feature %s", taskID, featureKey)
	}
	for _, dep := range dependencies {
		if dep == taskID {
			return nil, types.NewError(types.KindInvalidState, "engine.addTask",
				"task %s cannot depend on itself", taskID)
		}
	}

	now := time.Now().Unix()
	task := &types.Task{
		ID:               taskID,
		FeatureKey:       featureKey,
		Title:            title,
		Description:      description,
		Status:           e.validator.Graph().InitialStatus(),
		Dependencies:     append([]string(nil), dependencies...),
		OrderOfExecution: order,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ts.Tasks = append(ts.Tasks, task)

	if err := e.store.SaveTaskSet(ts); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskSet loads a feature's tasks as a consistent snapshot
func (e *Engine) GetTaskSet(featureKey string) (*types.TaskSet, error) {
	return e.store.LoadTaskSet(featureKey)
}

// ApplyReview records a stakeholder review decision on a task
func (e *Engine) ApplyReview(ctx context.Context, featureKey, taskID string, role types.Role, decision types.ReviewDecision, notes string) (*types.Transition, error) {
	defer e.locks.lock(featureKey)()

	ts, task, err := e.loadTask(featureKey, taskID)
	if err != nil {
		return nil, err
	}

	tr, err := e.validator.ApplyReview(task, role, decision, notes)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveTaskSet(ts); err != nil {
		return nil, err
	}

	e.publish(ctx, events.NewEvent(events.EventReviewApplied, featureKey, taskID, map[string]any{
		"role": string(role), "decision": string(decision), "to": string(tr.To),
	}))
	e.publishTransition(ctx, featureKey, taskID, tr)
	return tr, nil
}

// ApplyDevTransition moves a task through the development flow. from is
// the caller's believed current status; see workflow.ApplyDevTransition.
func (e *Engine) ApplyDevTransition(ctx context.Context, featureKey, taskID string, from, to types.TaskStatus, actor types.Role, notes string) (*types.Transition, error) {
	defer e.locks.lock(featureKey)()

	ts, task, err := e.loadTask(featureKey, taskID)
	if err != nil {
		return nil, err
	}

	tr, err := e.validator.ApplyDevTransition(task, from, to, actor, notes)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveTaskSet(ts); err != nil {
		return nil, err
	}

	e.publishTransition(ctx, featureKey, taskID, tr)
	return tr, nil
}

// ReviewProgress summarizes a task's progress through the review phase
func (e *Engine) ReviewProgress(featureKey, taskID string) (workflow.Progress, error) {
	_, task, err := e.loadTask(featureKey, taskID)
	if err != nil {
		return workflow.Progress{}, err
	}
	return e.validator.ReviewProgress(task), nil
}

// Plan computes the feature's execution plan from a consistent snapshot.
// A cycle is reported in the plan, not as an error: one feature's bad
// graph must not abort processing of others.
func (e *Engine) Plan(featureKey string) (*planner.Plan, error) {
	ts, err := e.store.LoadTaskSet(featureKey)
	if err != nil {
		return nil, err
	}
	return planner.Compute(ts.Tasks), nil
}

// SaveCheckpoint snapshots the feature's current task statuses
func (e *Engine) SaveCheckpoint(ctx context.Context, featureKey, description string) (*types.Checkpoint, error) {
	defer e.locks.lock(featureKey)()

	ts, err := e.store.LoadTaskSet(featureKey)
	if err != nil {
		return nil, err
	}
	cp, err := e.checkpoints.Save(ts, description)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, events.NewEvent(events.EventCheckpointSaved, featureKey, "", map[string]any{
		"checkpoint_id": cp.ID, "tasks": len(cp.Snapshot),
	}))
	return cp, nil
}

// RestoreCheckpoint returns every surviving task to its snapshot status
func (e *Engine) RestoreCheckpoint(ctx context.Context, featureKey string, checkpointID int64) (*checkpoint.RestoreResult, error) {
	defer e.locks.lock(featureKey)()

	ts, err := e.store.LoadTaskSet(featureKey)
	if err != nil {
		return nil, err
	}
	res, err := e.checkpoints.Restore(ts, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveTaskSet(ts); err != nil {
		return nil, err
	}
	e.publish(ctx, events.NewEvent(events.EventCheckpointRestored, featureKey, "", map[string]any{
		"checkpoint_id": res.CheckpointID,
		"restored":      res.RestoredTasks,
		"unchanged":     res.UnchangedTasks,
		"skipped":       res.SkippedTasks,
	}))
	return res, nil
}

// RollbackLastDecision undoes a task's most recent transition
func (e *Engine) RollbackLastDecision(ctx context.Context, featureKey, taskID string) (*types.Transition, error) {
	defer e.locks.lock(featureKey)()

	ts, task, err := e.loadTask(featureKey, taskID)
	if err != nil {
		return nil, err
	}
	popped, err := e.checkpoints.RollbackLast(task)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveTaskSet(ts); err != nil {
		return nil, err
	}
	e.publish(ctx, events.NewEvent(events.EventTaskRolledBack, featureKey, taskID, map[string]any{
		"undone_from": string(popped.From), "undone_to": string(popped.To),
	}))
	return popped, nil
}

// ListCheckpoints returns the feature's checkpoints, newest first
func (e *Engine) ListCheckpoints(featureKey string) ([]*types.Checkpoint, error) {
	return e.checkpoints.List(featureKey)
}

func (e *Engine) loadTask(featureKey, taskID string) (*types.TaskSet, *types.Task, error) {
	ts, err := e.store.LoadTaskSet(featureKey)
	if err != nil {
		return nil, nil, err
	}
	task := ts.Get(taskID)
	if task == nil {
		return nil, nil, types.NewError(types.KindNotFound, "engine.loadTask",
			"task %s not found in feature %s", taskID, featureKey)
	}
	return ts, task, nil
}

func (e *Engine) publishTransition(ctx context.Context, featureKey, taskID string, tr *types.Transition) {
	e.publish(ctx, events.NewEvent(events.EventTaskTransitioned, featureKey, taskID, map[string]any{
		"from": string(tr.From), "to": string(tr.To), "actor": tr.Actor,
	}))
}

func (e *Engine) publish(ctx context.Context, ev *events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.log.WithError(err).Debug("event publish skipped")
	}
}
