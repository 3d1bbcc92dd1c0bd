// Package checkpoint snapshots and restores task status sets
package checkpoint

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// Store persists checkpoints. The sqlite store implements this; tests use
// an in-memory substitute.
type Store interface {
	// SaveCheckpoint persists the checkpoint and returns its id, which is
	// monotonically increasing within the feature.
	SaveCheckpoint(cp *types.Checkpoint) (int64, error)
	GetCheckpoint(featureKey string, id int64) (*types.Checkpoint, error)
	ListCheckpoints(featureKey string) ([]*types.Checkpoint, error)
}

// Manager creates and applies checkpoints over in-memory task sets.
// Loading and persisting the task set itself is the caller's job, under
// its per-feature critical section.
type Manager struct {
	store Store
	log   *logrus.Entry
	now   func() int64
}

// NewManager creates a checkpoint manager backed by the given store
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		log:   logrus.WithField("component", "checkpoint"),
		now:   func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the timestamp source for tests
func (m *Manager) SetClock(now func() int64) { m.now = now }

// Save snapshots the current status of every task in the set. Statuses
// are copied by value so later task mutation cannot corrupt the snapshot.
func (m *Manager) Save(ts *types.TaskSet, description string) (*types.Checkpoint, error) {
	snapshot := make(map[string]types.TaskStatus, len(ts.Tasks))
	for _, t := range ts.Tasks {
		snapshot[t.ID] = t.Status
	}
	cp := &types.Checkpoint{
		FeatureKey:  ts.FeatureKey,
		Description: description,
		CreatedAt:   m.now(),
		Snapshot:    snapshot,
	}
	id, err := m.store.SaveCheckpoint(cp)
	if err != nil {
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}
	cp.ID = id
	m.log.WithFields(logrus.Fields{
		"feature":    ts.FeatureKey,
		"checkpoint": id,
		"tasks":      len(snapshot),
	}).Info("checkpoint saved")
	return cp, nil
}

// RestoreResult reports what a restore touched. RestoredTasks +
// UnchangedTasks + SkippedTasks always equals the snapshot size, so a
// low restored count is distinguishable from a partial failure.
type RestoreResult struct {
	CheckpointID  int64 `json:"checkpoint_id"`
	RestoredTasks int   `json:"restored_tasks"`
	// UnchangedTasks counts tasks already at their snapshot status.
	UnchangedTasks int `json:"unchanged_tasks"`
	// SkippedTasks counts snapshot entries whose task no longer exists.
	SkippedTasks int `json:"skipped_tasks"`
}

// Restore moves every surviving task back to its snapshot status by
// appending a new transition per task; history is never rewritten. Tasks
// deleted since the checkpoint are skipped and counted, not errored.
func (m *Manager) Restore(ts *types.TaskSet, checkpointID int64) (*RestoreResult, error) {
	cp, err := m.store.GetCheckpoint(ts.FeatureKey, checkpointID)
	if err != nil {
		return nil, err
	}

	res := &RestoreResult{CheckpointID: cp.ID}
	now := m.now()
	for taskID, snapStatus := range cp.Snapshot {
		task := ts.Get(taskID)
		if task == nil {
			res.SkippedTasks++
			continue
		}
		if task.Status == snapStatus {
			res.UnchangedTasks++
			continue
		}
		task.AppendTransition(types.Transition{
			From:      task.Status,
			To:        snapStatus,
			Actor:     string(types.RoleSystem),
			Timestamp: now,
			Notes:     fmt.Sprintf("restored from checkpoint %q", cp.Description),
			Meta:      map[string]string{"checkpoint_id": fmt.Sprintf("%d", cp.ID)},
		})
		res.RestoredTasks++
	}
	m.log.WithFields(logrus.Fields{
		"feature":    ts.FeatureKey,
		"checkpoint": cp.ID,
		"restored":   res.RestoredTasks,
		"unchanged":  res.UnchangedTasks,
		"skipped":    res.SkippedTasks,
	}).Info("checkpoint restored")
	return res, nil
}

// RollbackLast undoes the task's most recent transition: the popped
// entry's From becomes the live status again. This is the one place
// history shrinks, so it is logged explicitly. Repeated calls keep
// walking backward through real history.
func (m *Manager) RollbackLast(task *types.Task) (*types.Transition, error) {
	if len(task.Transitions) == 0 {
		return nil, types.NewError(types.KindNoHistory, "checkpoint.rollback",
			"task %s has no transitions to roll back", task.ID)
	}
	popped := task.Transitions[len(task.Transitions)-1]
	task.Transitions = task.Transitions[:len(task.Transitions)-1]
	task.Status = popped.From
	task.UpdatedAt = m.now()

	m.log.WithFields(logrus.Fields{
		"feature": task.FeatureKey,
		"task":    task.ID,
		"undone":  fmt.Sprintf("%s -> %s", popped.From, popped.To),
	}).Warn("rolled back last transition")
	return &popped, nil
}

// List returns the feature's checkpoints, newest first
func (m *Manager) List(featureKey string) ([]*types.Checkpoint, error) {
	return m.store.ListCheckpoints(featureKey)
}
