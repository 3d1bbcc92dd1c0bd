package checkpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-io/stagehand/internal/checkpoint"
	"github.com/stagehand-io/stagehand/pkg/types"
)

// memStore is an in-memory checkpoint store keyed by feature
type memStore struct {
	checkpoints map[string][]*types.Checkpoint
}

func newMemStore() *memStore {
	return &memStore{checkpoints: make(map[string][]*types.Checkpoint)}
}

func (s *memStore) SaveCheckpoint(cp *types.Checkpoint) (int64, error) {
	id := int64(len(s.checkpoints[cp.FeatureKey]) + 1)
	stored := *cp
	stored.ID = id
	s.checkpoints[cp.FeatureKey] = append(s.checkpoints[cp.FeatureKey], &stored)
	return id, nil
}

func (s *memStore) GetCheckpoint(featureKey string, id int64) (*types.Checkpoint, error) {
	for _, cp := range s.checkpoints[featureKey] {
		if cp.ID == id {
			return cp, nil
		}
	}
	return nil, types.NewError(types.KindNotFound, "memstore.getCheckpoint", "checkpoint %d not found", id)
}

func (s *memStore) ListCheckpoints(featureKey string) ([]*types.Checkpoint, error) {
	list := s.checkpoints[featureKey]
	out := make([]*types.Checkpoint, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func taskSet(statuses map[string]types.TaskStatus) *types.TaskSet {
	ts := &types.TaskSet{FeatureKey: "payments"}
	for id, st := range statuses {
		ts.Tasks = append(ts.Tasks, &types.Task{
			ID: id, FeatureKey: "payments", Title: id, Status: st,
		})
	}
	return ts
}

func TestSaveAndRestore_RoundTrip(t *testing.T) {
	store := newMemStore()
	m := checkpoint.NewManager(store)
	m.SetClock(func() int64 { return 500 })

	ts := taskSet(map[string]types.TaskStatus{
		"t1": types.StatusToDo,
		"t2": types.StatusInProgress,
	})

	cp, err := m.Save(ts, "before refactor")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.ID)
	assert.Equal(t, types.StatusToDo, cp.Snapshot["t1"])

	// Mutate both tasks, then restore.
	ts.Get("t1").Status = types.StatusInProgress
	ts.Get("t2").Status = types.StatusDone

	res, err := m.Restore(ts, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RestoredTasks)
	assert.Equal(t, 0, res.UnchangedTasks)
	assert.Equal(t, 0, res.SkippedTasks)
	assert.Equal(t, types.StatusToDo, ts.Get("t1").Status)
	assert.Equal(t, types.StatusInProgress, ts.Get("t2").Status)
}

func TestRestore_AppendsExactlyOneTransitionPerTask(t *testing.T) {
	store := newMemStore()
	m := checkpoint.NewManager(store)

	ts := taskSet(map[string]types.TaskStatus{"t1": types.StatusToDo})
	cp, err := m.Save(ts, "baseline")
	require.NoError(t, err)

	t1 := ts.Get("t1")
	t1.Status = types.StatusDone
	before := len(t1.Transitions)

	_, err = m.Restore(ts, cp.ID)
	require.NoError(t, err)

	require.Len(t, t1.Transitions, before+1, "restore appends, never rewrites")
	last := t1.Transitions[len(t1.Transitions)-1]
	assert.Equal(t, types.StatusDone, last.From)
	assert.Equal(t, types.StatusToDo, last.To)
	assert.Equal(t, string(types.RoleSystem), last.Actor)
	assert.Contains(t, last.Notes, `restored from checkpoint "baseline"`)
}

func TestRestore_SkipsDeletedAndUnchangedTasks(t *testing.T) {
	store := newMemStore()
	m := checkpoint.NewManager(store)

	ts := taskSet(map[string]types.TaskStatus{
		"kept":      types.StatusToDo,
		"unchanged": types.StatusInQA,
		"deleted":   types.StatusInProgress,
	})
	cp, err := m.Save(ts, "baseline")
	require.NoError(t, err)

	ts.Get("kept").Status = types.StatusDone
	// Simulate deletion of one task since the checkpoint.
	var survivors []*types.Task
	for _, task := range ts.Tasks {
		if task.ID != "deleted" {
			survivors = append(survivors, task)
		}
	}
	ts.Tasks = survivors

	res, err := m.Restore(ts, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RestoredTasks)
	assert.Equal(t, 1, res.UnchangedTasks)
	assert.Equal(t, 1, res.SkippedTasks)
	assert.Equal(t, len(cp.Snapshot), res.RestoredTasks+res.UnchangedTasks+res.SkippedTasks,
		"the three counts account for every snapshot entry")
	assert.Empty(t, ts.Get("unchanged").Transitions, "tasks already at snapshot status are untouched")
}

func TestRestore_UnknownCheckpoint(t *testing.T) {
	m := checkpoint.NewManager(newMemStore())
	ts := taskSet(map[string]types.TaskStatus{"t1": types.StatusToDo})

	_, err := m.Restore(ts, 42)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestRollbackLast(t *testing.T) {
	m := checkpoint.NewManager(newMemStore())

	task := &types.Task{ID: "t1", FeatureKey: "payments", Status: types.StatusToDo}
	task.AppendTransition(types.Transition{From: types.StatusToDo, To: types.StatusInProgress, Actor: "developer", Timestamp: 1})
	task.AppendTransition(types.Transition{From: types.StatusInProgress, To: types.StatusInReview, Actor: "developer", Timestamp: 2})

	popped, err := m.RollbackLast(task)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInReview, popped.To)
	assert.Equal(t, types.StatusInProgress, task.Status)
	require.Len(t, task.Transitions, 1)

	popped, err = m.RollbackLast(task)
	require.NoError(t, err)
	assert.Equal(t, types.StatusToDo, task.Status)
	assert.Empty(t, task.Transitions)

	_, err = m.RollbackLast(task)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNoHistory))
}

func TestList_NewestFirst(t *testing.T) {
	store := newMemStore()
	m := checkpoint.NewManager(store)
	ts := taskSet(map[string]types.TaskStatus{"t1": types.StatusToDo})

	first, err := m.Save(ts, "first")
	require.NoError(t, err)
	second, err := m.Save(ts, "second")
	require.NoError(t, err)

	list, err := m.List("payments")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
