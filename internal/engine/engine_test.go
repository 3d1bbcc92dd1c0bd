package engine_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-io/stagehand/internal/checkpoint"
	"github.com/stagehand-io/stagehand/internal/db"
	"github.com/stagehand-io/stagehand/internal/engine"
	"github.com/stagehand-io/stagehand/internal/statusgraph"
	"github.com/stagehand-io/stagehand/internal/workflow"
	"github.com/stagehand-io/stagehand/pkg/types"
)

func setupEngine(t *testing.T) (*engine.Engine, *db.Store) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	_, err = store.CreateFeature("payments", "Payments", "")
	require.NoError(t, err)

	v := workflow.NewValidator(statusgraph.Default())
	cm := checkpoint.NewManager(store)
	return engine.New(store, v, cm, nil), store
}

func TestEngine_AddTask(t *testing.T) {
	e, _ := setupEngine(t)

	task, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingMarketReview, task.Status, "new tasks enter at the initial pipeline status")

	_, err = e.AddTask("payments", "t2", "API", "", []string{"t1"}, 2)
	require.NoError(t, err)

	ts, err := e.GetTaskSet("payments")
	require.NoError(t, err)
	require.Len(t, ts.Tasks, 2)
	assert.Equal(t, []string{"t1"}, ts.Get("t2").Dependencies)
}

func TestEngine_AddTask_Rejections(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	_, err = e.AddTask("payments", "t1", "Again", "", nil, 1)
	assert.True(t, types.IsKind(err, types.KindInvalidState), "duplicate id: %v", err)

	_, err = e.AddTask("payments", "t2", "Self", "", []string{"t2"}, 1)
	assert.True(t, types.IsKind(err, types.KindInvalidState), "self dependency: %v", err)

	_, err = e.AddTask("ghost", "t1", "Schema", "", nil, 1)
	assert.True(t, types.IsKind(err, types.KindNotFound), "unknown feature: %v", err)
}

func TestEngine_ReviewFlowPersists(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	tr, err := e.ApplyReview(ctx, "payments", "t1", types.RoleMarket, types.DecisionApprove, "fits roadmap")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingArchitectureReview, tr.To)

	// Reload from storage: the review and transition survived the save.
	ts, err := e.GetTaskSet("payments")
	require.NoError(t, err)
	task := ts.Get("t1")
	assert.Equal(t, types.StatusPendingArchitectureReview, task.Status)
	require.Len(t, task.Transitions, 1)
	require.NotNil(t, task.Reviews[types.RoleMarket])
	assert.Equal(t, "fits roadmap", task.Reviews[types.RoleMarket].Notes)
}

func TestEngine_InvalidReviewLeavesStorageUntouched(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	_, err = e.ApplyReview(ctx, "payments", "t1", types.RoleSecurity, types.DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))

	ts, err := e.GetTaskSet("payments")
	require.NoError(t, err)
	task := ts.Get("t1")
	assert.Equal(t, types.StatusPendingMarketReview, task.Status)
	assert.Empty(t, task.Transitions)
}

func TestEngine_DevTransitionStaleFrom(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	// Put the task directly into in_progress.
	ts, err := store.LoadTaskSet("payments")
	require.NoError(t, err)
	ts.Get("t1").Status = types.StatusInProgress
	require.NoError(t, store.SaveTaskSet(ts))

	_, err = e.ApplyDevTransition(ctx, "payments", "t1", types.StatusToDo, types.StatusInProgress, types.RoleDeveloper, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConcurrencyConflict))

	tr, err := e.ApplyDevTransition(ctx, "payments", "t1", types.StatusInProgress, types.StatusInReview, types.RoleDeveloper, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInReview, tr.To)
}

func TestEngine_CheckpointRestoreRollback(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	cp, err := e.SaveCheckpoint(ctx, "payments", "before reviews")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.ID)

	_, err = e.ApplyReview(ctx, "payments", "t1", types.RoleMarket, types.DecisionApprove, "")
	require.NoError(t, err)

	res, err := e.RestoreCheckpoint(ctx, "payments", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RestoredTasks)

	ts, err := store.LoadTaskSet("payments")
	require.NoError(t, err)
	task := ts.Get("t1")
	assert.Equal(t, types.StatusPendingMarketReview, task.Status)
	require.Len(t, task.Transitions, 2, "review transition plus restore transition")

	// Roll back the restore itself.
	popped, err := e.RollbackLastDecision(ctx, "payments", "t1")
	require.NoError(t, err)
	assert.Equal(t, string(types.RoleSystem), popped.Actor)

	ts, err = store.LoadTaskSet("payments")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingArchitectureReview, ts.Get("t1").Status)
	assert.Len(t, ts.Get("t1").Transitions, 1)
}

func TestEngine_RollbackWithoutHistory(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)

	_, err = e.RollbackLastDecision(context.Background(), "payments", "t1")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindNoHistory))
}

func TestEngine_Plan(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.AddTask("payments", "a", "A", "", nil, 1)
	require.NoError(t, err)
	_, err = e.AddTask("payments", "b", "B", "", []string{"a"}, 2)
	require.NoError(t, err)
	_, err = e.AddTask("payments", "c", "C", "", []string{"b"}, 3)
	require.NoError(t, err)

	plan, err := e.Plan("payments")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, plan.OptimalOrder)
	assert.Equal(t, []string{"c", "b", "a"}, plan.CriticalPath)
}

func TestEngine_PlanReportsCycleWithoutError(t *testing.T) {
	e, store := setupEngine(t)

	_, err := e.AddTask("payments", "a", "A", "", []string{"b"}, 1)
	require.NoError(t, err)
	_, err = e.AddTask("payments", "b", "B", "", []string{"a"}, 2)
	require.NoError(t, err)

	plan, err := e.Plan("payments")
	require.NoError(t, err, "a cyclic graph is reported, not errored")
	assert.True(t, plan.HasCycle)
	assert.Empty(t, plan.OptimalOrder)

	// The feature is still loadable and editable.
	_, err = store.LoadTaskSet("payments")
	require.NoError(t, err)
}

func TestEngine_ConcurrentReviewsSerialize(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		_, err := e.AddTask("payments", id, id, "", nil, 1)
		require.NoError(t, err)
	}

	// Approve every task's market review from concurrent goroutines. The
	// per-feature critical section must keep each load-mutate-save whole.
	var wg sync.WaitGroup
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			_, err := e.ApplyReview(ctx, "payments", taskID, types.RoleMarket, types.DecisionApprove, "")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	ts, err := store.LoadTaskSet("payments")
	require.NoError(t, err)
	for _, task := range ts.Tasks {
		assert.Equal(t, types.StatusPendingArchitectureReview, task.Status)
		assert.Len(t, task.Transitions, 1)
	}
}

func TestEngine_ReviewProgress(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.AddTask("payments", "t1", "Schema", "", nil, 1)
	require.NoError(t, err)
	_, err = e.ApplyReview(ctx, "payments", "t1", types.RoleMarket, types.DecisionApprove, "")
	require.NoError(t, err)

	p, err := e.ReviewProgress("payments", "t1")
	require.NoError(t, err)
	assert.Equal(t, []types.Role{types.RoleMarket}, p.CompletedRoles)
	assert.Equal(t, types.RoleArchitect, p.CurrentRole)
}
