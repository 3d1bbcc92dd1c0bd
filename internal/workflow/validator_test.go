package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-io/stagehand/internal/statusgraph"
	"github.com/stagehand-io/stagehand/internal/workflow"
	"github.com/stagehand-io/stagehand/pkg/types"
)

func newValidator(t *testing.T) *workflow.Validator {
	t.Helper()
	v := workflow.NewValidator(statusgraph.Default())
	v.SetClock(func() int64 { return 1000 })
	return v
}

func newTask(status types.TaskStatus) *types.Task {
	return &types.Task{
		ID:         "task-1",
		FeatureKey: "payments",
		Title:      "Add retry logic",
		Status:     status,
	}
}

func TestValidateReview_WrongRole(t *testing.T) {
	v := newValidator(t)

	res := v.ValidateReview(types.StatusPendingArchitectureReview, types.RoleUX)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "expects role architect")
}

func TestApplyReview_ApproveAdvances(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingMarketReview)

	tr, err := v.ApplyReview(task, types.RoleMarket, types.DecisionApprove, "looks viable")
	require.NoError(t, err)

	assert.Equal(t, types.StatusPendingArchitectureReview, task.Status)
	assert.Equal(t, types.StatusPendingMarketReview, tr.From)
	assert.Equal(t, "market", tr.Actor)
	assert.Equal(t, "approve", tr.Meta["decision"])

	rev := task.Reviews[types.RoleMarket]
	require.NotNil(t, rev)
	assert.Equal(t, types.DecisionApprove, rev.Decision)
	assert.Equal(t, "looks viable", rev.Notes)
}

func TestApplyReview_RejectGoesToRefinement(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingSecurityReview)

	_, err := v.ApplyReview(task, types.RoleSecurity, types.DecisionReject, "missing threat model")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsRefinement, task.Status)
}

func TestApplyReview_WrongRoleRejected(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingMarketReview)

	_, err := v.ApplyReview(task, types.RoleArchitect, types.DecisionApprove, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))
	assert.Equal(t, types.StatusPendingMarketReview, task.Status, "task must be unchanged")
	assert.Empty(t, task.Transitions)
}

func TestStatusTracksLastTransition(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingMarketReview)

	_, err := v.ApplyReview(task, types.RoleMarket, types.DecisionApprove, "")
	require.NoError(t, err)
	_, err = v.ApplyReview(task, types.RoleArchitect, types.DecisionApprove, "")
	require.NoError(t, err)
	_, err = v.ApplyReview(task, types.RoleUX, types.DecisionReject, "flow unclear")
	require.NoError(t, err)

	require.Len(t, task.Transitions, 3)
	last := task.Transitions[len(task.Transitions)-1]
	assert.Equal(t, last.To, task.Status, "status must equal the To of the last transition")
	assert.Equal(t, task.Status, task.CurrentStatus())
}

func TestApplyDevTransition_HappyPath(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusToDo)

	tr, err := v.ApplyDevTransition(task, types.StatusToDo, types.StatusInProgress, types.RoleDeveloper, "picked up")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, task.Status)
	assert.Equal(t, "picked up", tr.Notes)
}

func TestApplyDevTransition_StaleFromConflicts(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusInProgress)

	// Caller believes the task is still in todo.
	_, err := v.ApplyDevTransition(task, types.StatusToDo, types.StatusInProgress, types.RoleDeveloper, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConcurrencyConflict))
	assert.Equal(t, types.StatusInProgress, task.Status)
	assert.Empty(t, task.Transitions)
}

func TestApplyDevTransition_ActorRules(t *testing.T) {
	v := newValidator(t)

	task := newTask(types.StatusInReview)
	_, err := v.ApplyDevTransition(task, types.StatusInReview, types.StatusInQA, types.RoleDeveloper, "")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidTransition))

	_, err = v.ApplyDevTransition(task, types.StatusInReview, types.StatusInQA, types.RoleTechLead, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInQA, task.Status)
}

func TestApplyDevTransition_RejectionLoop(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusInQA)

	_, err := v.ApplyDevTransition(task, types.StatusInQA, types.StatusNeedsChanges, types.RoleQA, "flaky startup")
	require.NoError(t, err)

	_, err = v.ApplyDevTransition(task, types.StatusNeedsChanges, types.StatusInProgress, types.RoleDeveloper, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, task.Status)
}

func TestReviewProgress(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingMarketReview)

	p := v.ReviewProgress(task)
	assert.Empty(t, p.CompletedRoles)
	assert.Equal(t, []types.Role{types.RoleMarket, types.RoleArchitect, types.RoleUX, types.RoleSecurity}, p.PendingRoles)
	assert.Equal(t, types.RoleMarket, p.CurrentRole)

	_, err := v.ApplyReview(task, types.RoleMarket, types.DecisionApprove, "")
	require.NoError(t, err)
	_, err = v.ApplyReview(task, types.RoleArchitect, types.DecisionApprove, "")
	require.NoError(t, err)

	p = v.ReviewProgress(task)
	assert.Equal(t, []types.Role{types.RoleMarket, types.RoleArchitect}, p.CompletedRoles)
	assert.Equal(t, []types.Role{types.RoleUX, types.RoleSecurity}, p.PendingRoles)
	assert.Equal(t, types.RoleUX, p.CurrentRole)
}

func TestReviewProgress_AfterAllApprovals(t *testing.T) {
	v := newValidator(t)
	task := newTask(types.StatusPendingMarketReview)

	for _, role := range []types.Role{types.RoleMarket, types.RoleArchitect, types.RoleUX, types.RoleSecurity} {
		_, err := v.ApplyReview(task, role, types.DecisionApprove, "")
		require.NoError(t, err)
	}

	assert.Equal(t, types.StatusReadyForDevelopment, task.Status)
	p := v.ReviewProgress(task)
	assert.Empty(t, p.PendingRoles)
	assert.Empty(t, p.CurrentRole)
}
