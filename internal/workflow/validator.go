// Package workflow applies status graph rules to individual tasks
package workflow

import (
	"time"

	"github.com/stagehand-io/stagehand/internal/statusgraph"
	"github.com/stagehand-io/stagehand/pkg/types"
)

// Validator legalizes task transitions against an injected status graph.
// It never reaches into storage; callers load the task, call the validator,
// and persist the result under their own critical section.
type Validator struct {
	graph *statusgraph.Graph
	now   func() int64
}

// NewValidator creates a validator over the given graph
func NewValidator(g *statusgraph.Graph) *Validator {
	return &Validator{graph: g, now: func() int64 { return time.Now().Unix() }}
}

// SetClock overrides the timestamp source. Tests use this to pin time.
func (v *Validator) SetClock(now func() int64) { v.now = now }

// Graph returns the status graph the validator was built with
func (v *Validator) Graph() *statusgraph.Graph { return v.graph }

// ValidationResult reports whether a requested transition is legal.
// Invalid transitions are reported here, never panicked or thrown.
type ValidationResult struct {
	Valid       bool               `json:"valid"`
	Errors      []string           `json:"errors,omitempty"`
	AllowedNext []types.TaskStatus `json:"allowed_next,omitempty"`
}

func invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// ValidateReview checks whether the given role may review a task in the
// given status. It never mutates anything.
func (v *Validator) ValidateReview(status types.TaskStatus, role types.Role) ValidationResult {
	rule, ok := v.graph.ReviewRule(status)
	if !ok {
		return invalid("no active review stage for status " + string(status))
	}
	if rule.ExpectedRole != role {
		return invalid("review for status " + string(status) + " expects role " + string(rule.ExpectedRole) + ", got " + string(role))
	}
	return ValidationResult{
		Valid:       true,
		AllowedNext: []types.TaskStatus{rule.OnApprove, rule.OnReject},
	}
}

// ApplyReview validates and applies a stakeholder review decision. On
// success it appends a transition, moves the task, and records the
// role's review.
func (v *Validator) ApplyReview(task *types.Task, role types.Role, decision types.ReviewDecision, notes string) (*types.Transition, error) {
	res := v.ValidateReview(task.Status, role)
	if !res.Valid {
		return nil, types.NewError(types.KindInvalidTransition, "workflow.applyReview", "%s", res.Errors[0])
	}
	rule, _ := v.graph.ReviewRule(task.Status)

	next := rule.OnApprove
	if decision == types.DecisionReject {
		next = rule.OnReject
	}

	now := v.now()
	tr := types.Transition{
		From:      task.Status,
		To:        next,
		Actor:     string(role),
		Timestamp: now,
		Notes:     notes,
		Meta:      map[string]string{"decision": string(decision)},
	}
	task.AppendTransition(tr)

	if task.Reviews == nil {
		task.Reviews = make(map[types.Role]*types.StakeholderReview)
	}
	task.Reviews[role] = &types.StakeholderReview{
		Role:      role,
		Decision:  decision,
		Notes:     notes,
		Timestamp: now,
	}
	return &tr, nil
}

// ValidateDevTransition checks whether actor may move a task from one
// status to another under the dev rules.
func (v *Validator) ValidateDevTransition(from, to types.TaskStatus, actor types.Role) ValidationResult {
	rule, ok := v.graph.DevRule(from)
	if !ok {
		return invalid("no transitions allowed from status " + string(from))
	}
	var errs []string
	if !rule.AllowsActor(actor) {
		errs = append(errs, "actor "+string(actor)+" may not transition from "+string(from))
	}
	if !rule.AllowsNext(to) {
		errs = append(errs, "transition "+string(from)+" -> "+string(to)+" is not allowed")
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs, AllowedNext: rule.AllowedNext}
	}
	return ValidationResult{Valid: true, AllowedNext: rule.AllowedNext}
}

// ApplyDevTransition validates and applies a development transition.
// from is the caller's believed current status; a mismatch with the live
// status returns a ConcurrencyConflict and leaves the task unchanged, so
// two racing callers cannot both transition from a stale view.
func (v *Validator) ApplyDevTransition(task *types.Task, from, to types.TaskStatus, actor types.Role, notes string) (*types.Transition, error) {
	if task.Status != from {
		return nil, types.NewError(types.KindConcurrencyConflict, "workflow.applyDevTransition",
			"task %s is %s, not %s", task.ID, task.Status, from)
	}
	res := v.ValidateDevTransition(from, to, actor)
	if !res.Valid {
		return nil, types.NewError(types.KindInvalidTransition, "workflow.applyDevTransition", "%s", res.Errors[0])
	}

	tr := types.Transition{
		From:      from,
		To:        to,
		Actor:     string(actor),
		Timestamp: v.now(),
		Notes:     notes,
	}
	task.AppendTransition(tr)
	return &tr, nil
}

// Progress summarizes how far a task has moved through the review phase
type Progress struct {
	CompletedRoles []types.Role `json:"completed_roles"`
	PendingRoles   []types.Role `json:"pending_roles"`
	// CurrentRole is the role whose review is up next, or empty once every
	// role has approved or the task has left the review phase.
	CurrentRole types.Role `json:"current_role,omitempty"`
}

// ReviewProgress is a pure function of the task's recorded reviews and the
// graph's fixed role ordering.
func (v *Validator) ReviewProgress(task *types.Task) Progress {
	p := Progress{}
	for _, role := range v.graph.RoleOrder() {
		rev, ok := task.Reviews[role]
		if ok && rev.Decision == types.DecisionApprove {
			p.CompletedRoles = append(p.CompletedRoles, role)
			continue
		}
		p.PendingRoles = append(p.PendingRoles, role)
	}
	if len(p.PendingRoles) > 0 {
		if rule, ok := v.graph.ReviewRule(task.Status); ok {
			p.CurrentRole = rule.ExpectedRole
		}
	}
	return p
}
