// Package types defines core data structures for Stagehand
package types

// TaskStatus represents the current state of a task in the pipeline
type TaskStatus string

const (
	StatusPendingMarketReview       TaskStatus = "pending_market_review"
	StatusPendingArchitectureReview TaskStatus = "pending_architecture_review"
	StatusPendingUXReview           TaskStatus = "pending_ux_review"
	StatusPendingSecurityReview     TaskStatus = "pending_security_review"
	StatusReadyForDevelopment       TaskStatus = "ready_for_development"
	StatusToDo                      TaskStatus = "todo"
	StatusInProgress                TaskStatus = "in_progress"
	StatusInReview                  TaskStatus = "in_review"
	StatusInQA                      TaskStatus = "in_qa"
	StatusDone                      TaskStatus = "done"
	StatusNeedsRefinement           TaskStatus = "needs_refinement"
	StatusNeedsChanges              TaskStatus = "needs_changes"
)

// Role identifies a reviewing or development actor
type Role string

const (
	RoleMarket    Role = "market"
	RoleArchitect Role = "architect"
	RoleUX        Role = "ux"
	RoleSecurity  Role = "security"
	RoleDeveloper Role = "developer"
	RoleTechLead  Role = "tech_lead"
	RoleQA        Role = "qa"
	RoleSystem    Role = "system"
)

// ReviewDecision is the outcome of a stakeholder review
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

// Transition is an immutable record of a single status change.
// Once appended to a task's history it is never mutated; rollback
// pops the last entry, which is the one exception and is logged.
type Transition struct {
	From      TaskStatus        `json:"from" db:"from_status"`
	To        TaskStatus        `json:"to" db:"to_status"`
	Actor     string            `json:"actor" db:"actor"`
	Timestamp int64             `json:"timestamp" db:"timestamp"`
	Notes     string            `json:"notes,omitempty" db:"notes"`
	Meta      map[string]string `json:"meta,omitempty" db:"meta"`
}

// StakeholderReview records one role's review of a task
type StakeholderReview struct {
	Role      Role           `json:"role" db:"role"`
	Decision  ReviewDecision `json:"decision" db:"decision"`
	Notes     string         `json:"notes,omitempty" db:"notes"`
	Timestamp int64          `json:"timestamp" db:"timestamp"`
}

// Task is the unit of work moving through the pipeline.
//
// Invariant: Status always equals the To of the last Transition, or the
// task's initial status when the history is empty.
type Task struct {
	ID               string                      `json:"id" db:"id"`
	FeatureKey       string                      `json:"feature_key" db:"feature_key"`
	Title            string                      `json:"title" db:"title"`
	Description      string                      `json:"description,omitempty" db:"description"`
	Status           TaskStatus                  `json:"status" db:"status"`
	Dependencies     []string                    `json:"dependencies,omitempty" db:"-"`
	Transitions      []Transition                `json:"transitions,omitempty" db:"-"`
	Reviews          map[Role]*StakeholderReview `json:"reviews,omitempty" db:"-"`
	OrderOfExecution int                         `json:"order_of_execution" db:"order_of_execution"`
	CreatedAt        int64                       `json:"created_at" db:"created_at"`
	UpdatedAt        int64                       `json:"updated_at" db:"updated_at"`
}

// CurrentStatus returns the task's live status, derived from history when
// present so the invariant can be checked against the stored column.
func (t *Task) CurrentStatus() TaskStatus {
	if n := len(t.Transitions); n > 0 {
		return t.Transitions[n-1].To
	}
	return t.Status
}

// AppendTransition records a transition and moves the task to its To status
func (t *Task) AppendTransition(tr Transition) {
	t.Transitions = append(t.Transitions, tr)
	t.Status = tr.To
	t.UpdatedAt = tr.Timestamp
}

// Feature is a unit of product work containing one or more tasks
type Feature struct {
	Key         string `json:"key" db:"key"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
}

// TaskSet is the aggregate of all tasks belonging to one feature
type TaskSet struct {
	FeatureKey string  `json:"feature_key"`
	Tasks      []*Task `json:"tasks"`
}

// Get returns the task with the given ID, or nil if absent
func (ts *TaskSet) Get(taskID string) *Task {
	for _, t := range ts.Tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// Checkpoint is a named snapshot of every task's status in a feature.
// Snapshot values are copies: restoring never aliases live task state.
type Checkpoint struct {
	ID          int64                 `json:"id" db:"id"`
	FeatureKey  string                `json:"feature_key" db:"feature_key"`
	Description string                `json:"description" db:"description"`
	CreatedAt   int64                 `json:"created_at" db:"created_at"`
	Snapshot    map[string]TaskStatus `json:"snapshot" db:"snapshot"`
}
