package types

// QueueItemStatus represents the lifecycle state of a queue item
type QueueItemStatus string

const (
	QueuePending   QueueItemStatus = "pending"
	QueueRunning   QueueItemStatus = "running"
	QueueCompleted QueueItemStatus = "completed"
	QueueFailed    QueueItemStatus = "failed"
)

// QueueItem is a feature-level automation request.
//
// Lifecycle: pending -> running (claimed, WorkerHandle set) -> completed or
// failed. A failed item may be re-enqueued (back to pending, RetryCount
// incremented); a pending item may be cancelled (hard delete).
type QueueItem struct {
	ID           int64           `json:"id" db:"id"`
	RepoName     string          `json:"repo_name" db:"repo_name"`
	FeatureKey   string          `json:"feature_key" db:"feature_key"`
	Status       QueueItemStatus `json:"status" db:"status"`
	CLITool      string          `json:"cli_tool" db:"cli_tool"`
	WorkerHandle string          `json:"worker_handle,omitempty" db:"worker_handle"`
	RetryCount   int             `json:"retry_count" db:"retry_count"`
	CreatedAt    int64           `json:"created_at" db:"created_at"`
	StartedAt    *int64          `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *int64          `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
}

// QueueStats summarizes the queue by status
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total returns the number of items across all states
func (s QueueStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed
}
