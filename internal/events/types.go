// Package events provides in-process event streaming for workflow and
// queue lifecycle events
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventTaskTransitioned is emitted when a task changes status
	EventTaskTransitioned EventType = "task.transitioned"
	// EventReviewApplied is emitted when a stakeholder review is recorded
	EventReviewApplied EventType = "review.applied"
	// EventTaskRolledBack is emitted when a task's last transition is undone
	EventTaskRolledBack EventType = "task.rolled_back"
	// EventCheckpointSaved is emitted when a feature checkpoint is saved
	EventCheckpointSaved EventType = "checkpoint.saved"
	// EventCheckpointRestored is emitted when a checkpoint is restored
	EventCheckpointRestored EventType = "checkpoint.restored"
	// EventQueueEnqueued is emitted when an automation request is enqueued
	EventQueueEnqueued EventType = "queue.enqueued"
	// EventQueueClaimed is emitted when a worker claims a queue item
	EventQueueClaimed EventType = "queue.claimed"
	// EventQueueCompleted is emitted when a queue item completes
	EventQueueCompleted EventType = "queue.completed"
	// EventQueueFailed is emitted when a queue item fails
	EventQueueFailed EventType = "queue.failed"
	// EventQueueReenqueued is emitted when a failed item goes back to pending
	EventQueueReenqueued EventType = "queue.reenqueued"
)

// Event represents a single lifecycle event
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  int64          `json:"timestamp"`
	FeatureKey string         `json:"feature_key,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	ItemID     int64          `json:"item_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new task-scoped event with the current timestamp
func NewEvent(eventType EventType, featureKey, taskID string, data map[string]any) *Event {
	return &Event{
		Type:       eventType,
		Timestamp:  time.Now().Unix(),
		FeatureKey: featureKey,
		TaskID:     taskID,
		Data:       data,
	}
}

// NewQueueEvent creates a queue item event with the current timestamp
func NewQueueEvent(eventType EventType, itemID int64, featureKey string, data map[string]any) *Event {
	return &Event{
		Type:       eventType,
		Timestamp:  time.Now().Unix(),
		FeatureKey: featureKey,
		ItemID:     itemID,
		Data:       data,
	}
}
