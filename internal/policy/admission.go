// Package policy implements caller-side admission checks applied before
// enqueueing automation requests. The queue itself permits duplicates;
// whether to admit one is decided here, outside it.
package policy

import (
	"fmt"

	"github.com/stagehand-io/stagehand/pkg/types"
)

// QueueReader is the read-only queue surface the policy consults
type QueueReader interface {
	HasActiveItem(featureKey string) (bool, error)
	QueueStats() (*types.QueueStats, error)
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Admission guards enqueues. DepthWarning is advisory only; a deep
// backlog never blocks admission.
type Admission struct {
	reader       QueueReader
	depthWarning int
}

// NewAdmission creates an admission policy. depthWarning <= 0 disables
// the backlog warning.
func NewAdmission(reader QueueReader, depthWarning int) *Admission {
	return &Admission{reader: reader, depthWarning: depthWarning}
}

// Check decides whether an enqueue for the feature should be admitted.
// A feature with an item already pending or running is rejected: running
// the same feature's automation twice concurrently wastes a worker at
// best and races task mutations at worst.
func (a *Admission) Check(featureKey string) (*Decision, error) {
	active, err := a.reader.HasActiveItem(featureKey)
	if err != nil {
		return nil, fmt.Errorf("checking active items: %w", err)
	}
	if active {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("feature %s already has a pending or running queue item", featureKey),
		}, nil
	}

	d := &Decision{Allowed: true}
	if a.depthWarning > 0 {
		stats, err := a.reader.QueueStats()
		if err != nil {
			return nil, fmt.Errorf("checking queue depth: %w", err)
		}
		if stats.Pending >= a.depthWarning {
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("queue backlog is %d pending items", stats.Pending))
		}
	}
	return d, nil
}
