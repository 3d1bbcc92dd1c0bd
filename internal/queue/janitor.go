package queue

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Janitor prunes terminal queue items on a schedule. Pending and running
// items are never touched.
type Janitor struct {
	queue         *JobQueue
	schedule      string
	retentionDays int
	cron          *cron.Cron
	log           *logrus.Entry
}

// NewJanitor creates a janitor. schedule is a standard cron expression,
// e.g. "0 3 * * *" for a daily 03:00 sweep.
func NewJanitor(q *JobQueue, schedule string, retentionDays int) *Janitor {
	return &Janitor{
		queue:         q,
		schedule:      schedule,
		retentionDays: retentionDays,
		log:           logrus.WithField("component", "janitor"),
	}
}

// Start begins the scheduled sweeps. Call Stop to end them.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.log.WithFields(logrus.Fields{
		"schedule":  j.schedule,
		"retention": j.retentionDays,
	}).Info("janitor started")
	return nil
}

// Stop halts scheduled sweeps; a sweep in flight finishes first
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *Janitor) sweep() {
	n, err := j.queue.Prune(j.retentionDays)
	if err != nil {
		j.log.WithError(err).Error("prune sweep failed")
		return
	}
	j.log.WithField("removed", n).Debug("prune sweep done")
}
