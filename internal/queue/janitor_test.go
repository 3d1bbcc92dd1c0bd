package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-io/stagehand/internal/queue"
)

func TestJanitor_StartStop(t *testing.T) {
	q := queue.New(newFakeStore(), nil)
	j := queue.NewJanitor(q, "0 3 * * *", 7)

	require.NoError(t, j.Start())
	j.Stop()
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	q := queue.New(newFakeStore(), nil)
	j := queue.NewJanitor(q, "not a schedule", 7)

	assert.Error(t, j.Start())
	j.Stop()
}
