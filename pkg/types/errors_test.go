package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := NewError(KindNotFound, "db.getFeature", "feature %s not found", "payments")
	assert.Equal(t, "db.getFeature: feature payments not found", err.Error())

	cause := errors.New("disk full")
	wrapped := WrapError(KindInvalidState, "db.save", cause, "saving feature")
	assert.Equal(t, "db.save: saving feature: disk full", wrapped.Error())
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestIsKind_ThroughWrapping(t *testing.T) {
	base := NewError(KindConcurrencyConflict, "workflow.apply", "stale status")
	wrapped := fmt.Errorf("applying transition: %w", base)

	assert.True(t, IsKind(wrapped, KindConcurrencyConflict))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(errors.New("plain"), KindNotFound))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNoHistory, KindOf(NewError(KindNoHistory, "op", "msg")))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorsIs_MatchesByKind(t *testing.T) {
	err := NewError(KindNotFound, "db.getTask", "task t1 not found")
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindInvalidState}))
}
