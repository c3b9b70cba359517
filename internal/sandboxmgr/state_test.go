package sandboxmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions_LegalTable(t *testing.T) {
	cases := []struct {
		from State
		evt  Event
		want State
	}{
		{StateIdle, EventCreate, StateCreating},
		{StateCreating, EventCreated, StateActive},
		{StateCreating, EventError, StateError},
		{StateActive, EventPause, StatePaused},
		{StateActive, EventExpire, StateExpired},
		{StateActive, EventCleanup, StateIdle},
		{StatePaused, EventResume, StateActive},
		{StatePaused, EventExpire, StateExpired},
		{StateExpired, EventCreate, StateCreating},
		{StateExpired, EventCleanup, StateIdle},
		{StateError, EventRetry, StateCreating},
		{StateError, EventCleanup, StateIdle},
	}
	for _, c := range cases {
		got, ok := next(c.from, c.evt)
		assert.True(t, ok, "%s+%s should be legal", c.from, c.evt)
		assert.Equal(t, c.want, got)
	}
}

func TestTransitions_IllegalRejected(t *testing.T) {
	_, ok := next(StateIdle, EventPause)
	assert.False(t, ok)

	_, ok = next(StateActive, EventCreate)
	assert.False(t, ok)
}

func TestRecordApply_RetryCounterLifecycle(t *testing.T) {
	r := &Record{ProjectID: "p1", State: StateError}

	require.NoError(t, r.apply(EventRetry))
	assert.Equal(t, StateCreating, r.State)
	assert.Equal(t, 1, r.RetryCount)

	require.NoError(t, r.apply(EventCreated))
	assert.Equal(t, StateActive, r.State)
	assert.Zero(t, r.RetryCount, "CREATED resets the retry counter once the sandbox is healthy again")
}

func TestRecordApply_RetryCapExceeded(t *testing.T) {
	r := &Record{ProjectID: "p1", State: StateError, RetryCount: MaxRetries}
	err := r.apply(EventRetry)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryCapExceeded)
}

func TestRecordApply_IllegalTransitionRejected(t *testing.T) {
	r := &Record{ProjectID: "p1", State: StateIdle}
	err := r.apply(EventPause)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StateIdle, r.State, "rejected transition leaves state unchanged")
}

func TestRecordApply_CleanupClearsRecord(t *testing.T) {
	r := &Record{ProjectID: "p1", State: StateActive, SandboxID: "vm-1", RetryCount: 2}
	require.NoError(t, r.apply(EventCleanup))
	assert.Equal(t, StateIdle, r.State)
	assert.Empty(t, r.SandboxID)
	assert.Zero(t, r.RetryCount)
}
