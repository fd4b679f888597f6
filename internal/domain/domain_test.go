package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObjectiveParent(t *testing.T) {
	p, err := NewObjectiveParent("epic-1", "")
	require.NoError(t, err)
	id, ok := p.EpicID()
	assert.True(t, ok)
	assert.Equal(t, "epic-1", id)
	_, ok = p.ProjectID()
	assert.False(t, ok)

	p, err = NewObjectiveParent("", "proj-1")
	require.NoError(t, err)
	id, ok = p.ProjectID()
	assert.True(t, ok)
	assert.Equal(t, "proj-1", id)

	_, err = NewObjectiveParent("epic-1", "proj-1")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = NewObjectiveParent(" ", "")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestObjectiveParentJSON(t *testing.T) {
	data, err := json.Marshal(Objective{ID: "o1", Parent: ViaEpic("e1")})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parent":{"id":"e1","kind":"epic"}`)
}

func TestNormalizeTaskStatus(t *testing.T) {
	cases := map[string]string{
		"":            TaskBacklog,
		"backlog":     TaskBacklog,
		"in progress": TaskInProgress,
		"IN_PROGRESS": TaskInProgress,
		"completed":   TaskCompleted,
	}
	for in, want := range cases {
		got, err := NormalizeTaskStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeTaskStatus("done")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestTypedErrors(t *testing.T) {
	err := InconsistentStateError{Level: KindOKR, ID: "k1", Err: NotFoundError{Kind: KindOKR, ID: "k1"}}
	assert.True(t, errors.Is(err, ErrInconsistentState))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, NotFoundError{Kind: KindTask, ID: "t1"}, "task t1 not found")
}
