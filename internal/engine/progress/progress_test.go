package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"okrline/internal/domain"
)

func TestCompletionMapping(t *testing.T) {
	assert.Equal(t, 0, Completion(domain.TaskBacklog))
	assert.Equal(t, 50, Completion(domain.TaskInProgress))
	assert.Equal(t, 100, Completion(domain.TaskCompleted))
}

func TestPercentRoundsHalfUp(t *testing.T) {
	cases := []struct {
		part, total, want int
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 4, 0},
		{1, 2, 50},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},  // 12.5
		{1, 200, 1}, // 0.5
		{5, 5, 100},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Percent(c.part, c.total), "%d/%d", c.part, c.total)
	}
}

func TestSnapshotProgress(t *testing.T) {
	assert.Equal(t, 0, Snapshot{}.Progress())

	snap := Snapshot{Activities: []ActivityStat{
		{ActivityID: "a1", Total: 2, Completed: 1},
		{ActivityID: "a2", Total: 3, Completed: 0},
		{ActivityID: "a3", Total: 0, Completed: 0},
	}}
	assert.Equal(t, 33, snap.Progress())
}
