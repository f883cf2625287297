package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTableGetUnknownReadsIdle(t *testing.T) {
	table := newStateTable()

	s := table.get("p1")
	assert.Equal(t, "p1", s.ProjectID)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, "Ready", s.Progress.Message)
	assert.False(t, s.IsApplying)
	assert.True(t, s.UpdatedAt.IsZero())
}

func TestStateTableUpdateCreatesAndCopies(t *testing.T) {
	table := newStateTable()

	out := table.update("p1", func(s *ApplicationState) {
		s.IsApplying = true
		s.PendingPaths = []string{"a.txt"}
	})
	assert.True(t, out.IsApplying)
	assert.False(t, out.UpdatedAt.IsZero())

	// Mutating a returned copy must not leak into the table.
	out.PendingPaths[0] = "hacked"
	got := table.get("p1")
	require.Len(t, got.PendingPaths, 1)
	assert.Equal(t, "a.txt", got.PendingPaths[0])

	got.PendingPaths = append(got.PendingPaths, "b.txt")
	assert.Len(t, table.get("p1").PendingPaths, 1)
}

func TestStateTableProjectsAreIndependent(t *testing.T) {
	table := newStateTable()
	table.update("p1", func(s *ApplicationState) { s.IsApplying = true })

	assert.True(t, table.get("p1").IsApplying)
	assert.False(t, table.get("p2").IsApplying)
}

func TestStateTableLockForIsStable(t *testing.T) {
	table := newStateTable()

	l1 := table.lockFor("p1")
	assert.Same(t, l1, table.lockFor("p1"))
	assert.NotSame(t, l1, table.lockFor("p2"))

	require.True(t, l1.TryLock())
	assert.False(t, table.lockFor("p1").TryLock())
	l1.Unlock()
	assert.True(t, table.lockFor("p1").TryLock())
	l1.Unlock()
}
