package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerEnqueueScheduleOrdering(t *testing.T) {
	s := New(1, nil)
	low := NewQuantum(1, "low", 0, 0, 0)
	high := NewQuantum(2, "high", 4, 0, 0)
	s.Enqueue(low)
	s.Enqueue(high)

	got := s.Schedule(0)
	assert.Same(t, high, got)
	assert.Equal(t, Running, high.State())
	assert.Same(t, high, s.Current(0))
}

func TestSchedulerBlockUnblockRoundTrip(t *testing.T) {
	s := New(1, nil)
	q := NewQuantum(1, "q", 2, 0, 0)
	s.Enqueue(q)
	require.Same(t, q, s.Schedule(0))

	blocked := s.Block(0, BlockReceive)
	require.Same(t, q, blocked)
	assert.Equal(t, Blocked, q.State())
	assert.Nil(t, s.Current(0))

	require.NoError(t, s.Unblock(q))
	assert.Equal(t, Ready, q.State())

	got := s.Schedule(0)
	assert.Same(t, q, got)
}

func TestSchedulerDoubleUnblockErrors(t *testing.T) {
	s := New(1, nil)
	q := NewQuantum(1, "q", 2, 0, 0)
	s.Enqueue(q)
	s.Schedule(0)
	s.Block(0, BlockReceive)

	require.NoError(t, s.Unblock(q))
	assert.Error(t, s.Unblock(q)) // already Ready, not Blocked: no lost wakeup via silent no-op
}

func TestSchedulerYieldRequeues(t *testing.T) {
	s := New(1, nil)
	a := NewQuantum(1, "a", 2, 0, 0)
	b := NewQuantum(2, "b", 2, 0, 0)
	s.Enqueue(a)
	s.Enqueue(b)

	require.Same(t, a, s.Schedule(0))
	s.Yield(0)
	assert.Equal(t, Ready, a.State())

	got := s.Schedule(0)
	assert.Same(t, b, got)
}

func TestSchedulerTickPreemptsOnExhaustion(t *testing.T) {
	s := New(1, nil)
	q := NewQuantum(1, "q", 0, 0, 0)
	s.Enqueue(q)
	s.Schedule(0)

	q.mu.Lock()
	q.sliceLeft = 1 // force exhaustion on next tick
	q.mu.Unlock()

	preempted := s.Tick(0)
	assert.True(t, preempted)
	assert.Equal(t, Ready, q.State())
	assert.Nil(t, s.Current(0))
}

// TestSchedulerTickPreemptsHigherPriorityArrival pins spec.md §8 Scenario
// 5: task L (priority 1) is running; task H (priority 4) becomes Ready;
// on the next tick L is pre-empted and H's slice at dispatch is its full
// base slice, not L's leftover.
func TestSchedulerTickPreemptsHigherPriorityArrival(t *testing.T) {
	s := New(1, nil)
	l := NewQuantum(1, "L", 1, 0, 0)
	s.Enqueue(l)
	require.Same(t, l, s.Schedule(0))

	h := NewQuantum(2, "H", 4, 0, 0)
	s.Enqueue(h)

	preempted := s.Tick(0)
	assert.True(t, preempted)
	assert.Equal(t, Ready, l.State())
	assert.Nil(t, s.Current(0))

	got := s.Schedule(0)
	assert.Same(t, h, got)
	assert.Equal(t, bonusSlice(4), h.sliceLeft)
}

func TestSchedulerBalanceMigratesFromBusiestToIdlest(t *testing.T) {
	s := New(2, nil)
	for i := int64(1); i <= 3; i++ {
		q := NewQuantum(i, "q", 4, 0, 0)
		q.Affinity = 0 // force all three onto cpu 0
		s.Enqueue(q)
	}

	moved := s.Balance()
	assert.True(t, moved)

	c1 := s.cpus[1]
	c1.mu.Lock()
	_, err := c1.inbox.Dequeue()
	c1.mu.Unlock()
	assert.NoError(t, err)
}

func TestSchedulerRemoveBeforeDispatch(t *testing.T) {
	s := New(1, nil)
	q := NewQuantum(1, "q", 2, 0, 0)
	s.Enqueue(q)
	assert.True(t, s.Remove(q))
	assert.Nil(t, s.Schedule(0))
}
