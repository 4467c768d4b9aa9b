package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadyQueuesPriorityMonotonicity(t *testing.T) {
	rq := newReadyQueues(5)
	low := NewQuantum(1, "low", 0, 0, 0)
	high := NewQuantum(2, "high", 4, 0, 0)
	mid := NewQuantum(3, "mid", 2, 0, 0)

	rq.push(low)
	rq.push(high)
	rq.push(mid)

	assert.Same(t, high, rq.popHighest())
	assert.Same(t, mid, rq.popHighest())
	assert.Same(t, low, rq.popHighest())
	assert.Nil(t, rq.popHighest())
}

func TestReadyQueuesFIFOWithinLevel(t *testing.T) {
	rq := newReadyQueues(5)
	a := NewQuantum(1, "a", 1, 0, 0)
	b := NewQuantum(2, "b", 1, 0, 0)
	rq.push(a)
	rq.push(b)

	assert.Same(t, a, rq.popHighest())
	assert.Same(t, b, rq.popHighest())
}

func TestReadyQueuesRemove(t *testing.T) {
	rq := newReadyQueues(5)
	a := NewQuantum(1, "a", 1, 0, 0)
	b := NewQuantum(2, "b", 1, 0, 0)
	rq.push(a)
	rq.push(b)

	assert.True(t, rq.remove(a))
	assert.False(t, rq.remove(a)) // already removed
	assert.Equal(t, 1, rq.len())
	assert.Same(t, b, rq.popHighest())
}
