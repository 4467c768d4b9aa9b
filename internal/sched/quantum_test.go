package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantumHasCapability(t *testing.T) {
	q := NewQuantum(1, "init", 0, 1, 0b1010)
	assert.True(t, q.HasCapability(1))
	assert.True(t, q.HasCapability(3))
	assert.False(t, q.HasCapability(0))
	assert.False(t, q.HasCapability(2))
	assert.False(t, q.HasCapability(64))
}

func TestQuantumInitialState(t *testing.T) {
	q := NewQuantum(1, "init", 0, 1, 0)
	assert.Equal(t, Ready, q.State())
}

func TestQuantumCancelClearsOnce(t *testing.T) {
	q := NewQuantum(1, "init", 0, 1, 0)
	assert.False(t, q.cancelledAndClear())
	q.Cancel()
	assert.True(t, q.cancelledAndClear())
	assert.False(t, q.cancelledAndClear())
}
