package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagePoolAcquireReleaseRoundTrip(t *testing.T) {
	pp := newPagePool(NewHeapArena(4, 16))

	f0, err := pp.acquire()
	require.NoError(t, err)
	f1, err := pp.acquire()
	require.NoError(t, err)
	assert.NotEqual(t, f0, f1)

	assert.True(t, pp.release(f0))
	f2, err := pp.acquire()
	require.NoError(t, err)
	assert.Equal(t, f0, f2)
	_ = f1
}

func TestPagePoolExhaustion(t *testing.T) {
	pp := newPagePool(NewHeapArena(1, 16))
	_, err := pp.acquire()
	require.NoError(t, err)

	_, err = pp.acquire()
	assert.Error(t, err)
}

func TestPagePoolRetainShared(t *testing.T) {
	pp := newPagePool(NewHeapArena(2, 16))
	f, err := pp.acquire()
	require.NoError(t, err)

	assert.False(t, pp.shared(f))
	pp.retain(f)
	assert.True(t, pp.shared(f))

	assert.False(t, pp.release(f)) // refcount drops to 1, still held
	assert.False(t, pp.shared(f))
	assert.True(t, pp.release(f)) // refcount drops to 0, now freed
}

func TestPagePoolZero(t *testing.T) {
	pp := newPagePool(NewHeapArena(1, 16))
	f, err := pp.acquire()
	require.NoError(t, err)
	b := pp.bytes(f)
	for i := range b {
		b[i] = 0xFF
	}
	pp.zero(f)
	for _, v := range pp.bytes(f) {
		assert.Equal(t, byte(0), v)
	}
}
