package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapArenaFrameIsolation(t *testing.T) {
	a := NewHeapArena(4, 16)
	require.Equal(t, 4, a.NumFrames())

	f0 := a.Frame(0)
	f1 := a.Frame(1)
	f0[0] = 0xAA
	f1[0] = 0xBB

	assert.Equal(t, byte(0xAA), a.Frame(0)[0])
	assert.Equal(t, byte(0xBB), a.Frame(1)[0])
}

func TestHeapArenaCloseClearsMem(t *testing.T) {
	a := NewHeapArena(2, 16)
	require.NoError(t, a.Close())
}

func TestMmapArenaRoundTrip(t *testing.T) {
	a, err := NewMmapArena(4, 4096)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 4, a.NumFrames())
	f := a.Frame(2)
	require.Len(t, f, 4096)
	f[0] = 0x42
	assert.Equal(t, byte(0x42), a.Frame(2)[0])
}

func TestMmapArenaInvalidGeometry(t *testing.T) {
	_, err := NewMmapArena(0, 4096)
	assert.Error(t, err)
}
