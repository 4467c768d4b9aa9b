package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/kerr"
)

func newTestManager(t *testing.T, frames int) *Manager {
	t.Helper()
	return NewManager(NewHeapArena(frames, constants.PageSize), nil)
}

func TestCreateDestroyDomainRoundTrip(t *testing.T) {
	m := newTestManager(t, 16)
	d, err := m.CreateDomain(1)
	require.NoError(t, err)
	assert.NotZero(t, d.ID)

	require.NoError(t, m.DestroyDomain(d))
	require.NoError(t, m.DestroyDomain(d)) // idempotent
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)

	base, err := m.Allocate(d, 8192, Read|Write, Zero)
	require.NoError(t, err)
	assert.NotZero(t, base)

	require.NoError(t, m.Free(d, base))
	err = m.Free(d, base)
	assert.Error(t, err) // already freed, not a region base anymore
}

// TestAllocateRejectsContiguousAndLarge pins that the Contiguous/Large
// AllocFlags bits are not silently ignored: the free list they would need
// to be honored against (pagePool's lock-free MPMC free list) cannot
// offer the data-layout guarantee those bits promise, so Allocate must
// reject rather than hand back ordinary scattered frames.
func TestAllocateRejectsContiguousAndLarge(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)

	_, err := m.Allocate(d, constants.PageSize, Read|Write, Contiguous)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.InvalidArgument))

	_, err = m.Allocate(d, constants.PageSize, Read|Write, Large)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.InvalidArgument))
}

func TestAllocateExhaustsPhysicalFrames(t *testing.T) {
	m := newTestManager(t, 1)
	d, _ := m.CreateDomain(1)

	_, err := m.Allocate(d, constants.PageSize, Read|Write, 0)
	require.NoError(t, err)

	_, err = m.Allocate(d, constants.PageSize, Read|Write, 0)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.OutOfMemory))
}

func TestDomainRegionsDoNotOverlap(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)

	b1, err := m.Allocate(d, 4096, Read|Write, 0)
	require.NoError(t, err)
	b2, err := m.Allocate(d, 4096, Read|Write, 0)
	require.NoError(t, err)

	assert.NotEqual(t, b1, b2)
	d.mu.RLock()
	for i := 1; i < len(d.table.regions); i++ {
		assert.False(t, d.table.regions[i-1].overlaps(d.table.regions[i].Base, d.table.regions[i].Size))
	}
	d.mu.RUnlock()
}

func TestMapConflictsWithExistingRegion(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)

	base, err := m.Allocate(d, 4096, Read|Write, 0)
	require.NoError(t, err)

	err = m.Map(d, base, 0, 4096, Read)
	assert.Error(t, err)
}

func TestCoWForkScenario(t *testing.T) {
	// spec.md §8 scenario 2: create D1, allocate 8KiB filled with 0xAA,
	// mark CoW; create D2 sharing the pages (refcount 2); write 0xBB to
	// page 0 of D2. D2 page 0 now reads 0xBB, D1 page 0 still reads 0xAA,
	// page 1 remains shared.
	m := newTestManager(t, 16)
	d1, _ := m.CreateDomain(1)
	d2, _ := m.CreateDomain(2)

	base1, err := m.Allocate(d1, 2*constants.PageSize, Read|Write, 0)
	require.NoError(t, err)

	// Translate returns only the containing page, so fill each page
	// through its own slice.
	for pg := uintptr(0); pg < 2; pg++ {
		b, err := m.Translate(d1, base1+pg*constants.PageSize)
		require.NoError(t, err)
		for i := range b[:constants.PageSize] {
			b[i] = 0xAA
		}
	}

	require.NoError(t, m.MarkCoW(d1, base1))

	base2 := uintptr(0x20000)
	require.NoError(t, m.ShareCoW(d1, base1, d2, base2))

	res, err := m.HandleCoWFault(d2, base2)
	require.NoError(t, err)
	assert.Equal(t, ResolutionCopied, res)

	page0D2, err := m.Translate(d2, base2)
	require.NoError(t, err)
	for i := range page0D2[:constants.PageSize] {
		page0D2[i] = 0xBB
	}

	page0D1, err := m.Translate(d1, base1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), page0D1[0])
	assert.Equal(t, byte(0xBB), page0D2[0])

	page1D2, err := m.Translate(d2, base2+constants.PageSize)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), page1D2[0])
}

func TestHandleCoWFaultLastOwnerJustFlipsWritable(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)
	base, err := m.Allocate(d, constants.PageSize, Read|Write, 0)
	require.NoError(t, err)
	require.NoError(t, m.MarkCoW(d, base))

	res, err := m.HandleCoWFault(d, base)
	require.NoError(t, err)
	assert.Equal(t, ResolutionMadeWritable, res)
}

func TestHandleCoWFaultNonCoWRegion(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)
	base, err := m.Allocate(d, constants.PageSize, Read|Write, 0)
	require.NoError(t, err)

	res, err := m.HandleCoWFault(d, base)
	require.NoError(t, err)
	assert.Equal(t, ResolutionNotOurFault, res)
}

func TestTranslateUnmappedAddress(t *testing.T) {
	m := newTestManager(t, 16)
	d, _ := m.CreateDomain(1)
	_, err := m.Translate(d, 0x999999)
	assert.Error(t, err)
}
