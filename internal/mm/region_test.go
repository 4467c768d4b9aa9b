package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionTableInsertOrdered(t *testing.T) {
	var rt regionTable
	rt.insert(&Region{Base: 0x3000, Size: 0x1000})
	rt.insert(&Region{Base: 0x1000, Size: 0x1000})
	rt.insert(&Region{Base: 0x2000, Size: 0x1000})

	bases := make([]uintptr, len(rt.regions))
	for i, r := range rt.regions {
		bases[i] = r.Base
	}
	assert.Equal(t, []uintptr{0x1000, 0x2000, 0x3000}, bases)
}

func TestRegionTableFind(t *testing.T) {
	var rt regionTable
	r := &Region{Base: 0x1000, Size: 0x2000}
	rt.insert(r)

	assert.Same(t, r, rt.find(0x1000))
	assert.Same(t, r, rt.find(0x2FFF))
	assert.Nil(t, rt.find(0x3000))
	assert.Nil(t, rt.find(0x0FFF))
}

func TestRegionTableOverlapsAny(t *testing.T) {
	var rt regionTable
	rt.insert(&Region{Base: 0x1000, Size: 0x1000})

	assert.True(t, rt.overlapsAny(0x1800, 0x100))
	assert.True(t, rt.overlapsAny(0x0800, 0x1000))
	assert.False(t, rt.overlapsAny(0x2000, 0x1000))
	assert.False(t, rt.overlapsAny(0x0000, 0x1000))
}

func TestRegionTableFirstFit(t *testing.T) {
	var rt regionTable
	rt.insert(&Region{Base: 0x1000, Size: 0x1000}) // occupies [0x1000, 0x2000)
	rt.insert(&Region{Base: 0x3000, Size: 0x1000}) // occupies [0x3000, 0x4000)

	base, ok := rt.firstFit(0x0000, 0x10000, 0x1000)
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x0000), base)

	base, ok = rt.firstFit(0x1000, 0x10000, 0x1000)
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x2000), base)

	_, ok = rt.firstFit(0x0000, 0x4000, 0x10000)
	assert.False(t, ok)
}

func TestRegionTableRemove(t *testing.T) {
	var rt regionTable
	r1 := &Region{Base: 0x1000, Size: 0x1000}
	r2 := &Region{Base: 0x2000, Size: 0x1000}
	rt.insert(r1)
	rt.insert(r2)

	rt.remove(r1)
	assert.Len(t, rt.regions, 1)
	assert.Same(t, r2, rt.regions[0])
}
