package mm

import (
	"sync"

	"github.com/continuum-os/continuum/internal/constants"
)

// slabAllocator hands out fixed-size byte buffers for kernel metadata
// objects (region nodes, wait-queue nodes, quantum records) without going
// through the physical frame pool for every small allocation. Bucketed by
// size class the same way the teacher's queue.BufferPool buckets I/O
// buffers by power-of-two size to avoid hot-path allocation; here the
// classes are the kernel's fixed SlabClassSmall/Medium/Large instead of
// I/O-sized buckets.
type slabAllocator struct {
	small, medium, large sync.Pool
}

func newSlabAllocator() *slabAllocator {
	return &slabAllocator{
		small:  sync.Pool{New: func() any { b := make([]byte, constants.SlabClassSmall); return &b }},
		medium: sync.Pool{New: func() any { b := make([]byte, constants.SlabClassMedium); return &b }},
		large:  sync.Pool{New: func() any { b := make([]byte, constants.SlabClassLarge); return &b }},
	}
}

// get returns a zeroed buffer of at least size bytes from the smallest
// class that fits, or allocates directly if size exceeds SlabClassLarge.
func (s *slabAllocator) get(size int) []byte {
	var buf []byte
	switch {
	case size <= constants.SlabClassSmall:
		buf = *(s.small.Get().(*[]byte))
	case size <= constants.SlabClassMedium:
		buf = *(s.medium.Get().(*[]byte))
	case size <= constants.SlabClassLarge:
		buf = *(s.large.Get().(*[]byte))
	default:
		return make([]byte, size)
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf[:size]
}

// put returns buf to the class matching its capacity. Buffers that were
// allocated directly (oversize, or a non-matching capacity) are dropped.
func (s *slabAllocator) put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case constants.SlabClassSmall:
		s.small.Put(&buf)
	case constants.SlabClassMedium:
		s.medium.Put(&buf)
	case constants.SlabClassLarge:
		s.large.Put(&buf)
	}
}
