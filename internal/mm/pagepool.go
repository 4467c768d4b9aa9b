package mm

import (
	"sync/atomic"

	"github.com/hayabusa-cloud/lfq"

	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/kerr"
)

// pagePool hands out physical frame indices from a FrameSource, tracking a
// per-frame reference count so copy-on-write sharing can be resolved by
// simple "am I the last owner" arithmetic (spec.md §4.B "physical frame
// pool" / "copy-on-write"). The free list is a lock-free MPMC queue since
// both Allocate (many domains) and Free (many faulting quanta) run
// concurrently across CPUs; grounded on the lfq package's stated Worker
// Pool / Work Distribution use cases.
type pagePool struct {
	src    interfaces.FrameSource
	free   *lfq.MPMC[int]
	refcnt []atomic.Int32
}

func newPagePool(src interfaces.FrameSource) *pagePool {
	n := src.NumFrames()
	p := &pagePool{
		src:    src,
		free:   lfq.NewMPMC[int](n),
		refcnt: make([]atomic.Int32, n),
	}
	for i := 0; i < n; i++ {
		idx := i
		_ = p.free.Enqueue(&idx)
	}
	return p
}

// acquire pops one free frame and sets its refcount to 1.
func (p *pagePool) acquire() (int, error) {
	v, err := p.free.Dequeue()
	if err != nil {
		return 0, kerr.New("mm.acquire", kerr.OutOfMemory, "no free physical frames")
	}
	frame := *v
	p.refcnt[frame].Store(1)
	return frame, nil
}

// retain increments a frame's refcount when a region is shared (fork, or a
// CoW region mapped into a second domain before it is written).
func (p *pagePool) retain(frame int) {
	p.refcnt[frame].Add(1)
}

// release drops a frame's refcount and returns it to the free list once it
// reaches zero. Returns true if the frame was actually freed.
func (p *pagePool) release(frame int) bool {
	if p.refcnt[frame].Add(-1) > 0 {
		return false
	}
	idx := frame
	_ = p.free.Enqueue(&idx)
	return true
}

// shared reports whether more than one owner currently holds frame, which
// is exactly the condition HandleCoWFault uses to decide whether a write
// fault needs a copy or can proceed in place.
func (p *pagePool) shared(frame int) bool {
	return p.refcnt[frame].Load() > 1
}

func (p *pagePool) bytes(frame int) []byte {
	return p.src.Frame(frame)
}

func (p *pagePool) zero(frame int) {
	b := p.src.Frame(frame)
	for i := range b {
		b[i] = 0
	}
}
