// Package mm implements the kernel's memory manager: per-task address
// space domains, region tracking, physical frame allocation, and
// copy-on-write fault resolution. The MM is the only subsystem that
// touches the frame pool directly; scheduler and IPC reach it through
// Manager's exported methods.
package mm

import (
	"sync"
	"sync/atomic"

	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/kerr"
)

// Resolution reports the outcome of a CoW fault (spec.md §4.B handle_cow_fault).
type Resolution int

const (
	// ResolutionCopied means a new private page was materialized.
	ResolutionCopied Resolution = iota
	// ResolutionMadeWritable means the page's sole owner simply regained
	// write access without a copy.
	ResolutionMadeWritable
	// ResolutionNotOurFault means the faulting page was not CoW-protected;
	// the caller should surface a segmentation violation.
	ResolutionNotOurFault
)

// Domain is a per-quantum virtual address space: an ordered region table
// plus the virtual-address bounds new allocations are first-fit placed
// within (spec.md §3 "Memory Domain").
type Domain struct {
	ID    int64
	Owner int64

	mu     sync.RWMutex
	table  regionTable
	floor  uintptr
	ceil   uintptr
	closed bool
}

func (d *Domain) alive() bool { return !d.closed }

// Manager owns every Domain plus the shared physical frame pool and the
// slab allocator backing kernel metadata objects. It is the sole entry
// point for every operation spec.md §4.B enumerates.
type Manager struct {
	mu      sync.RWMutex
	domains map[int64]*Domain
	nextID  atomic.Int64

	pool interfaces.Observer
	pp   *pagePool
	slab *slabAllocator
}

// NewManager builds a Manager backed by src for physical frames. The
// virtual-address window handed to every new domain spans
// [defaultWindowFloor, defaultWindowFloor+defaultWindowSize).
func NewManager(src interfaces.FrameSource, obs interfaces.Observer) *Manager {
	return &Manager{
		domains: make(map[int64]*Domain),
		pp:      newPagePool(src),
		slab:    newSlabAllocator(),
		pool:    obs,
	}
}

const (
	defaultWindowFloor = uintptr(0x10000)
	defaultWindowSize  = uintptr(1) << 40 // 1 TiB of virtual space per domain
)

// CreateDomain allocates a fresh address space for owner (spec.md
// "create_domain(owner) -> DomainHandle").
func (m *Manager) CreateDomain(owner int64) (*Domain, error) {
	id := m.nextID.Add(1)
	d := &Domain{
		ID:    id,
		Owner: owner,
		floor: defaultWindowFloor,
		ceil:  defaultWindowFloor + defaultWindowSize,
	}
	m.mu.Lock()
	m.domains[id] = d
	m.mu.Unlock()
	return d, nil
}

// Domain returns the live domain with the given id, used by the
// dispatcher to resolve a quantum's Domain field into a *Domain.
func (m *Manager) Domain(id int64) (*Domain, error) {
	m.mu.RLock()
	d, ok := m.domains[id]
	m.mu.RUnlock()
	if !ok {
		return nil, kerr.NewDomain("mm.domain", id, kerr.NotFound, "no such domain")
	}
	return d, nil
}

// DestroyDomain frees every region's backing pages and removes the
// domain's bookkeeping. Idempotent for an already-destroyed handle.
func (m *Manager) DestroyDomain(d *Domain) error {
	m.mu.Lock()
	if _, ok := m.domains[d.ID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.domains, d.ID)
	m.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	for _, r := range d.table.regions {
		m.freeRegionLocked(r)
	}
	d.table.regions = nil
	d.closed = true
	return nil
}

func (m *Manager) freeRegionLocked(r *Region) {
	if r.External {
		return
	}
	for _, frame := range r.Frames {
		m.pp.release(frame)
	}
}

func pageRoundUp(size uintptr) uintptr {
	const p = uintptr(constants.PageSize)
	return (size + p - 1) &^ (p - 1)
}

func pageRoundDown(addr uintptr) uintptr {
	const p = uintptr(constants.PageSize)
	return addr &^ (p - 1)
}

// Allocate reserves size bytes of virtual address space in d and backs it
// with physical frames (spec.md "allocate(domain, size, flags) ->
// VirtualAddr").
func (m *Manager) Allocate(d *Domain, size uintptr, flags RegionFlags, alloc AllocFlags) (uintptr, error) {
	size = pageRoundUp(size)
	if size == 0 {
		return 0, kerr.NewDomain("mm.allocate", d.ID, kerr.InvalidArgument, "zero-size allocation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, kerr.NewDomain("mm.allocate", d.ID, kerr.NotFound, "domain destroyed")
	}

	if alloc&(Contiguous|Large) != 0 {
		// pagePool's free list is a lock-free MPMC queue (spec.md §4.B
		// "physical frame pool"): frames come back in whatever order
		// concurrent releases happen to land, so there is no cheap way to
		// hand out a physically contiguous run or a huge-page-aligned one
		// without a different allocator underneath. Reject rather than
		// silently hand back ordinary scattered frames — a caller that
		// asked for Contiguous/Large (e.g. a DMA-capable allocation per
		// spec.md §6.5) is relying on a data-layout guarantee, unlike the
		// inert Compressed/Encrypted region flags.
		return 0, kerr.NewDomain("mm.allocate", d.ID, kerr.InvalidArgument, "contiguous/large-page allocation is not supported by this frame pool")
	}

	base, ok := d.table.firstFit(d.floor, d.ceil, size)
	if !ok {
		return 0, kerr.NewDomain("mm.allocate", d.ID, kerr.NoAddressSpace, "no virtual address gap big enough")
	}

	numFrames := int(size / constants.PageSize)
	frames := make([]int, 0, numFrames)
	for i := 0; i < numFrames; i++ {
		frame, err := m.pp.acquire()
		if err != nil {
			for _, f := range frames {
				m.pp.release(f)
			}
			return 0, kerr.NewDomain("mm.allocate", d.ID, kerr.OutOfMemory, "physical frame pool exhausted")
		}
		if alloc&Zero != 0 {
			m.pp.zero(frame)
		}
		frames = append(frames, frame)
	}

	r := &Region{Base: base, Size: size, Flags: flags, Prot: flags, Frames: frames}
	d.table.insert(r)
	return base, nil
}

// Free removes the region with base address ptr, unmapping its pages and
// decrementing frame refcounts (spec.md "free(domain, ptr)").
func (m *Manager) Free(d *Domain, ptr uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerr.NewDomain("mm.free", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.findByBase(ptr)
	if r == nil {
		return kerr.NewDomain("mm.free", d.ID, kerr.InvalidArgument, "ptr is not a region base")
	}
	m.freeRegionLocked(r)
	d.table.remove(r)
	return nil
}

// Map installs a mapping for a caller-owned physical address, for example
// driver MMIO (spec.md "map(domain, vaddr, paddr, size, flags)").
// Continuum's arena does not expose arbitrary physical addresses to
// callers, so paddr here is a frame index from the same pool rather than
// a raw device physical address; the region is marked External so Unmap
// and DestroyDomain never return these frames to the pool.
func (m *Manager) Map(d *Domain, vaddr uintptr, frame int, size uintptr, flags RegionFlags) error {
	size = pageRoundUp(size)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerr.NewDomain("mm.map", d.ID, kerr.NotFound, "domain destroyed")
	}
	if d.table.overlapsAny(vaddr, size) {
		return kerr.NewDomain("mm.map", d.ID, kerr.Conflict, "region overlaps existing mapping")
	}
	numFrames := int(size / constants.PageSize)
	frames := make([]int, numFrames)
	for i := range frames {
		frames[i] = frame + i
	}
	r := &Region{Base: vaddr, Size: size, Flags: flags, Prot: flags, Frames: frames, External: true}
	d.table.insert(r)
	return nil
}

// Unmap removes the region at vaddr; physical pages are untouched when the
// region was installed via Map (spec.md "unmap(domain, vaddr, size)").
func (m *Manager) Unmap(d *Domain, vaddr uintptr, size uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerr.NewDomain("mm.unmap", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.findByBase(vaddr)
	if r == nil {
		return kerr.NewDomain("mm.unmap", d.ID, kerr.InvalidArgument, "vaddr is not a region base")
	}
	if !r.External {
		for _, frame := range r.Frames {
			m.pp.release(frame)
		}
	}
	d.table.remove(r)
	return nil
}

// Protect changes vaddr's protection bits while preserving its
// shared/owned/CoW status (spec.md "protect(domain, vaddr, size, prot)").
func (m *Manager) Protect(d *Domain, vaddr uintptr, size uintptr, prot RegionFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerr.NewDomain("mm.protect", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.find(vaddr)
	if r == nil || r.Base != vaddr {
		return kerr.NewDomain("mm.protect", d.ID, kerr.InvalidArgument, "vaddr is not a region base")
	}
	sticky := r.Flags & (Shared | CoW)
	r.Prot = prot
	r.Flags = prot | sticky
	return nil
}

// MarkCoW write-protects vaddr's pages and tags the region CoW (spec.md
// "mark_cow(domain, vaddr, size)").
func (m *Manager) MarkCoW(d *Domain, vaddr uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return kerr.NewDomain("mm.mark_cow", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.findByBase(vaddr)
	if r == nil {
		return kerr.NewDomain("mm.mark_cow", d.ID, kerr.InvalidArgument, "vaddr is not a region base")
	}
	r.Flags |= CoW
	r.Prot &^= Write
	return nil
}

// ShareCoW creates a second domain's region over src's frames, retaining
// every frame's refcount. This is how a fork-style CoW scenario (spec.md
// §8 scenario 2) gets two domains pointing at the same physical pages.
func (m *Manager) ShareCoW(src *Domain, srcBase uintptr, dst *Domain, dstBase uintptr) error {
	src.mu.RLock()
	r := src.table.findByBase(srcBase)
	if r == nil {
		src.mu.RUnlock()
		return kerr.NewDomain("mm.share_cow", src.ID, kerr.InvalidArgument, "srcBase is not a region base")
	}
	frames := append([]int(nil), r.Frames...)
	size, flags := r.Size, r.Flags|CoW
	src.mu.RUnlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.table.overlapsAny(dstBase, size) {
		return kerr.NewDomain("mm.share_cow", dst.ID, kerr.Conflict, "region overlaps existing mapping")
	}
	for _, frame := range frames {
		m.pp.retain(frame)
	}
	dst.table.insert(&Region{Base: dstBase, Size: size, Flags: flags, Prot: flags &^ Write, Frames: frames})
	return nil
}

// HandleCoWFault resolves a write fault at faultAddr (spec.md
// "handle_cow_fault(domain, fault_addr) -> Resolution"). CoW resolution
// runs with the domain write-locked per spec.md §4.B "Fault ordering".
func (m *Manager) HandleCoWFault(d *Domain, faultAddr uintptr) (Resolution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ResolutionNotOurFault, kerr.NewDomain("mm.handle_cow_fault", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.find(faultAddr)
	if r == nil || !r.Flags.Has(CoW) {
		return ResolutionNotOurFault, nil
	}

	idx := int(pageRoundDown(faultAddr)-r.Base) / constants.PageSize
	frame := r.Frames[idx]

	if !m.pp.shared(frame) {
		r.Prot |= Write
		return ResolutionMadeWritable, nil
	}

	newFrame, err := m.pp.acquire()
	if err != nil {
		return ResolutionNotOurFault, kerr.NewDomain("mm.handle_cow_fault", d.ID, kerr.OutOfMemory, "no free frame to copy into")
	}
	copy(m.pp.bytes(newFrame), m.pp.bytes(frame))
	m.pp.release(frame)
	r.Frames[idx] = newFrame
	r.Prot |= Write
	return ResolutionCopied, nil
}

// Translate resolves vaddr to the byte slice backing its containing page,
// or reports NotFound if vaddr is unmapped (spec.md "translate(domain,
// vaddr) -> Option<PhysicalAddr>").
func (m *Manager) Translate(d *Domain, vaddr uintptr) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, kerr.NewDomain("mm.translate", d.ID, kerr.NotFound, "domain destroyed")
	}
	r := d.table.find(vaddr)
	if r == nil {
		return nil, kerr.NewDomain("mm.translate", d.ID, kerr.NotFound, "address unmapped")
	}
	idx := int(pageRoundDown(vaddr)-r.Base) / constants.PageSize
	off := int(vaddr - pageRoundDown(vaddr))
	return m.pp.bytes(r.Frames[idx])[off:], nil
}

// FlushTLB is a no-op on this software-only model: there is no separate
// hardware TLB to invalidate, but the entry point is kept so callers that
// edit page tables through Map/Unmap/Protect follow the same sequencing
// spec.md requires (spec.md "flush_tlb(vaddr, size)").
func (m *Manager) FlushTLB(vaddr uintptr, size uintptr) {}

// AllocMeta borrows a fixed-size metadata buffer from the slab allocator
// for kernel-internal bookkeeping (region nodes, wait-queue nodes, quantum
// records) per spec.md §4.B "Slab allocator".
func (m *Manager) AllocMeta(size int) []byte { return m.slab.get(size) }

// FreeMeta returns a metadata buffer obtained from AllocMeta.
func (m *Manager) FreeMeta(buf []byte) { m.slab.put(buf) }
