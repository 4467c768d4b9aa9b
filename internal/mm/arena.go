package mm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/continuum-os/continuum/internal/constants"
)

// MmapArena is the production FrameSource: a single anonymous mmap
// reservation sliced into fixed-size physical frames (spec.md §4.B
// "physical frame pool"). Adapted from the teacher's ioctl-backed device
// registration in that both hand out a fixed-size arena carved up by the
// caller; here the arena is a raw anonymous mapping instead of a block
// device's LBA space.
type MmapArena struct {
	mem       []byte
	frameSize int
	numFrames int
}

// NewMmapArena reserves numFrames frames of frameSize bytes each via
// unix.Mmap. frameSize is typically constants.PageSize.
func NewMmapArena(numFrames, frameSize int) (*MmapArena, error) {
	if numFrames <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("mm: invalid arena geometry: frames=%d frameSize=%d", numFrames, frameSize)
	}
	total := numFrames * frameSize
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mm: mmap arena: %w", err)
	}
	return &MmapArena{mem: mem, frameSize: frameSize, numFrames: numFrames}, nil
}

func (a *MmapArena) Base() uintptr {
	if len(a.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

func (a *MmapArena) Frame(i int) []byte {
	off := i * a.frameSize
	return a.mem[off : off+a.frameSize]
}

func (a *MmapArena) NumFrames() int { return a.numFrames }

func (a *MmapArena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// NewDefaultMmapArena builds an arena sized per constants.DefaultArenaFrames.
func NewDefaultMmapArena() (*MmapArena, error) {
	return NewMmapArena(constants.DefaultArenaFrames, constants.PageSize)
}

// HeapArena is a heap-backed FrameSource for hosts or tests where anonymous
// mmap is unavailable. Like MmapArena it hands out raw slices into a single
// backing allocation with no locking of its own: pagePool's refcounting is
// what keeps a frame single-owner while acquired (spec.md §4.B "physical
// frame pool"), the same discipline MmapArena relies on, so a second
// per-frame lock here would only ever be released before the caller could
// touch the bytes it claimed to protect.
type HeapArena struct {
	mem       []byte
	frameSize int
	numFrames int
}

func NewHeapArena(numFrames, frameSize int) *HeapArena {
	return &HeapArena{
		mem:       make([]byte, numFrames*frameSize),
		frameSize: frameSize,
		numFrames: numFrames,
	}
}

func (a *HeapArena) Base() uintptr {
	if len(a.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

func (a *HeapArena) Frame(i int) []byte {
	off := i * a.frameSize
	return a.mem[off : off+a.frameSize]
}

func (a *HeapArena) NumFrames() int { return a.numFrames }

func (a *HeapArena) Close() error {
	a.mem = nil
	return nil
}
