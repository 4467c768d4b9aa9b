// Package interfaces provides internal interface definitions shared across
// the kernel core's subsystems. These are separate from the root package's
// public surface to avoid circular imports between it and internal packages.
package interfaces

// Logger is the minimal logging surface every subsystem depends on.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// FrameSource supplies the raw physical-frame arena the memory manager's
// page pool carves frames from. The mmap-backed arena in internal/mm is the
// production implementation; tests substitute a plain heap-backed one.
type FrameSource interface {
	// Base returns the arena's starting address (opaque, for Translate).
	Base() uintptr
	// Frame returns the byte slice backing frame index i.
	Frame(i int) []byte
	// NumFrames returns the arena's capacity in page-size frames.
	NumFrames() int
	Close() error
}

// Observer receives kernel-wide statistics events. Implementations must be
// thread-safe: methods are called from the scheduler dispatch loop, the
// memory manager's fault handler, and the IPC send/receive path.
type Observer interface {
	ObserveSchedule(cpu int, priority int, waitNs uint64)
	ObserveFault(kind string, resolvedNs uint64, ok bool)
	ObserveSend(conduit string, bytes uint64, latencyNs uint64, ok bool)
	ObserveReceive(conduit string, bytes uint64, latencyNs uint64, ok bool)
	ObserveQueueDepth(conduit string, depth uint32)
}
