// Package constants centralizes kernel-wide tunables so every subsystem
// (clock, memory manager, scheduler, IPC) agrees on the same defaults.
package constants

import "time"

// Page and address-space geometry.
const (
	// PageSize is the base page size in bytes.
	PageSize = 4096

	// HugePageSize is the huge-page size in bytes. Allocate does not use
	// it: it rejects flags.Large with InvalidArgument.
	HugePageSize = 2 * 1024 * 1024

	// DefaultArenaFrames sizes the physical frame pool's backing arena when
	// BootConfig does not override it (DefaultArenaFrames*PageSize bytes).
	DefaultArenaFrames = 16384 // 64MiB
)

// Scheduler tunables.
const (
	// NumPriorities is the number of ready-queue priority levels (0..4).
	NumPriorities = 5

	// BaseTimeSlice is the quantum of CPU time granted at dispatch before
	// a priority bonus is applied.
	BaseTimeSlice = 10 * time.Millisecond

	// TickInterval is the assumed timer-interrupt period driving Scheduler.Tick.
	TickInterval = time.Millisecond // ~1kHz per spec.md §6.2

	// LoadBalanceThreshold is the ready-queue length delta that triggers
	// Scheduler.Balance to migrate tasks off the busiest CPU.
	LoadBalanceThreshold = 2

	// KernelReservedIdentities is the count of low quantum IDs set aside
	// for kernel-internal quanta (idle tasks, init). Nothing enforces it:
	// the quantum id sequence in internal/dispatch starts at 1.
	KernelReservedIdentities = 64
)

// IPC tunables.
const (
	// DefaultConduitCapacity is the ring buffer size used when a caller
	// does not request a specific capacity.
	DefaultConduitCapacity = 64 * 1024

	// MaxMessageSize bounds a single Conduit message's payload.
	MaxMessageSize = 1 << 20

	// MessageHeaderSize is the on-wire size of the fixed message header
	// {sender, size, timestamp, flags}.
	MessageHeaderSize = 24

	// RingPaddingMarker is a marker value for a skipped tail region. The
	// ring buffer does not write or read it: it records the offsets it
	// skipped to avoid a header straddling the wrap point out of band.
	RingPaddingMarker = 0xFFFFFFFF
)

// Slab allocator tunables.
const (
	// SlabClasses are the fixed object sizes the kernel's internal slab
	// allocator serves (region nodes, wait-queue nodes, quantum records).
	SlabClassSmall  = 64
	SlabClassMedium = 256
	SlabClassLarge  = 1024
)
