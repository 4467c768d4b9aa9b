// Package sched implements the kernel's scheduler: per-CPU ready queues,
// a priority-preemptive dispatch loop, and the cross-CPU load balancer
// (spec.md §4.C). A Quantum is the unit of schedulable work; this package
// never touches the quantum's memory domain or open conduits directly —
// it schedules opaque CPU-context snapshots the caller supplies.
package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is a quantum's scheduling state (spec.md §3 "Quantum").
type State int

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// BlockReason records why a quantum is Blocked, surfaced for diagnostics
// and so Unblock can validate it is waking the right kind of wait.
type BlockReason int

const (
	BlockNone BlockReason = iota
	BlockSend
	BlockReceive
	BlockWaitForQuantum
)

// Stats accumulates per-quantum scheduling counters.
type Stats struct {
	ContextSwitches uint64
	TicksRun        uint64
	TotalWaitNs     uint64
	RequestCount    uint64
}

// Quantum is the kernel's schedulable task record (spec.md §3 "Quantum"):
// identity, name, priority, affinity, an opaque saved CPU-context
// snapshot, a reference to the owning memory domain, and an immutable
// capability bit set.
type Quantum struct {
	ID         int64
	Name       string
	Parent     int64
	Priority   int // 0 (lowest) .. NumPriorities-1 (highest)
	Affinity   int // preferred/pinned CPU, -1 = any
	Domain     int64
	Caps       uint64
	Context    any // opaque saved CPU-context snapshot

	// GuestABI tags which guest instruction-set/ABI convention Context
	// was saved under. The core never reads it; multi-ABI guest dispatch
	// is out of scope, but an Executor implementation is free to switch
	// on it.
	GuestABI string

	// SchedulerHint, if set, is consulted by nothing in this package. It
	// is a named extension point for an external scheduling-hint source
	// (e.g. a priority-adjustment policy) to attach advice to a quantum
	// without the core depending on it.
	SchedulerHint func(q *Quantum) int

	mu         sync.Mutex
	state      State
	reason     BlockReason
	sliceLeft  time.Duration
	cpu        int
	stats      Stats
	cancelled  atomic.Bool
}

// NewQuantum creates a quantum in the Ready state at the given priority.
func NewQuantum(id int64, name string, priority int, domain int64, caps uint64) *Quantum {
	return &Quantum{
		ID:       id,
		Name:     name,
		Priority: priority,
		Affinity: -1,
		Domain:   domain,
		Caps:     caps,
		state:    Ready,
	}
}

func (q *Quantum) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Quantum) setState(s State) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
}

// HasCapability reports whether the quantum's immutable capability bit set
// includes bit (spec.md §3 "immutable bit map ... Bits correspond to
// system-request codes enumerated in §6.3").
func (q *Quantum) HasCapability(bit uint) bool {
	if bit >= 64 {
		return false
	}
	return q.Caps&(1<<bit) != 0
}

// RecordRequest increments the quantum's system-request counter (spec.md
// §4.E step 3: "Increments the request counter on the quantum").
func (q *Quantum) RecordRequest() {
	q.mu.Lock()
	q.stats.RequestCount++
	q.mu.Unlock()
}

// StatsSnapshot returns a copy of the quantum's scheduling counters.
func (q *Quantum) StatsSnapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Cancel sets the quantum's cancellation flag, which cancelledAndClear
// reads and clears. No scheduler, IPC or dispatcher path reads the flag,
// so a cancelled quantum is still resumed by an ordinary wakeup.
func (q *Quantum) Cancel() { q.cancelled.Store(true) }

func (q *Quantum) cancelledAndClear() bool {
	return q.cancelled.Swap(false)
}
