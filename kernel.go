// Package continuum is a software microkernel core: a memory manager with
// copy-on-write domains, a priority-preemptive multi-CPU scheduler, named
// bounded-buffer IPC conduits, and a capability-gated system-request
// dispatcher binding the three together. Boot constructs a Kernel from a
// validated boot handoff; everything else is reached through Dispatch.
package continuum

import (
	"context"
	"sync"
	"time"

	"github.com/continuum-os/continuum/internal/clock"
	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/dispatch"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/ipc"
	"github.com/continuum-os/continuum/internal/logging"
	"github.com/continuum-os/continuum/internal/mm"
	"github.com/continuum-os/continuum/internal/sched"
)

// BootConfig configures a Kernel at boot time (spec.md §6.1/§6.2).
type BootConfig struct {
	// NumCPUs is the number of logical CPUs the scheduler manages. 0
	// defaults to 1.
	NumCPUs int

	// ArenaFrames sizes the physical frame pool. 0 defaults to
	// constants.DefaultArenaFrames.
	ArenaFrames int

	// Logger receives diagnostic output during boot and operation. nil
	// uses logging.Default().
	Logger interfaces.Logger

	// Observer receives kernel-wide statistics events. nil builds one
	// from a fresh Metrics instance, retrievable via Kernel.Metrics.
	Observer interfaces.Observer

	// UseHeapArena forces the heap-backed FrameSource instead of an
	// anonymous mmap reservation, for hosts where mmap is unavailable or
	// undesirable (tests always set this).
	UseHeapArena bool
}

func (c BootConfig) numCPUs() int {
	if c.NumCPUs > 0 {
		return c.NumCPUs
	}
	return 1
}

func (c BootConfig) arenaFrames() int {
	if c.ArenaFrames > 0 {
		return c.ArenaFrames
	}
	return constants.DefaultArenaFrames
}

// KernelState mirrors spec.md's boot/run/halt lifecycle.
type KernelState string

const (
	KernelBooting KernelState = "booting"
	KernelRunning KernelState = "running"
	KernelHalted  KernelState = "halted"
)

// Kernel wires the memory manager, scheduler, IPC registry, and system
// dispatcher together and drives the per-CPU dispatch loops (spec.md §4,
// §6). Grounded on the teacher's Device/CreateAndServe/StopAndDelete
// shape: one top-level handle constructed by a boot function, torn down
// by a single Shutdown call, with metrics and a cancellable context
// threaded through every worker the same way the teacher threads them
// through every queue runner.
type Kernel struct {
	clock    *clock.Clock
	mm       *mm.Manager
	sched    *sched.Scheduler
	ipc      *ipc.Registry
	dispatch *dispatch.Dispatcher
	metrics  *Metrics
	arena    interfaces.FrameSource
	logger   interfaces.Logger

	workers []*sched.Worker
	cancel  context.CancelFunc

	mu    sync.Mutex
	state KernelState
}

// Boot validates the boot handoff and brings up a Kernel (spec.md §6.1
// "boot handoff", §4 module wiring). If raw is nil, boot skips handoff
// validation entirely (used by tests and by embedders that construct
// their own BootHandoff out of band via ValidateBootHandoff).
func Boot(ctx context.Context, raw []byte, cfg BootConfig) (*Kernel, error) {
	if raw != nil {
		h, err := DecodeBootHandoff(raw)
		if err != nil {
			return nil, err
		}
		if cfg.ArenaFrames == 0 {
			cfg.ArenaFrames = int(UsableRAM(h) / constants.PageSize)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	obs := cfg.Observer
	if obs == nil {
		obs = NewMetricsObserver(metrics)
	}

	var arena interfaces.FrameSource
	var err error
	if cfg.UseHeapArena {
		arena = mm.NewHeapArena(cfg.arenaFrames(), constants.PageSize)
	} else {
		arena, err = mm.NewMmapArena(cfg.arenaFrames(), constants.PageSize)
		if err != nil {
			return nil, WrapError("boot.arena", err)
		}
	}

	k := &Kernel{
		clock:   clock.New(),
		mm:      mm.NewManager(arena, obs),
		sched:   sched.New(cfg.numCPUs(), obs),
		ipc:     ipc.NewRegistry(obs),
		metrics: metrics,
		arena:   arena,
		logger:  logger,
		state:   KernelBooting,
	}
	k.dispatch = dispatch.New(k.mm, k.sched, k.ipc, k.clock, obs)
	exec := &quantumExecutor{k: k}

	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.workers = make([]*sched.Worker, cfg.numCPUs())
	for i := range k.workers {
		k.workers[i] = sched.NewWorker(runCtx, i, k.sched, exec, logger)
		go k.workers[i].Run()
	}
	go k.runTimerInterrupt(runCtx)

	k.mu.Lock()
	k.state = KernelRunning
	k.mu.Unlock()

	logger.Printf("continuum: booted with %d cpu(s), %d frames", cfg.numCPUs(), cfg.arenaFrames())
	return k, nil
}

// runTimerInterrupt stands in for the hardware timer interrupt (spec.md
// §6.2): every constants.TickInterval it calls Scheduler.Tick on each CPU,
// driving both slice-exhaustion and priority preemption independently of
// the per-CPU dispatch loops, which never call Tick themselves.
func (k *Kernel) runTimerInterrupt(ctx context.Context) {
	ticker := time.NewTicker(constants.TickInterval)
	defer ticker.Stop()
	numCPUs := k.sched.NumCPUs()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for cpu := 0; cpu < numCPUs; cpu++ {
				k.sched.Tick(cpu)
			}
		}
	}
}

// Shutdown stops every worker loop, marks metrics halted, and releases
// the physical frame arena (spec.md §7 "halts all CPUs" for the panic
// path; Shutdown is the graceful equivalent).
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	if k.state == KernelHalted {
		k.mu.Unlock()
		return nil
	}
	k.state = KernelHalted
	k.mu.Unlock()

	if k.cancel != nil {
		k.cancel()
	}
	time.Sleep(2 * time.Millisecond) // let worker loops observe ctx.Done
	for _, w := range k.workers {
		w.Stop()
	}
	k.metrics.Stop()
	return k.arena.Close()
}

// State returns the kernel's current lifecycle state.
func (k *Kernel) State() KernelState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Dispatch routes one system request from q into the appropriate
// subsystem (spec.md §4.E). This is the only path a running quantum has
// into kernel services.
func (k *Kernel) Dispatch(ctx context.Context, q *sched.Quantum, id dispatch.RequestID, params dispatch.Params) int64 {
	return k.dispatch.Handle(ctx, q, id, params)
}

// CreateDomain allocates a fresh memory domain for owner, the first step
// in bringing up a new quantum (spec.md §4.B "create_domain").
func (k *Kernel) CreateDomain(owner int64) (*mm.Domain, error) {
	return k.mm.CreateDomain(owner)
}

// Spawn creates and enqueues a new quantum directly (bypassing the
// numeric dispatch ABI), used by boot-time service creation (spec.md
// §6.5 "Service manager boots by creating quanta and wiring their stdio
// to conduits").
func (k *Kernel) Spawn(name string, priority int, domain int64, caps uint64) *sched.Quantum {
	id := dispatch.NextQuantumID()
	q := sched.NewQuantum(id, name, priority, domain, caps)
	k.sched.Enqueue(q)
	return q
}

// Metrics returns the kernel's metrics aggregator.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// MetricsSnapshot returns a point-in-time snapshot of kernel metrics.
func (k *Kernel) MetricsSnapshot() Snapshot { return k.metrics.Snapshot() }

// Info summarizes the kernel's configuration and state.
type Info struct {
	State   KernelState
	NumCPUs int
	Uptime  time.Duration
}

// Info returns a snapshot of the kernel's configuration and state.
func (k *Kernel) Info() Info {
	return Info{
		State:   k.State(),
		NumCPUs: k.sched.NumCPUs(),
		Uptime:  time.Duration(k.clock.Uptime()),
	}
}

// Registry exposes the IPC registry directly for callers that want to
// create/open conduits without going through the numeric dispatch ABI
// (e.g. a boot-time service manager wiring stdio).
func (k *Kernel) Registry() *ipc.Registry { return k.ipc }

// Scheduler exposes the scheduler directly for the same reason.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// MM exposes the memory manager directly for the same reason.
func (k *Kernel) MM() *mm.Manager { return k.mm }
