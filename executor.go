package continuum

import (
	"context"
	"time"

	"github.com/continuum-os/continuum/internal/sched"
)

// Program is the extension point a quantum's opaque Context can implement
// to actually run inside the kernel's dispatch loop. Neither the scheduler
// nor the dispatcher interprets Context itself (spec.md §3 "opaque saved
// CPU-context snapshot"); Program is how this kernel chooses to use it —
// a real architecture layer (an interpreter, a WASM host, a syscall
// trampoline into a guest binary) plugs in here.
type Program interface {
	// Step runs for up to slice of virtual CPU time and reports what
	// happened to the quantum. Implementations call back into k.Dispatch
	// for system requests; a Step that blocks on IPC must call
	// Scheduler.Block itself before returning OutcomeBlocked.
	Step(ctx context.Context, k *Kernel, q *sched.Quantum, slice time.Duration) sched.Outcome
}

// quantumExecutor adapts Kernel.Dispatch and a quantum's optional Program
// into a sched.Executor. A quantum whose Context does not implement
// Program has nothing to run and yields immediately every dispatch, as if
// it were spawned but never loaded with any code.
type quantumExecutor struct {
	k *Kernel
}

func (e *quantumExecutor) Run(ctx context.Context, cpu int, q *sched.Quantum, slice time.Duration) sched.Outcome {
	p, ok := q.Context.(Program)
	if !ok {
		return sched.OutcomeYielded
	}
	return p.Step(ctx, e.k, q, slice)
}
