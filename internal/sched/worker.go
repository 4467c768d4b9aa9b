package sched

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/continuum-os/continuum/internal/interfaces"
)

// Outcome reports what happened to a quantum after one dispatch.
type Outcome int

const (
	// OutcomeExhausted means the quantum ran until its time slice ran out
	// and should be preempted back onto the ready queue.
	OutcomeExhausted Outcome = iota
	// OutcomeYielded means the quantum voluntarily gave up the CPU early.
	OutcomeYielded
	// OutcomeBlocked means the quantum suspended itself (spec.md §4.E
	// "Suspension points"); the caller has already invoked Scheduler.Block.
	OutcomeBlocked
	// OutcomeTerminated means the quantum finished and should not be
	// rescheduled.
	OutcomeTerminated
)

// Executor runs one dispatch of a quantum for up to slice of virtual CPU
// time and reports what happened. The dispatcher has no notion of a real
// CPU register file; the caller owns whatever opaque Context the quantum
// carries.
type Executor interface {
	Run(ctx context.Context, cpu int, q *Quantum, slice time.Duration) Outcome
}

// Worker runs one CPU's dispatch loop: schedule, execute, account for the
// outcome, repeat. The loop shape — context/cancel, optional CPU pinning,
// an idle path when there is no work — follows the teacher's per-queue
// ioLoop; here each "I/O completion" is a quantum dispatch instead of a
// block-device request.
type Worker struct {
	cpu      int
	sched    *Scheduler
	exec     Executor
	logger   interfaces.Logger
	affinity int // OS CPU to pin this worker's goroutine to, -1 = no pinning

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker builds the dispatch loop for logical cpu.
func NewWorker(parent context.Context, cpu int, sched *Scheduler, exec Executor, logger interfaces.Logger) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		cpu:      cpu,
		sched:    sched,
		exec:     exec,
		logger:   logger,
		affinity: -1,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetAffinity pins this worker's goroutine to an OS CPU once Run starts.
func (w *Worker) SetAffinity(osCPU int) { w.affinity = osCPU }

// Stop cancels the dispatch loop; Run returns once the in-flight dispatch
// (if any) completes.
func (w *Worker) Stop() { w.cancel() }

// Run is the per-CPU dispatch loop. It blocks until Stop is called or the
// parent context is cancelled.
func (w *Worker) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.affinity >= 0 {
		var mask unix.CPUSet
		mask.Set(w.affinity)
		if err := unix.SchedSetaffinity(0, &mask); err != nil && w.logger != nil {
			w.logger.Printf("sched: cpu %d: failed to pin to OS cpu %d: %v", w.cpu, w.affinity, err)
		}
	}

	if w.logger != nil {
		w.logger.Debugf("sched: cpu %d: dispatch loop starting", w.cpu)
	}

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-w.ctx.Done():
			if w.logger != nil {
				w.logger.Debugf("sched: cpu %d: dispatch loop stopping", w.cpu)
			}
			return
		default:
		}

		q := w.sched.Schedule(w.cpu)
		if q == nil {
			select {
			case <-w.ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		if w.exec == nil {
			// No execution backend wired: nothing actually runs the
			// quantum's saved context, so just hand the CPU back rather
			// than dereference a nil Executor.
			w.sched.Yield(w.cpu)
			continue
		}

		q.mu.Lock()
		slice := q.sliceLeft
		q.mu.Unlock()

		outcome := w.exec.Run(w.ctx, w.cpu, q, slice)
		switch outcome {
		case OutcomeExhausted:
			w.requeue(q)
		case OutcomeYielded:
			w.sched.Yield(w.cpu)
		case OutcomeBlocked:
			// Scheduler.Block was already called by the executor from
			// inside the syscall dispatch path that suspended q.
		case OutcomeTerminated:
			w.sched.Terminate(q)
		}
	}
}

// requeue pushes q back onto the ready queue after it exhausted its slice.
// A concurrent timer-interrupt Tick (kernel.runTimerInterrupt) may have
// already preempted q — for slice exhaustion or a higher-priority
// arrival — while this dispatch's Executor.Run call was still in flight;
// in that case c.current no longer names q and requeue is a no-op rather
// than pushing q onto the ready queue a second time.
func (w *Worker) requeue(q *Quantum) {
	c := w.sched.cpus[w.cpu]
	c.mu.Lock()
	if c.current != q {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	q.setState(Ready)
	q.mu.Lock()
	q.sliceLeft = bonusSlice(q.Priority)
	q.mu.Unlock()
	c.mu.Lock()
	c.rq.push(q)
	c.mu.Unlock()
}
