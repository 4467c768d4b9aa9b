package sched

import (
	"sync"
	"time"

	"github.com/hayabusa-cloud/lfq"

	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/kerr"
)

// cpuState is one CPU's ready queues, current quantum, and migration
// inbox. Migrations land in inbox (an MPSC queue: every other CPU's
// Balance call is a producer, this CPU's own dispatch loop is the sole
// consumer) so Balance never has to hold two CPUs' locks at once.
type cpuState struct {
	id      int
	mu      sync.Mutex
	rq      *readyQueues
	current *Quantum
	idle    *Quantum
	inbox   *lfq.MPSC[*Quantum]
}

// Scheduler owns every CPU's ready queues and is the sole component that
// transitions a quantum between Ready/Running/Blocked (spec.md §4.C).
type Scheduler struct {
	cpus []*cpuState
	obs  interfaces.Observer

	mu   sync.RWMutex
	byID map[int64]*Quantum
}

// New builds a Scheduler for numCPUs logical CPUs, each with
// constants.NumPriorities ready-queue levels.
func New(numCPUs int, obs interfaces.Observer) *Scheduler {
	s := &Scheduler{
		cpus: make([]*cpuState, numCPUs),
		obs:  obs,
		byID: make(map[int64]*Quantum),
	}
	for i := range s.cpus {
		s.cpus[i] = &cpuState{
			id:    i,
			rq:    newReadyQueues(constants.NumPriorities),
			inbox: lfq.NewMPSC[*Quantum](256),
		}
	}
	return s
}

func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// Lookup returns the live quantum with the given id, used by the
// dispatcher to resolve a handle carried in a system-request's params.
func (s *Scheduler) Lookup(id int64) (*Quantum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byID[id]
	return q, ok
}

// chooseCPU picks a destination CPU for a newly enqueued quantum: its
// pinned affinity if set, else the least-loaded CPU.
func (s *Scheduler) chooseCPU(q *Quantum) int {
	if q.Affinity >= 0 && q.Affinity < len(s.cpus) {
		return q.Affinity
	}
	best, bestLen := 0, -1
	for i, c := range s.cpus {
		c.mu.Lock()
		l := c.rq.len()
		c.mu.Unlock()
		if bestLen == -1 || l < bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

// Enqueue admits a new quantum into the ready queues (spec.md §4.C
// "Enqueue").
func (s *Scheduler) Enqueue(q *Quantum) {
	s.mu.Lock()
	s.byID[q.ID] = q
	s.mu.Unlock()

	cpu := s.chooseCPU(q)
	q.setState(Ready)
	q.mu.Lock()
	q.cpu = cpu
	q.sliceLeft = bonusSlice(q.Priority)
	q.mu.Unlock()

	c := s.cpus[cpu]
	c.mu.Lock()
	c.rq.push(q)
	c.mu.Unlock()
}

// bonusSlice grants higher-numbered (higher) priorities a longer slice,
// matching spec.md §4.C's time-slice-by-priority tunable.
func bonusSlice(priority int) time.Duration {
	bonus := time.Duration(priority) * (constants.BaseTimeSlice / time.Duration(constants.NumPriorities))
	return constants.BaseTimeSlice + bonus
}

// Remove pulls q out of the ready queue it currently sits in, used when a
// quantum is destroyed before it was ever dispatched.
func (s *Scheduler) Remove(q *Quantum) bool {
	q.mu.Lock()
	cpu := q.cpu
	q.mu.Unlock()
	if cpu < 0 || cpu >= len(s.cpus) {
		return false
	}
	c := s.cpus[cpu]
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.remove(q)
}

// Current returns the quantum presently running on cpu, or nil if idle.
func (s *Scheduler) Current(cpu int) *Quantum {
	c := s.cpus[cpu]
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Schedule picks the next quantum to run on cpu: first draining the
// migration inbox (so a freshly balanced-in quantum does not starve
// behind a long-standing local queue), then popping the highest-priority
// ready quantum. Returns nil if cpu is idle.
func (s *Scheduler) Schedule(cpu int) *Quantum {
	c := s.cpus[cpu]
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if v, err := c.inbox.Dequeue(); err == nil {
			q := *v
			q.mu.Lock()
			q.cpu = cpu
			q.mu.Unlock()
			c.rq.push(q)
			continue
		}
		break
	}

	q := c.rq.popHighest()
	if q == nil {
		c.current = nil
		return nil
	}
	q.setState(Running)
	q.mu.Lock()
	q.stats.ContextSwitches++
	q.mu.Unlock()
	c.current = q
	if s.obs != nil {
		s.obs.ObserveSchedule(cpu, q.Priority, 0)
	}
	return q
}

// Yield returns the running quantum on cpu to the back of its priority
// level without waiting for its slice to expire (spec.md §4.C "Yield").
func (s *Scheduler) Yield(cpu int) {
	c := s.cpus[cpu]
	c.mu.Lock()
	q := c.current
	c.current = nil
	c.mu.Unlock()
	if q == nil {
		return
	}
	q.setState(Ready)
	q.mu.Lock()
	q.sliceLeft = bonusSlice(q.Priority)
	q.mu.Unlock()
	c.mu.Lock()
	c.rq.push(q)
	c.mu.Unlock()
}

// Block suspends the running quantum on cpu for the given reason
// (spec.md §4.C "Block" / §4.E "Suspension points"). The quantum is not
// re-enqueued until Unblock is called.
func (s *Scheduler) Block(cpu int, reason BlockReason) *Quantum {
	c := s.cpus[cpu]
	c.mu.Lock()
	q := c.current
	c.current = nil
	c.mu.Unlock()
	if q == nil {
		return nil
	}
	q.mu.Lock()
	q.state = Blocked
	q.reason = reason
	q.mu.Unlock()
	return q
}

// BlockQuantum suspends q for the given reason (spec.md §4.E "Suspension
// points"), the same transition Block performs, but addressed by quantum
// rather than by cpu. Block assumes the caller is the dispatch loop
// driving that CPU and already knows which one; a Send/Receive
// suspension point only has the quantum in hand, so BlockQuantum looks
// up q's last-known CPU itself and clears it from c.current if q is
// still the one running there.
func (s *Scheduler) BlockQuantum(q *Quantum, reason BlockReason) error {
	q.mu.Lock()
	if q.state != Running {
		q.mu.Unlock()
		return kerr.NewQuantum("sched.block", q.ID, kerr.Conflict, "quantum is not running")
	}
	q.state = Blocked
	q.reason = reason
	cpu := q.cpu
	q.mu.Unlock()

	if cpu >= 0 && cpu < len(s.cpus) {
		c := s.cpus[cpu]
		c.mu.Lock()
		if c.current == q {
			c.current = nil
		}
		c.mu.Unlock()
	}
	return nil
}

// Unblock makes a previously blocked quantum Ready again and re-enqueues
// it on its last-known CPU (spec.md §4.C "Unblock"). Returns Conflict if
// q was not actually blocked, matching "no lost wakeup" by making
// double-unblock a caller-visible error rather than a silent no-op.
func (s *Scheduler) Unblock(q *Quantum) error {
	q.mu.Lock()
	if q.state != Blocked {
		q.mu.Unlock()
		return kerr.NewQuantum("sched.unblock", q.ID, kerr.Conflict, "quantum is not blocked")
	}
	q.state = Ready
	q.reason = BlockNone
	q.sliceLeft = bonusSlice(q.Priority)
	cpu := q.cpu
	q.mu.Unlock()

	if cpu < 0 || cpu >= len(s.cpus) {
		cpu = s.chooseCPU(q)
	}
	c := s.cpus[cpu]
	c.mu.Lock()
	c.rq.push(q)
	c.mu.Unlock()
	return nil
}

// Cancel sets q's cancellation flag (see Quantum.Cancel). It does not wake
// q or abort its wait, and Unblock resumes q normally whether or not the
// flag is set.
func (s *Scheduler) Cancel(q *Quantum) { q.Cancel() }

// Terminate marks q Terminated and removes it from scheduling entirely.
func (s *Scheduler) Terminate(q *Quantum) {
	q.setState(Terminated)
	s.Remove(q)
	s.mu.Lock()
	delete(s.byID, q.ID)
	s.mu.Unlock()
}

// Tick drives the timer-interrupt handler on cpu: the running quantum's
// slice is decremented by constants.TickInterval; when it reaches zero,
// or when a strictly higher-priority quantum is waiting in cpu's ready
// queue, the running quantum is preempted back onto the ready queue
// (spec.md §4.C "Tick", §8 Scenario 5: "task H (priority 4) becomes
// Ready. On the next tick at latest, H is scheduled and L is
// pre-empted"). Returns true if a preemption occurred (caller should
// re-Schedule).
func (s *Scheduler) Tick(cpu int) bool {
	c := s.cpus[cpu]
	c.mu.Lock()
	q := c.current
	c.mu.Unlock()
	if q == nil {
		return false
	}

	q.mu.Lock()
	q.sliceLeft -= constants.TickInterval
	q.stats.TicksRun++
	exhausted := q.sliceLeft <= 0
	priority := q.Priority
	q.mu.Unlock()

	if !exhausted {
		c.mu.Lock()
		if lvl, ok := c.rq.highestLevel(); ok && lvl > priority {
			exhausted = true
		}
		c.mu.Unlock()
	}

	if !exhausted {
		return false
	}

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	q.setState(Ready)
	q.mu.Lock()
	q.sliceLeft = bonusSlice(q.Priority)
	q.mu.Unlock()
	c.mu.Lock()
	c.rq.push(q)
	c.mu.Unlock()
	return true
}

// Balance migrates work off the busiest CPU onto the idlest one when
// their ready-queue lengths differ by at least
// constants.LoadBalanceThreshold (spec.md §4.C "Balance"). The victim is
// pulled from the busiest CPU's lowest-priority (least urgent) non-empty
// level to minimize disruption, and handed to the target CPU's inbox
// rather than its ready queue directly so the target only ever mutates
// its own queue from its own dispatch loop.
func (s *Scheduler) Balance() bool {
	busiest, idlest := -1, -1
	maxLen, minLen := -1, -1
	for i, c := range s.cpus {
		c.mu.Lock()
		l := c.rq.len()
		c.mu.Unlock()
		if l > maxLen {
			maxLen, busiest = l, i
		}
		if minLen == -1 || l < minLen {
			minLen, idlest = l, i
		}
	}
	if busiest == idlest || maxLen-minLen < constants.LoadBalanceThreshold {
		return false
	}

	src := s.cpus[busiest]
	src.mu.Lock()
	var victim *Quantum
	for level := 0; level < constants.NumPriorities; level++ {
		if src.rq.lenAt(level) > 0 {
			victim = src.rq.popHighestAt(level)
			break
		}
	}
	src.mu.Unlock()
	if victim == nil {
		return false
	}

	dst := s.cpus[idlest]
	if err := dst.inbox.Enqueue(&victim); err != nil {
		// Inbox full: put the victim back rather than drop it.
		src.mu.Lock()
		src.rq.push(victim)
		src.mu.Unlock()
		return false
	}
	return true
}
