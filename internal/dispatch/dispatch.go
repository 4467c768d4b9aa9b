package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/continuum-os/continuum/internal/clock"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/ipc"
	"github.com/continuum-os/continuum/internal/kerr"
	"github.com/continuum-os/continuum/internal/mm"
	"github.com/continuum-os/continuum/internal/sched"
)

// Dispatcher is the single entry point from a task into kernel services
// (spec.md §4.E). It owns no state of its own beyond handle tables for
// objects that cross the uint64-params ABI boundary (conduit handles,
// pending WaitForQuantum completions); the substantive state lives in
// the MM, the scheduler, and the IPC registry it routes to.
type Dispatcher struct {
	mm    *mm.Manager
	sched *sched.Scheduler
	ipc   *ipc.Registry
	clk   *clock.Clock
	obs   interfaces.Observer

	mu         sync.Mutex
	conduits   map[uint64]*ipc.Conduit
	nextHandle uint64

	termMu sync.Mutex
	term   map[int64]chan struct{}
}

// New builds a Dispatcher wired to the given subsystems.
func New(m *mm.Manager, s *sched.Scheduler, r *ipc.Registry, clk *clock.Clock, obs interfaces.Observer) *Dispatcher {
	return &Dispatcher{
		mm:       m,
		sched:    s,
		ipc:      r,
		clk:      clk,
		obs:      obs,
		conduits: make(map[uint64]*ipc.Conduit),
		term:     make(map[int64]chan struct{}),
	}
}

// Handle is the dispatcher's entry point, implementing spec.md §4.E's
// five-step protocol: validate, authorize, account, route, and return a
// signed result where negative values are error codes from the
// taxonomy in §7.
func (d *Dispatcher) Handle(ctx context.Context, q *sched.Quantum, id RequestID, p Params) int64 {
	if !id.Known() {
		return kerr.NoSuchCall.DispatchCode()
	}
	if !q.HasCapability(uint(id)) {
		return kerr.Denied.DispatchCode()
	}
	q.RecordRequest()

	result, err := d.route(ctx, q, id, p)
	if err != nil {
		if ke, ok := err.(*kerr.Error); ok {
			return ke.Code.DispatchCode()
		}
		return kerr.Broken.DispatchCode()
	}
	return result
}

func (d *Dispatcher) route(ctx context.Context, q *sched.Quantum, id RequestID, p Params) (int64, error) {
	switch id {
	case AllocRegion:
		return d.allocRegion(q, p)
	case FreeRegion:
		return d.freeRegion(q, p)
	case MapRegion:
		return d.mapRegion(q, p)
	case UnmapRegion:
		return d.unmapRegion(q, p)
	case ProtectRegion:
		return d.protectRegion(q, p)
	case SpawnQuantum:
		return d.spawnQuantum(q, p)
	case TerminateQuantum:
		return d.terminateQuantum(q, p)
	case YieldCpu:
		return d.yieldCpu(q, p)
	case WaitForQuantum:
		return d.waitForQuantum(ctx, q, p)
	case CreateConduit:
		return d.createConduit(q, p)
	case OpenConduit:
		return d.openConduit(q, p)
	case CloseConduit:
		return d.closeConduit(p)
	case SendMessage:
		return d.sendMessage(ctx, q, p)
	case ReceiveMessage:
		return d.receiveMessage(ctx, q, p)
	case PeekMessage:
		return d.peekMessage(q, p)
	case SelectConduits:
		return d.selectConduits(ctx, p)
	case BroadcastMessage:
		return d.broadcastMessage(ctx, q, p)
	case QueryTime:
		return int64(d.clk.NowMicros()), nil
	case QueryStats:
		return d.queryStats(q, p)
	default:
		return 0, kerr.New("dispatch", kerr.NoSuchCall, "unrouted request id")
	}
}

// --- handle-table plumbing ---

func (d *Dispatcher) putConduit(c *ipc.Conduit) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	h := d.nextHandle
	d.conduits[h] = c
	return h
}

func (d *Dispatcher) getConduit(handle uint64) (*ipc.Conduit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conduits[handle]
	if !ok {
		return nil, kerr.New("dispatch", kerr.NotFound, "unknown conduit handle")
	}
	return c, nil
}

func (d *Dispatcher) dropConduit(handle uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conduits, handle)
}

// domainOf resolves the calling quantum's memory domain.
func (d *Dispatcher) domainOf(q *sched.Quantum) (*mm.Domain, error) {
	return d.mm.Domain(q.Domain)
}

// readBytes translates a virtual address in the caller's domain into a
// kernel-visible slice of exactly length bytes (spec.md §4.E step 4:
// "Pointer parameters originating in user address space are resolved via
// translate with an access check before dereference"). Translate only
// returns the remainder of the containing frame, so a parameter that
// would cross a frame boundary is rejected rather than silently
// truncated.
func (d *Dispatcher) readBytes(dom *mm.Domain, ptr, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	b, err := d.mm.Translate(dom, uintptr(ptr))
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) < length {
		return nil, kerr.NewDomain("dispatch.translate", dom.ID, kerr.InvalidArgument, "parameter crosses a frame boundary")
	}
	return b[:length:length], nil
}

func (d *Dispatcher) readString(dom *mm.Domain, ptr, length uint64) (string, error) {
	b, err := d.readBytes(dom, ptr, length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Memory requests (spec.md §4.B) ---

func (d *Dispatcher) allocRegion(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	size, flags, alloc := p[0], mm.RegionFlags(p[1]), mm.AllocFlags(p[2])
	vaddr, err := d.mm.Allocate(dom, uintptr(size), flags, alloc)
	if err != nil {
		return 0, err
	}
	return int64(vaddr), nil
}

func (d *Dispatcher) freeRegion(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	if err := d.mm.Free(dom, uintptr(p[0])); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) mapRegion(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	vaddr, frame, size, flags := p[0], int(p[1]), p[2], mm.RegionFlags(p[3])
	if err := d.mm.Map(dom, uintptr(vaddr), frame, uintptr(size), flags); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) unmapRegion(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	if err := d.mm.Unmap(dom, uintptr(p[0]), uintptr(p[1])); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) protectRegion(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	if err := d.mm.Protect(dom, uintptr(p[0]), uintptr(p[1]), mm.RegionFlags(p[2])); err != nil {
		return 0, err
	}
	return 0, nil
}

// --- Task requests (spec.md §4.C) ---

const noAffinity = ^uint64(0)

// quantumIDSeq hands out quantum ids; a real boot sequence would derive
// this from a kernel-wide counter seeded past
// constants.KernelReservedIdentities. Exported as NextQuantumID so the
// root package's Go-native Spawn helper draws from the same sequence as
// requests routed through SpawnQuantum.
var quantumIDSeq atomic.Int64

// NextQuantumID allocates the next quantum id from the shared sequence.
func NextQuantumID() int64 { return quantumIDSeq.Add(1) }

func (d *Dispatcher) spawnQuantum(parent *sched.Quantum, p Params) (int64, error) {
	priority, domainID, caps, affinity := int(p[0]), int64(p[1]), p[2], p[3]
	if _, err := d.mm.Domain(domainID); err != nil {
		return 0, err
	}
	id := NextQuantumID()
	child := sched.NewQuantum(id, "", priority, domainID, caps)
	child.Parent = parent.ID
	if affinity != noAffinity {
		child.Affinity = int(affinity)
	}
	d.sched.Enqueue(child)
	return id, nil
}

func (d *Dispatcher) terminateQuantum(caller *sched.Quantum, p Params) (int64, error) {
	target := caller
	if p[0] != 0 {
		q, ok := d.sched.Lookup(int64(p[0]))
		if !ok {
			return 0, kerr.New("dispatch.terminate_quantum", kerr.NotFound, "no such quantum")
		}
		target = q
	}
	d.sched.Terminate(target)
	d.signalTermination(target.ID)
	return 0, nil
}

func (d *Dispatcher) yieldCpu(q *sched.Quantum, p Params) (int64, error) {
	cpu := int(p[0])
	d.sched.Yield(cpu)
	return 0, nil
}

// waitForQuantum blocks the calling goroutine (modeling the calling
// quantum's CPU sitting in a blocking syscall, spec.md §5 "Suspension
// points... WaitForQuantum") until the target quantum terminates.
func (d *Dispatcher) waitForQuantum(ctx context.Context, q *sched.Quantum, p Params) (int64, error) {
	target := int64(p[0])
	ch := d.terminationChan(target)

	blocked := d.sched.BlockQuantum(q, sched.BlockWaitForQuantum) == nil
	if blocked {
		defer d.sched.Unblock(q)
	}

	select {
	case <-ch:
		return 0, nil
	case <-ctx.Done():
		return 0, kerr.New("dispatch.wait_for_quantum", kerr.Cancelled, "wait cancelled")
	}
}

func (d *Dispatcher) terminationChan(id int64) chan struct{} {
	d.termMu.Lock()
	defer d.termMu.Unlock()
	ch, ok := d.term[id]
	if !ok {
		ch = make(chan struct{})
		d.term[id] = ch
	}
	return ch
}

func (d *Dispatcher) signalTermination(id int64) {
	ch := d.terminationChan(id)
	select {
	case <-ch:
		// already signalled
	default:
		close(ch)
	}
}

// --- IPC requests (spec.md §4.D) ---

func (d *Dispatcher) createConduit(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	name, err := d.readString(dom, p[0], p[1])
	if err != nil {
		return 0, err
	}
	capacity := int(p[2])
	c, err := d.ipc.Create(name, capacity)
	if err != nil {
		return 0, err
	}
	return int64(d.putConduit(c)), nil
}

func (d *Dispatcher) openConduit(q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	name, err := d.readString(dom, p[0], p[1])
	if err != nil {
		return 0, err
	}
	c, err := d.ipc.Open(name)
	if err != nil {
		return 0, err
	}
	return int64(d.putConduit(c)), nil
}

func (d *Dispatcher) closeConduit(p Params) (int64, error) {
	handle := p[0]
	c, err := d.getConduit(handle)
	if err != nil {
		return 0, err
	}
	d.ipc.Close(c)
	d.dropConduit(handle)
	return 0, nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, q *sched.Quantum, p Params) (int64, error) {
	c, err := d.getConduit(p[0])
	if err != nil {
		return 0, err
	}
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	payload, err := d.readBytes(dom, p[1], p[2])
	if err != nil {
		return 0, err
	}
	flags := ipc.SendFlags(p[3])
	blocking := flags&ipc.NonBlocking == 0 && !c.ReadyToSend(len(payload))
	if blocking {
		// Best-effort: ReadyToSend's result can go stale before Send
		// actually waits, in which case Send just returns immediately and
		// the Unblock below runs a moment later than the state implies.
		// That's fine — the point is that a caller inspecting this
		// quantum's scheduling state sees Blocked for (at least roughly)
		// the span it spent waiting on the conduit (spec.md §4.E
		// "Suspension points"), not that the window is exact to the tick.
		_ = d.sched.BlockQuantum(q, sched.BlockSend)
	}
	err = c.Send(ctx, uint64(q.ID), payload, flags, time.Now())
	if blocking {
		_ = d.sched.Unblock(q)
	}
	if err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

func (d *Dispatcher) receiveMessage(ctx context.Context, q *sched.Quantum, p Params) (int64, error) {
	c, err := d.getConduit(p[0])
	if err != nil {
		return 0, err
	}
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	buf, err := d.readBytes(dom, p[1], p[2])
	if err != nil {
		return 0, err
	}
	flags := ipc.ReceiveFlags(p[3])
	blocking := flags&ipc.ReceiveNonBlocking == 0 && !c.ReadyToReceive()
	if blocking {
		_ = d.sched.BlockQuantum(q, sched.BlockReceive)
	}
	_, n, err := c.Receive(ctx, buf, flags)
	if blocking {
		_ = d.sched.Unblock(q)
	}
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (d *Dispatcher) peekMessage(q *sched.Quantum, p Params) (int64, error) {
	c, err := d.getConduit(p[0])
	if err != nil {
		return 0, err
	}
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	buf, err := d.readBytes(dom, p[1], p[2])
	if err != nil {
		return 0, err
	}
	_, n, err := c.Peek(buf)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// selectConduits supports a fixed two-case select over the uint64 params
// record: handle/op pairs in p[0..3], a millisecond timeout in p[4] (0 =
// poll, noAffinity's bit pattern reused as the "indefinite" sentinel
// since both mean "no finite bound" in their respective fields).
func (d *Dispatcher) selectConduits(ctx context.Context, p Params) (int64, error) {
	c0, err := d.getConduit(p[0])
	if err != nil {
		return 0, err
	}
	c1, err := d.getConduit(p[2])
	if err != nil {
		return 0, err
	}
	cases := []ipc.SelectCase{
		{Conduit: c0, Op: ipc.SelectOp(p[1])},
		{Conduit: c1, Op: ipc.SelectOp(p[3])},
	}
	timeout := time.Duration(p[4]) * time.Millisecond
	if p[4] == noAffinity {
		timeout = 24 * time.Hour // stand-in for "indefinite" within a context.Context deadline
	}
	idx, err := ipc.Select(ctx, cases, timeout)
	if err != nil {
		return 0, err
	}
	return int64(idx), nil
}

func (d *Dispatcher) broadcastMessage(ctx context.Context, q *sched.Quantum, p Params) (int64, error) {
	dom, err := d.domainOf(q)
	if err != nil {
		return 0, err
	}
	pattern, err := d.readString(dom, p[0], p[1])
	if err != nil {
		return 0, err
	}
	payload, err := d.readBytes(dom, p[2], p[3])
	if err != nil {
		return 0, err
	}
	res := d.ipc.Broadcast(ctx, uint64(q.ID), pattern, payload)
	return int64(res.Delivered), nil
}

// --- Meta requests ---

func (d *Dispatcher) queryStats(q *sched.Quantum, p Params) (int64, error) {
	target := q
	if p[0] != 0 {
		found, ok := d.sched.Lookup(int64(p[0]))
		if !ok {
			return 0, kerr.New("dispatch.query_stats", kerr.NotFound, "no such quantum")
		}
		target = found
	}
	return int64(target.StatsSnapshot().RequestCount), nil
}
