package ipc

import (
	"container/list"
	"context"
	"time"

	"github.com/continuum-os/continuum/internal/kerr"
)

// SelectOp is one leg of a multi-conduit select: either a pending receive
// or a pending send against payloadLen bytes (spec.md "select(conduits[],
// ops[], timeout) -> first_ready_index").
type SelectOp int

const (
	SelectReceive SelectOp = iota
	SelectSend
)

// SelectCase describes one conduit+operation pair to wait on.
type SelectCase struct {
	Conduit    *Conduit
	Op         SelectOp
	PayloadLen int // only meaningful for SelectSend
}

// Select registers the caller on every case's wait queue and blocks until
// one becomes ready, a timeout elapses, or ctx is cancelled. timeout <= 0
// is a poll (spec.md "timeout == 0 is a poll"); timeout < 0 from the
// caller's perspective is treated the same as 0 here, with "indefinite"
// expressed by passing a context with no deadline and a very large
// timeout value by convention of the caller (dispatcher maps the wire
// protocol's timeout encoding to this).
func Select(ctx context.Context, cases []SelectCase, timeout time.Duration) (int, error) {
	// Fast path / poll: check readiness without registering anything.
	for i, c := range cases {
		if ready(c) {
			return i, nil
		}
	}
	if timeout <= 0 {
		return -1, kerr.New("ipc.select", kerr.WouldBlock, "no case ready")
	}

	type reg struct {
		w  *waiter
		el *list.Element
		q  *waitQueue
	}
	regs := make([]reg, len(cases))
	for i, c := range cases {
		q := c.Conduit.readers
		if c.Op == SelectSend {
			q = c.Conduit.writers
		}
		c.Conduit.mu.Lock()
		w, el := q.enqueue()
		c.Conduit.mu.Unlock()
		regs[i] = reg{w: w, el: el, q: q}
	}

	cleanup := func(except int) {
		for i, rg := range regs {
			if i == except {
				continue
			}
			cases[i].Conduit.mu.Lock()
			rg.q.remove(rg.el)
			cases[i].Conduit.mu.Unlock()
		}
	}

	selectCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		selectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// A select with many cases needs one wake site: fan the per-case
	// waiter channels into one by starting a goroutine per case that
	// forwards its index to woken when its waiter fires; each goroutine
	// exits when selectCtx is done.
	woken := make(chan int, len(regs))
	for i, rg := range regs {
		i, rg := i, rg
		go func() {
			select {
			case <-rg.w.ch:
				woken <- i
			case <-selectCtx.Done():
			}
		}()
	}

	select {
	case i := <-woken:
		cleanup(i)
		if regs[i].w.cancelled {
			return -1, kerr.NewConduit("ipc.select", cases[i].Conduit.Name, kerr.Pipe, "conduit closed while selecting")
		}
		return i, nil
	case <-selectCtx.Done():
		cleanup(-1)
		if ctx.Err() != nil {
			return -1, kerr.New("ipc.select", kerr.Cancelled, "select cancelled")
		}
		return -1, kerr.New("ipc.select", kerr.WouldBlock, "select timed out")
	}
}

func ready(c SelectCase) bool {
	if c.Op == SelectReceive {
		return c.Conduit.ReadyToReceive()
	}
	return c.Conduit.ReadyToSend(c.PayloadLen)
}
