package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/kerr"
	"github.com/continuum-os/continuum/internal/wire"
)

// State is a Conduit's lifecycle state (spec.md §4.D "close(c)... When
// refcount reaches zero and state is Closed, the conduit is destroyed").
type State int

const (
	Open State = iota
	Closing
	Closed
	Error
)

// SendFlags modify Send/Broadcast behavior.
type SendFlags uint32

const (
	NonBlocking SendFlags = 1 << iota
)

// Conduit is a named, bounded-buffer message channel (spec.md §3
// "Conduit").
type Conduit struct {
	Name string

	mu       sync.Mutex
	ring     *ring
	state    State
	refcount int32
	readers  *waitQueue
	writers  *waitQueue

	obs interfaces.Observer
}

func newConduit(name string, capacity int, obs interfaces.Observer) *Conduit {
	return &Conduit{
		Name:     name,
		ring:     newRing(capacity),
		state:    Open,
		refcount: 1,
		readers:  newWaitQueue(),
		writers:  newWaitQueue(),
		obs:      obs,
	}
}

func (c *Conduit) retain() { atomic.AddInt32(&c.refcount, 1) }

// release decrements refcount and reports whether it reached zero.
func (c *Conduit) release() bool {
	return atomic.AddInt32(&c.refcount, -1) == 0
}

// beginClosing marks the conduit Closing and wakes every waiter with a
// pending Pipe error (spec.md "any still-waiting peers receive Pipe error
// on their call").
func (c *Conduit) beginClosing() {
	c.mu.Lock()
	c.state = Closing
	c.readers.wakeAllCancelled()
	c.writers.wakeAllCancelled()
	c.mu.Unlock()
}

func (c *Conduit) finalize() {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
}

// Send frames and enqueues bytes, blocking (unless flags.NonBlocking) if
// the ring lacks space (spec.md §4.D "send").
func (c *Conduit) Send(ctx context.Context, sender uint64, payload []byte, flags SendFlags, now time.Time) error {
	if len(payload) > constants.MaxMessageSize {
		return kerr.NewConduit("ipc.send", c.Name, kerr.MessageTooLarge, "payload exceeds max message size")
	}

	for {
		c.mu.Lock()
		switch c.state {
		case Closing, Closed:
			c.mu.Unlock()
			return kerr.NewConduit("ipc.send", c.Name, kerr.Pipe, "conduit is closing or closed")
		case Error:
			c.mu.Unlock()
			return kerr.NewConduit("ipc.send", c.Name, kerr.Broken, "conduit is in error state")
		}

		header := wire.MessageHeader{Sender: sender, Size: uint32(len(payload)), Timestamp: uint64(now.UnixNano())}
		if c.ring.push(header, payload) {
			c.readers.wakeHead()
			depth := c.ring.usedBytes()
			c.mu.Unlock()
			if c.obs != nil {
				c.obs.ObserveSend(c.Name, uint64(len(payload)), 0, true)
				c.obs.ObserveQueueDepth(c.Name, uint32(depth))
			}
			return nil
		}

		if flags&NonBlocking != 0 {
			c.mu.Unlock()
			if c.obs != nil {
				c.obs.ObserveSend(c.Name, uint64(len(payload)), 0, false)
			}
			return kerr.NewConduit("ipc.send", c.Name, kerr.WouldBlock, "ring buffer full")
		}

		w, el := c.writers.enqueue()
		c.mu.Unlock()

		if err := waitOn(ctx, w); err != nil {
			c.mu.Lock()
			c.writers.remove(el)
			c.mu.Unlock()
			return kerr.NewConduit("ipc.send", c.Name, kerr.Cancelled, "send wait cancelled")
		}
		if w.cancelled {
			return kerr.NewConduit("ipc.send", c.Name, kerr.Pipe, "conduit closed while waiting to send")
		}
	}
}

// ReceiveFlags modify Receive/Peek behavior.
type ReceiveFlags uint32

const (
	ReceiveNonBlocking ReceiveFlags = 1 << iota
)

// Receive copies the next message into buf (spec.md §4.D "receive").
// Returns the header and the number of payload bytes copied. If buf is
// too small for the waiting message, the message is left in the buffer
// and MessageTooLarge is returned with the required payload size as the
// int result.
func (c *Conduit) Receive(ctx context.Context, buf []byte, flags ReceiveFlags) (wire.MessageHeader, int, error) {
	for {
		c.mu.Lock()
		if need, ok := c.ring.requiredSize(); ok && need > len(buf) {
			c.mu.Unlock()
			return wire.MessageHeader{}, need, kerr.NewConduit("ipc.receive", c.Name, kerr.MessageTooLarge, "caller buffer too small")
		}

		if h, n, ok := c.ring.popInto(buf); ok {
			c.writers.wakeHead()
			c.mu.Unlock()
			if c.obs != nil {
				c.obs.ObserveReceive(c.Name, uint64(n), 0, true)
			}
			return h, n, nil
		}

		switch c.state {
		case Closed:
			c.mu.Unlock()
			return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.receive", c.Name, kerr.Pipe, "conduit closed")
		}

		if flags&ReceiveNonBlocking != 0 {
			c.mu.Unlock()
			return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.receive", c.Name, kerr.WouldBlock, "ring buffer empty")
		}

		w, el := c.readers.enqueue()
		c.mu.Unlock()

		if err := waitOn(ctx, w); err != nil {
			c.mu.Lock()
			c.readers.remove(el)
			c.mu.Unlock()
			return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.receive", c.Name, kerr.Cancelled, "receive wait cancelled")
		}
		if w.cancelled {
			return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.receive", c.Name, kerr.Pipe, "conduit closed while waiting to receive")
		}
	}
}

// Peek returns the next message without consuming it (spec.md §4.D
// "peek"): same failure modes as Receive minus the blocking.
func (c *Conduit) Peek(buf []byte) (wire.MessageHeader, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	need, ok := c.ring.requiredSize()
	if !ok {
		return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.peek", c.Name, kerr.WouldBlock, "ring buffer empty")
	}
	if need > len(buf) {
		return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.peek", c.Name, kerr.MessageTooLarge, "caller buffer too small")
	}
	h, _, ok := c.ring.peekHeader()
	if !ok {
		return wire.MessageHeader{}, 0, kerr.NewConduit("ipc.peek", c.Name, kerr.WouldBlock, "ring buffer empty")
	}
	payloadAt := (mustPeekOffset(c.ring) + wire.HeaderSize) % len(c.ring.buf)
	payload, _ := c.ring.readWrapping(payloadAt, int(h.Size))
	copy(buf, payload)
	return h, len(payload), nil
}

func mustPeekOffset(r *ring) int {
	_, at, _ := r.peekHeader()
	return at
}

// ReadyToReceive reports whether a Receive would succeed without
// blocking, used by Select's readiness poll.
func (c *Conduit) ReadyToReceive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ring.requiredSize()
	return ok
}

// ReadyToSend reports whether a Send would succeed without blocking.
func (c *Conduit) ReadyToSend(payloadLen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.freeBytes() >= frameSize(payloadLen)
}

// waitOn blocks until w wakes or ctx is cancelled/times out.
func waitOn(ctx context.Context, w *waiter) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
