// Package ipc implements Conduits: named, bounded-buffer message channels
// between quanta (spec.md §4.D). A Conduit's ring buffer, wait queues, and
// the multi-conduit select path all live here; the registry that maps
// names to live conduits is the package's other half.
package ipc

import (
	"github.com/continuum-os/continuum/internal/wire"
)

// ring is a byte-addressable circular buffer storing header+payload
// messages (spec.md §4.D "Ring buffer. Single head/tail pair guarded by a
// spinlock... Wraparound is handled by reserving enough contiguous bytes
// before committing; if header would straddle the end, insert a padding
// marker and wrap."). The spinlock the spec describes is the Conduit's
// mutex one level up; ring itself assumes a single caller at a time.
//
// Padding is tracked as a FIFO of offsets rather than an in-buffer magic
// value: a trailing stretch too short to even hold the magic word would
// make an in-buffer marker ambiguous with real payload bytes once it
// wraps, so the ring instead remembers "head arriving at offset X means
// skip to 0" out of band.
type ring struct {
	buf        []byte
	head, tail int // byte offsets; tail == head means empty
	full       bool
	padAt      []int // offsets, in FIFO order, where a skip-to-0 pad starts
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) capacity() int { return len(r.buf) }

// usedBytes reports how many bytes of the ring are occupied.
func (r *ring) usedBytes() int {
	if r.full {
		return len(r.buf)
	}
	if r.tail >= r.head {
		return r.tail - r.head
	}
	return len(r.buf) - r.head + r.tail
}

func (r *ring) freeBytes() int { return len(r.buf) - r.usedBytes() }

// frameSize is the on-wire size of a message: header plus payload.
func frameSize(payloadLen int) int { return wire.HeaderSize + payloadLen }

// push writes one framed message (header+payload) into the ring,
// inserting a padding marker and wrapping if the header would otherwise
// straddle the end of the buffer. Returns WouldBlock-shaped error via the
// caller (ring itself just reports insufficient space).
func (r *ring) push(header wire.MessageHeader, payload []byte) bool {
	need := frameSize(len(payload))
	tailToEnd := len(r.buf) - r.tail

	// If the header alone would straddle the end, pad to the boundary
	// and wrap the write start to 0 (spec.md "padding marker").
	padded := 0
	if tailToEnd < wire.HeaderSize && tailToEnd > 0 {
		padded = tailToEnd
	}

	if r.freeBytes() < need+padded {
		return false
	}

	writeAt := r.tail
	if padded > 0 {
		r.padAt = append(r.padAt, writeAt)
		writeAt = 0
	}

	hdr := wire.MarshalHeader(header)
	writeAt = r.writeWrapping(writeAt, hdr)
	writeAt = r.writeWrapping(writeAt, payload)

	r.tail = writeAt
	if r.tail == r.head {
		r.full = true
	}
	return true
}

// isPaddingAt reports whether at is a recorded pad start. It does not
// mutate padAt: peekHeader/requiredSize call this on every peek, and a
// pad record must survive any number of peeks — it is only actually
// retired by consumePaddingAt once the ring's head truly advances past
// it in popInto.
func (r *ring) isPaddingAt(at int) bool {
	return len(r.padAt) > 0 && r.padAt[0] == at
}

// consumePaddingAt retires the recorded pad FIFO entry for at, if present.
func (r *ring) consumePaddingAt(at int) {
	if len(r.padAt) > 0 && r.padAt[0] == at {
		r.padAt = r.padAt[1:]
	}
}

func (r *ring) writeWrapping(at int, data []byte) int {
	for _, b := range data {
		r.buf[at] = b
		at = (at + 1) % len(r.buf)
	}
	return at
}

func (r *ring) readWrapping(at int, n int) ([]byte, int) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[at]
		at = (at + 1) % len(r.buf)
	}
	return out, at
}

// peekHeader returns the header of the next message without consuming it,
// skipping a padding run first if present.
func (r *ring) peekHeader() (wire.MessageHeader, int, bool) {
	if r.usedBytes() == 0 {
		return wire.MessageHeader{}, 0, false
	}
	at := r.head
	if r.isPaddingAt(at) {
		at = 0
	}
	if len(r.buf)-at < wire.HeaderSize {
		return wire.MessageHeader{}, 0, false
	}
	raw, _ := r.readWrapping(at, wire.HeaderSize)
	h, err := wire.UnmarshalHeader(raw)
	if err != nil {
		return wire.MessageHeader{}, 0, false
	}
	return h, at, true
}

// pop consumes the next message, copying its payload into dst (bounded by
// len(dst)). Returns the header, the number of payload bytes copied, and
// whether a message was available. kerr.MessageTooLarge is signalled by
// the caller comparing header.Size to len(dst).
func (r *ring) popInto(dst []byte) (wire.MessageHeader, int, bool) {
	h, at, ok := r.peekHeader()
	if !ok {
		return wire.MessageHeader{}, 0, false
	}
	// peekHeader never mutates padAt, however many times it (or
	// requiredSize) was called before this pop; retire the pad record
	// here, the one point where head actually advances past it.
	r.consumePaddingAt(r.head)
	payloadAt := (at + wire.HeaderSize) % len(r.buf)
	n := int(h.Size)
	if n > len(dst) {
		n = len(dst)
	}
	payload, next := r.readWrapping(payloadAt, n)
	copy(dst, payload)

	// Advance head past the whole frame, not just what fit in dst.
	r.head = (payloadAt + int(h.Size)) % len(r.buf)
	r.full = false
	_ = next
	return h, n, true
}

// requiredSize returns the full payload size of the next message without
// consuming it, used when the caller's buffer was too small.
func (r *ring) requiredSize() (int, bool) {
	h, _, ok := r.peekHeader()
	if !ok {
		return 0, false
	}
	return int(h.Size), true
}
