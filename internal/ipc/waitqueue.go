package ipc

import "container/list"

// waiter is one blocked caller's wakeup channel. Closing ch wakes it;
// cancelled distinguishes a conduit-closing wakeup (wakeAllCancelled)
// from a normal "condition satisfied, go retry" wakeup; a timed-out wait
// never sets it.
type waiter struct {
	ch        chan struct{}
	cancelled bool
}

// waitQueue is an explicit FIFO of blocked send/receive callers (spec.md
// §4.D "the calling quantum is placed on the writers/readers wait
// queue"). wake always pops the head, matching "if the readers queue is
// non-empty, the head reader is unblocked".
type waitQueue struct {
	l *list.List
}

func newWaitQueue() *waitQueue { return &waitQueue{l: list.New()} }

// enqueue registers a new waiter and returns a handle the caller blocks
// on and later uses to remove itself (e.g. on select cancellation).
func (q *waitQueue) enqueue() (*waiter, *list.Element) {
	w := &waiter{ch: make(chan struct{})}
	el := q.l.PushBack(w)
	return w, el
}

// wakeHead pops and wakes the longest-waiting caller. Returns false if the
// queue was empty.
func (q *waitQueue) wakeHead() bool {
	el := q.l.Front()
	if el == nil {
		return false
	}
	q.l.Remove(el)
	w := el.Value.(*waiter)
	close(w.ch)
	return true
}

// wakeAllCancelled wakes every waiter with cancelled=true, used when a
// conduit transitions to Closing/Closed so no peer waits forever on a
// pipe that is going away (spec.md "any still-waiting peers receive Pipe
// error on their call").
func (q *waitQueue) wakeAllCancelled() {
	for el := q.l.Front(); el != nil; el = q.l.Front() {
		q.l.Remove(el)
		w := el.Value.(*waiter)
		w.cancelled = true
		close(w.ch)
	}
}

// remove cancels a single registration, used when a select on multiple
// conduits resolves via a different conduit and the others must be
// de-registered (spec.md "the selection registrations are canceled on all
// other conduits").
func (q *waitQueue) remove(el *list.Element) {
	// Guard against the element already having been popped by a wake.
	for e := q.l.Front(); e != nil; e = e.Next() {
		if e == el {
			q.l.Remove(el)
			return
		}
	}
}

func (q *waitQueue) len() int { return q.l.Len() }
