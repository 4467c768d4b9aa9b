package sched

import "container/list"

// readyQueues holds one FIFO list per priority level for a single CPU.
// Enqueue/Remove are O(1) via the intrusive list.Element handle each
// quantum's entry carries; Schedule picks the head of the
// highest-occupied priority list (spec.md §4.C "priority queues, strict
// priority with FIFO ordering within a level").
type readyQueues struct {
	levels  []*list.List
	handles map[int64]*list.Element
	size    int
}

type queuedQuantum struct {
	q *Quantum
}

func newReadyQueues(numPriorities int) *readyQueues {
	rq := &readyQueues{
		levels:  make([]*list.List, numPriorities),
		handles: make(map[int64]*list.Element),
	}
	for i := range rq.levels {
		rq.levels[i] = list.New()
	}
	return rq
}

// push enqueues q at the tail of its priority level.
func (rq *readyQueues) push(q *Quantum) {
	el := rq.levels[q.Priority].PushBack(&queuedQuantum{q: q})
	rq.handles[q.ID] = el
	rq.size++
}

// popHighest removes and returns the head of the highest-occupied
// priority level (spec.md §4.C "Scan priorities 4->0; first non-empty
// wins" — highest numeric Priority value runs first).
func (rq *readyQueues) popHighest() *Quantum {
	for i := len(rq.levels) - 1; i >= 0; i-- {
		l := rq.levels[i]
		if el := l.Front(); el != nil {
			qq := l.Remove(el).(*queuedQuantum)
			delete(rq.handles, qq.q.ID)
			rq.size--
			return qq.q
		}
	}
	return nil
}

// remove deletes q from wherever it sits in the ready queues, O(1) via the
// stored list.Element handle. Returns false if q was not enqueued.
func (rq *readyQueues) remove(q *Quantum) bool {
	el, ok := rq.handles[q.ID]
	if !ok {
		return false
	}
	rq.levels[q.Priority].Remove(el)
	delete(rq.handles, q.ID)
	rq.size--
	return true
}

// popHighestAt removes and returns the head of a specific priority level.
func (rq *readyQueues) popHighestAt(priority int) *Quantum {
	l := rq.levels[priority]
	el := l.Front()
	if el == nil {
		return nil
	}
	qq := l.Remove(el).(*queuedQuantum)
	delete(rq.handles, qq.q.ID)
	rq.size--
	return qq.q
}

func (rq *readyQueues) len() int { return rq.size }

// highestLevel returns the highest occupied priority level, or false if
// every level is empty. Used by Tick to decide whether a waiting task
// outranks the one currently running.
func (rq *readyQueues) highestLevel() (int, bool) {
	for i := len(rq.levels) - 1; i >= 0; i-- {
		if rq.levels[i].Len() > 0 {
			return i, true
		}
	}
	return 0, false
}

// lenAt reports the queue depth at a single priority level, used by the
// load balancer to find the busiest level to steal from.
func (rq *readyQueues) lenAt(priority int) int {
	return rq.levels[priority].Len()
}
