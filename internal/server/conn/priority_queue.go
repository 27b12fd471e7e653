// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package conn

import "github.com/jtkristinsson/fleetresv/internal/wire"

// priorityQueue holds messages received on one connection, bucketed by
// priority class 0..MAX_PRIORITY (§4.8). It is local to the
// connection — there is no cross-connection priority, so no locking is
// needed beyond the handler's own single-goroutine receive loop.
type priorityQueue struct {
	buckets [wire.MaxPriority + 1][]*wire.Message
	size    int
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{}
}

// enqueue adds m to its priority class, clamped into [0, MAX_PRIORITY].
func (q *priorityQueue) enqueue(m *wire.Message) {
	p := clampPriority(m.Priority)
	q.buckets[p] = append(q.buckets[p], m)
	q.size++
}

// dequeueHighest pops the earliest-arrived message from the
// highest non-empty priority class: strict priority across classes,
// FIFO within one (§4.8, §8 invariant 8).
func (q *priorityQueue) dequeueHighest() (*wire.Message, bool) {
	for p := wire.MaxPriority; p >= 0; p-- {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		m := bucket[0]
		q.buckets[p] = bucket[1:]
		q.size--
		return m, true
	}
	return nil, false
}

func (q *priorityQueue) empty() bool { return q.size == 0 }

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > wire.MaxPriority {
		return wire.MaxPriority
	}
	return p
}
