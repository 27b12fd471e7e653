// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtkristinsson/fleetresv/internal/wire"
)

func TestDequeuePrefersHigherPriority(t *testing.T) {
	q := newPriorityQueue()
	low := wire.NewMessage(wire.TypePing)
	low.Priority = 1
	high := wire.NewMessage(wire.TypePing)
	high.Priority = 9

	q.enqueue(low)
	q.enqueue(high)

	m, ok := q.dequeueHighest()
	require.True(t, ok)
	assert.Same(t, high, m)

	m, ok = q.dequeueHighest()
	require.True(t, ok)
	assert.Same(t, low, m)
}

func TestDequeueIsFIFOWithinPriority(t *testing.T) {
	q := newPriorityQueue()
	first := wire.NewMessage(wire.TypePing, "1")
	second := wire.NewMessage(wire.TypePing, "2")
	q.enqueue(first)
	q.enqueue(second)

	m, _ := q.dequeueHighest()
	assert.Equal(t, "1", m.Arg(0))
	m, _ = q.dequeueHighest()
	assert.Equal(t, "2", m.Arg(0))
}

func TestPriorityClampedToBounds(t *testing.T) {
	q := newPriorityQueue()
	m := wire.NewMessage(wire.TypePing)
	m.Priority = 999
	q.enqueue(m)
	assert.Len(t, q.buckets[wire.MaxPriority], 1)
}

func TestEmptyQueueDequeueFails(t *testing.T) {
	q := newPriorityQueue()
	_, ok := q.dequeueHighest()
	assert.False(t, ok)
	assert.True(t, q.empty())
}
