// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package perfstats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtkristinsson/fleetresv/internal/wire"
)

func TestRecordAggregatesMinMaxSum(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.Record(wire.TypeReserveRequest, 10*time.Millisecond, true)
	c.Record(wire.TypeReserveRequest, 30*time.Millisecond, false)

	snaps := c.Snapshot()
	require.Len(t, snaps, 1)
	s := snaps[0]
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, int64(1), s.Successes)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.Equal(t, 20*time.Millisecond, s.Average())
}

func TestSnapshotSeparatesRequestTypes(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.Record(wire.TypeLogin, time.Millisecond, true)
	c.Record(wire.TypeLogout, time.Millisecond, true)

	assert.Len(t, c.Snapshot(), 2)
	assert.Equal(t, int64(2), c.TotalRequests())
}
