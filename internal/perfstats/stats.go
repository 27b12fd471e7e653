// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfstats implements the "strictly observational" performance
// counters §4.8 requires per request type: total/min/max/sum latency
// plus success/fail counts. It is grounded on the teacher's
// InMemoryCollector, narrowed from an HTTP-call shape to the server's
// per-wire-request-type shape, and additionally mirrors every counter
// into prometheus/client_golang so the same data can be scraped on
// /metrics (SPEC_FULL.md §4.11).
package perfstats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jtkristinsson/fleetresv/internal/wire"
)

// Snapshot is a race-free copy of one request type's counters.
type Snapshot struct {
	RequestType string
	Count       int64
	Successes   int64
	Failures    int64
	Min         time.Duration
	Max         time.Duration
	Sum         time.Duration
}

// Average returns Sum/Count, or zero if Count is zero.
func (s Snapshot) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return time.Duration(int64(s.Sum) / s.Count)
}

type counter struct {
	mu        sync.Mutex
	count     int64
	successes int64
	failures  int64
	min       time.Duration
	max       time.Duration
	sum       time.Duration
}

func newCounter() *counter {
	return &counter{min: time.Duration(1<<63 - 1)}
}

func (c *counter) record(d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.sum += d
	if ok {
		c.successes++
	} else {
		c.failures++
	}
	if d < c.min {
		c.min = d
	}
	if d > c.max {
		c.max = d
	}
}

func (c *counter) snapshot(requestType string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	min := c.min
	if c.count == 0 {
		min = 0
	}
	return Snapshot{
		RequestType: requestType,
		Count:       c.count,
		Successes:   c.successes,
		Failures:    c.failures,
		Min:         min,
		Max:         c.max,
		Sum:         c.sum,
	}
}

// Collector is the process-wide performance counter registry, keyed by
// request type (LOGIN, RESERVE_REQUEST, ...). The map lock is taken for
// writing only on the first touch of a new request type; every other
// Record takes it for reading and then locks that type's counter.
type Collector struct {
	mu       sync.RWMutex
	counters map[wire.Type]*counter

	promCount   *prometheus.CounterVec
	promLatency *prometheus.HistogramVec
}

// NewCollector creates an empty collector, registering its Prometheus
// vectors against reg. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		counters: make(map[wire.Type]*counter),
		promCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetresv",
			Name:      "requests_total",
			Help:      "Total requests handled, by wire request type and outcome.",
		}, []string{"request_type", "outcome"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetresv",
			Name:      "request_duration_seconds",
			Help:      "Request handling latency, by wire request type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"request_type"}),
	}
	if reg != nil {
		reg.MustRegister(c.promCount, c.promLatency)
	}
	return c
}

// Record records one request's outcome and latency, per §4.8 ("each
// request records latency into the process-wide performance
// counters").
func (c *Collector) Record(t wire.Type, d time.Duration, ok bool) {
	c.mu.RLock()
	ctr, exists := c.counters[t]
	c.mu.RUnlock()
	if !exists {
		c.mu.Lock()
		ctr, exists = c.counters[t]
		if !exists {
			ctr = newCounter()
			c.counters[t] = ctr
		}
		c.mu.Unlock()
	}
	ctr.record(d, ok)

	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.promCount.WithLabelValues(t.String(), outcome).Inc()
	c.promLatency.WithLabelValues(t.String()).Observe(d.Seconds())
}

// Snapshot returns a copy of every request type's counters, for the UI
// collaborator interface and the dashboard (§6, §4.11).
func (c *Collector) Snapshot() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.counters))
	for t, ctr := range c.counters {
		out = append(out, ctr.snapshot(t.String()))
	}
	return out
}

// TotalRequests is exposed for cheap health checks without building a
// full snapshot slice.
func (c *Collector) TotalRequests() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, ctr := range c.counters {
		ctr.mu.Lock()
		total += ctr.count
		ctr.mu.Unlock()
	}
	return total
}
