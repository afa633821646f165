// Package stats collects online duration statistics for pool operations.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Collector incrementally collects count, min, max, average, and variance
// via the Add() method using Welford's algorithm.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
type Collector struct {
	mu        sync.Mutex
	count     float64
	min       float64
	max       float64
	avg       float64
	meanDist2 float64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Add accumulates `x` into the collected statistics.
func (c *Collector) Add(x float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count += 1.0
	if x < c.min {
		c.min = x
	}
	if x > c.max {
		c.max = x
	}
	delta := x - c.avg
	c.avg += delta / c.count
	delta2 := x - c.avg
	c.meanDist2 += delta * delta2
}

// Snapshot is a point-in-time summary of a collector.
type Snapshot struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Var    float64 `json:"var"`
	StdDev float64 `json:"stddev"`
}

// Snapshot summarizes the collected statistics. An empty collector
// summarizes to the zero Snapshot rather than NaNs so that snapshots
// always survive JSON encoding.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return Snapshot{}
	}

	v := c.meanDist2 / c.count
	return Snapshot{
		Count:  int(c.count),
		Min:    c.min,
		Max:    c.max,
		Avg:    c.avg,
		Var:    v,
		StdDev: math.Sqrt(v),
	}
}

// Timer measures one duration into a collector.
type Timer struct {
	c     *Collector
	start time.Time
}

// Start starts a duration measurement.
func (c *Collector) Start() Timer {
	return Timer{c, time.Now()}
}

// End finishes a duration measurement and adds the number of seconds into
// the collected statistics.
func (t *Timer) End() {
	t.c.Add(time.Since(t.start).Seconds())
}

// Set is a group of named collectors, fixed at construction.
type Set struct {
	cs map[string]*Collector
}

// NewSet returns a set with one empty collector per key.
func NewSet(keys ...string) *Set {
	cs := make(map[string]*Collector, len(keys))
	for _, k := range keys {
		cs[k] = NewCollector()
	}
	return &Set{cs: cs}
}

// Start begins a duration measurement on the named collector.
// Unknown keys panic: the set is fixed at construction.
func (s *Set) Start(key string) Timer {
	c := s.cs[key]
	if c == nil {
		panic("stats: unknown key " + key)
	}
	return c.Start()
}

// Add accumulates `x` into the named collector.
func (s *Set) Add(key string, x float64) {
	c := s.cs[key]
	if c == nil {
		panic("stats: unknown key " + key)
	}
	c.Add(x)
}

// Keys returns the collector names in sorted order.
func (s *Set) Keys() []string {
	ks := lo.Keys(s.cs)
	sort.Strings(ks)
	return ks
}

// Snapshot summarizes every collector in the set.
func (s *Set) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot, len(s.cs))
	for k, c := range s.cs {
		out[k] = c.Snapshot()
	}
	return out
}
