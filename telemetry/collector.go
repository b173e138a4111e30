// Package telemetry provides processor timing, window stats, CSV traces and prometheus metrics.
package telemetry

import (
	"math"

	"github.com/pthm-cable/offrails/components"
)

// Collector accumulates processor events within windows of simulated time
// and produces WindowStats. A nil *Collector ignores every event.
type Collector struct {
	window      float64
	windowStart float64

	ticks             int
	solves            int
	cacheHits         int
	failures          int
	behaviourFailures int
	anomalies         int
	changepoints      int
}

// NewCollector creates a collector whose windows last window simulated seconds.
func NewCollector(window, start float64) *Collector {
	if window <= 0 {
		window = 3600
	}
	return &Collector{window: window, windowStart: start}
}

// RecordTick records a processor tick.
func (c *Collector) RecordTick() {
	if c == nil {
		return
	}
	c.ticks++
}

// RecordSolve records a solver run.
func (c *Collector) RecordSolve(cacheHit bool) {
	if c == nil {
		return
	}
	c.solves++
	if cacheHit {
		c.cacheHits++
	}
}

// RecordFailure records a solver failure.
func (c *Collector) RecordFailure() {
	if c == nil {
		return
	}
	c.failures++
}

// RecordBehaviourFailure records a behaviour query that errored or panicked.
func (c *Collector) RecordBehaviourFailure() {
	if c == nil {
		return
	}
	c.behaviourFailures++
}

// RecordAnomalies records sanitised data anomalies.
func (c *Collector) RecordAnomalies(n int) {
	if c == nil {
		return
	}
	c.anomalies += n
}

// RecordChangepoint records a changepoint step taken by Advance.
func (c *Collector) RecordChangepoint() {
	if c == nil {
		return
	}
	c.changepoints++
}

// ShouldFlush returns true if enough simulated time has passed to flush the window.
func (c *Collector) ShouldFlush(now float64) bool {
	return c != nil && now-c.windowStart >= c.window
}

// Pools holds resource totals sampled at window end.
type Pools struct {
	Rates      []float64 // converter activations
	Fills      []float64 // fill fraction per bounded inventory
	Amount     float64
	Capacity   float64
	NetRate    float64
	ActiveTime float64
}

// Sample adds one processor's converters and inventories to the pools.
func (p *Pools) Sample(convs []*components.Converter, invs []components.Inventory) {
	for _, c := range convs {
		p.Rates = append(p.Rates, c.Rate)
		p.ActiveTime += c.ActiveTime
	}
	for i := range invs {
		inv := &invs[i]
		p.Amount += inv.Amount
		p.NetRate += inv.Rate
		if inv.Unbounded() {
			continue
		}
		p.Capacity += inv.MaxAmount
		if inv.MaxAmount > 0 {
			p.Fills = append(p.Fills, math.Min(inv.Amount/inv.MaxAmount, 1))
		}
	}
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(now float64, vessels int, pools Pools) WindowStats {
	var hitRate float64
	if c.solves > 0 {
		hitRate = float64(c.cacheHits) / float64(c.solves)
	}

	rateMean, rateP10, rateP50, rateP90 := Distribution(pools.Rates)
	fillMean, fillP10, fillP50, fillP90 := Distribution(pools.Fills)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   now,
		Vessels:     vessels,

		Ticks:             c.ticks,
		Solves:            c.solves,
		CacheHits:         c.cacheHits,
		Failures:          c.failures,
		BehaviourFailures: c.behaviourFailures,
		Anomalies:         c.anomalies,
		Changepoints:      c.changepoints,
		CacheHitRate:      hitRate,

		RateMean: rateMean,
		RateP10:  rateP10,
		RateP50:  rateP50,
		RateP90:  rateP90,

		FillMean: fillMean,
		FillP10:  fillP10,
		FillP50:  fillP50,
		FillP90:  fillP90,

		TotalAmount:   pools.Amount,
		TotalCapacity: pools.Capacity,
		NetRate:       pools.NetRate,
		ActiveTime:    pools.ActiveTime,
	}

	// Reset for next window
	c.windowStart = now
	c.ticks = 0
	c.solves = 0
	c.cacheHits = 0
	c.failures = 0
	c.behaviourFailures = 0
	c.anomalies = 0
	c.changepoints = 0

	return stats
}

// Window returns the window length in simulated seconds.
func (c *Collector) Window() float64 {
	return c.window
}
