package graph

import (
	"context"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// Priority ranks executions competing for governed capacity. Higher
// priorities refill faster; lower ones are throttled harder under load.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityNormal
	PriorityLow
	PriorityBackground
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "normal"
	}
}

// weight is the refill multiplier applied to the shared rate per priority.
func (p Priority) weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.5
	case PriorityLow:
		return 0.6
	case PriorityBackground:
		return 0.5
	default:
		return 1.0
	}
}

// GovernorConfig tunes the shared resource governor.
type GovernorConfig struct {
	// RatePerSecond is the base token refill rate before priority
	// weighting. Default 10.
	RatePerSecond float64

	// Burst is the bucket capacity. Default 2x the rate.
	Burst float64

	// StarvationAfter escalates a waiter one priority level after it has
	// waited this long, so background work cannot starve forever.
	// Default 30s.
	StarvationAfter time.Duration

	// HeapSoftLimit throttles admissions (halves the effective rate) while
	// the Go heap is above this many bytes. Zero disables heap
	// adaptation.
	HeapSoftLimit uint64

	// HeapHardLimit admits only PriorityCritical work while the heap is
	// above this many bytes. Zero disables the hard watermark.
	HeapHardLimit uint64

	// CPUSoftLimit scales the refill rate down in proportion to how far
	// process CPU utilization (0..1) exceeds it. Zero disables.
	CPUSoftLimit float64

	// CPUHardLimit admits only PriorityCritical work while utilization is
	// above it. Zero disables.
	CPUHardLimit float64

	// SampleEvery is how often the load gauges are re-read. Default 1s.
	SampleEvery time.Duration
}

func (c GovernorConfig) withDefaults() GovernorConfig {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = c.RatePerSecond * 2
	}
	if c.StarvationAfter <= 0 {
		c.StarvationAfter = 30 * time.Second
	}
	if c.SampleEvery <= 0 {
		c.SampleEvery = time.Second
	}
	return c
}

// loadSignal is one reading of the runtime gauges the governor adapts to.
type loadSignal struct {
	heapBytes  uint64
	cpuSeconds float64
}

type loadLevel int

const (
	loadNormal loadLevel = iota
	loadSoft
	loadHard
)

// Governor is a weighted token bucket shared by all executions of an
// engine. Each node attempt acquires a lease sized by its declared cost
// before running; priorities scale the effective charge, long waits
// escalate one level, and CPU or heap pressure throttles throughput.
// Past the hard watermark only critical work is admitted.
type Governor struct {
	mu         sync.Mutex
	cfg        GovernorConfig
	tokens     float64
	lastRefill time.Time
	lastSample time.Time
	lastCPU    float64
	level      loadLevel
	softScale  float64
	now        func() time.Time
	readLoad   func() loadSignal
}

// NewGovernor creates a full bucket.
func NewGovernor(cfg GovernorConfig) *Governor {
	cfg = cfg.withDefaults()
	now := time.Now()
	return &Governor{
		cfg:        cfg,
		tokens:     cfg.Burst,
		lastRefill: now,
		lastSample: now.Add(-cfg.SampleEvery),
		lastCPU:    -1,
		softScale:  1.0,
		now:        time.Now,
		readLoad:   readRuntimeLoad,
	}
}

// Lease is an acquired admission. Release returns nothing to the bucket
// (tokens are consumed, not borrowed) but records the hold duration for
// metrics.
type Lease struct {
	Priority   Priority
	Weight     float64
	AcquiredAt time.Time
	Waited     time.Duration
	Escalated  bool
}

// Acquire blocks until weight tokens are available at the given priority
// or the context ends. A non-positive weight charges as 1. Waiters past
// the starvation window are escalated one priority level for the
// remainder of their wait.
func (g *Governor) Acquire(ctx context.Context, weight float64, p Priority) (*Lease, error) {
	start := g.now()
	effective := p
	escalated := false
	for {
		if g.tryTake(weight, effective) {
			return &Lease{
				Priority:   p,
				Weight:     weight,
				AcquiredAt: g.now(),
				Waited:     g.now().Sub(start),
				Escalated:  escalated,
			}, nil
		}
		if !escalated && effective > PriorityCritical && g.now().Sub(start) >= g.cfg.StarvationAfter {
			effective--
			escalated = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.waitHint()):
		}
	}
}

// TryAcquire is a non-blocking Acquire.
func (g *Governor) TryAcquire(weight float64, p Priority) (*Lease, bool) {
	if g.tryTake(weight, p) {
		now := g.now()
		return &Lease{Priority: p, Weight: weight, AcquiredAt: now}, true
	}
	return nil, false
}

func (g *Governor) tryTake(weight float64, p Priority) bool {
	if weight <= 0 {
		weight = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	if g.level == loadHard && p != PriorityCritical {
		return false
	}
	// priority scales the charge inversely: a critical caller pays less
	// of the bucket per admitted weight than a background one
	charge := weight / p.weight()
	if g.tokens < charge {
		return false
	}
	g.tokens -= charge
	return true
}

func (g *Governor) refillLocked() {
	now := g.now()
	elapsed := now.Sub(g.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	g.lastRefill = now

	if now.Sub(g.lastSample) >= g.cfg.SampleEvery {
		interval := now.Sub(g.lastSample)
		g.lastSample = now
		g.classifyLoadLocked(g.readLoad(), interval)
	}
	g.tokens += g.cfg.RatePerSecond * g.softScale * elapsed
	if g.tokens > g.cfg.Burst {
		g.tokens = g.cfg.Burst
	}
}

// classifyLoadLocked maps one gauge reading to a load level and rate
// scale. CPU utilization is the cumulative cpu-seconds delta over the
// sampling interval across all cores.
func (g *Governor) classifyLoadLocked(sig loadSignal, interval time.Duration) {
	util := 0.0
	if g.lastCPU >= 0 && interval > 0 {
		util = (sig.cpuSeconds - g.lastCPU) / (interval.Seconds() * float64(runtime.NumCPU()))
	}
	g.lastCPU = sig.cpuSeconds

	switch {
	case (g.cfg.CPUHardLimit > 0 && util > g.cfg.CPUHardLimit) ||
		(g.cfg.HeapHardLimit > 0 && sig.heapBytes > g.cfg.HeapHardLimit):
		g.level = loadHard
		g.softScale = 0
	case g.cfg.CPUSoftLimit > 0 && util > g.cfg.CPUSoftLimit:
		g.level = loadSoft
		g.softScale = g.cfg.CPUSoftLimit / util
	case g.cfg.HeapSoftLimit > 0 && sig.heapBytes > g.cfg.HeapSoftLimit:
		g.level = loadSoft
		g.softScale = 0.5
	default:
		g.level = loadNormal
		g.softScale = 1.0
	}
}

// readRuntimeLoad samples the runtime heap and CPU gauges.
func readRuntimeLoad() loadSignal {
	samples := []metrics.Sample{
		{Name: "/memory/classes/heap/objects:bytes"},
		{Name: "/cpu/classes/total:cpu-seconds"},
	}
	metrics.Read(samples)
	var sig loadSignal
	if samples[0].Value.Kind() == metrics.KindUint64 {
		sig.heapBytes = samples[0].Value.Uint64()
	}
	if samples[1].Value.Kind() == metrics.KindFloat64 {
		sig.cpuSeconds = samples[1].Value.Float64()
	}
	return sig
}

// waitHint is the polling interval while blocked: roughly one token's
// worth of refill, clamped to a sane range.
func (g *Governor) waitHint() time.Duration {
	d := time.Duration(float64(time.Second) / g.cfg.RatePerSecond)
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	if d > 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	return d
}

// Tokens reports the current bucket level, for metrics and tests.
func (g *Governor) Tokens() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	return g.tokens
}
