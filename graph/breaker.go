package graph

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState int

const (
	// BreakerClosed passes calls through, counting failures.
	BreakerClosed BreakerState = iota

	// BreakerOpen fails fast until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen admits a limited number of probe calls.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the failure count within FailureWindow that
	// opens the breaker. Default 5.
	FailureThreshold int

	// FailureWindow is the rolling window failures are counted in; a
	// failure older than the window restarts the count. Default 10s.
	FailureWindow time.Duration

	// Cooldown is how long the breaker stays open before admitting probes.
	// Default 30s.
	Cooldown time.Duration

	// ProbeQuota is how many half-open probe calls may run, the first
	// being the call whose admission flips the breaker out of open; that
	// many successes close the breaker, any failure reopens it. Default 1.
	ProbeQuota int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 10 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeQuota <= 0 {
		c.ProbeQuota = 1
	}
	return c
}

// Breaker is a per-node circuit breaker. State transitions happen inside
// Allow/Success/Failure; the clock is injectable for tests.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       BreakerState
	failures    int
	windowStart time.Time
	probes      int
	successes   int
	openedAt    time.Time
	now         func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once the cooldown has elapsed; that admission counts as the
// first probe against the quota.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probes = 1
		b.successes = 0
		return true
	default:
		if b.probes >= b.cfg.ProbeQuota {
			return false
		}
		b.probes++
		return true
	}
}

// Success records a successful call and reports whether it closed the
// breaker. ProbeQuota half-open successes close; a closed breaker resets
// its failure count.
func (b *Breaker) Success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.ProbeQuota {
			b.state = BreakerClosed
			b.failures = 0
			b.probes = 0
			b.successes = 0
			return true
		}
	default:
		b.failures = 0
	}
	return false
}

// Failure records a failed call and reports whether it opened the
// breaker. A half-open failure reopens immediately; closed failures open
// the breaker once the count within the window reaches the threshold.
func (b *Breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.open()
		return true
	case BreakerClosed:
		now := b.now()
		if b.failures > 0 && now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.failures = 0
		}
		if b.failures == 0 {
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
			return true
		}
	}
	return false
}

// Trip forces the breaker open, used when a policy resolves to
// ActionCircuitBreaker.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open()
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probes = 0
	b.successes = 0
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerSet lazily creates one breaker per node.
type breakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

func newBreakerSet(cfg BreakerConfig) *breakerSet {
	return &breakerSet{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (s *breakerSet) get(nodeID string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[nodeID]
	if !ok {
		b = NewBreaker(s.cfg)
		s.breakers[nodeID] = b
	}
	return b
}
