package graph

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// BackoffStrategy selects the delay curve between retry attempts.
type BackoffStrategy int

const (
	// BackoffExponential doubles the delay each attempt, with full jitter.
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear grows the delay by the initial interval each attempt.
	BackoffLinear

	// BackoffConstant waits the initial interval every attempt.
	BackoffConstant
)

// RetryPolicy governs how a failing node is retried. The zero value means
// no retries.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Strategy    BackoffStrategy

	// Jitter randomizes delays in [0, delay) to decorrelate retry storms.
	// On by default for exponential backoff via DefaultRetryPolicy.
	Jitter bool

	// RetryOn restricts retries to these kinds. Empty means every kind the
	// classifier marks transient.
	RetryOn []ErrorKind
}

// DefaultRetryPolicy is three attempts with full-jitter exponential
// backoff from 100ms capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Initial:     100 * time.Millisecond,
		Max:         5 * time.Second,
		Multiplier:  2.0,
		Strategy:    BackoffExponential,
		Jitter:      true,
	}
}

// Retryable reports whether the policy permits another attempt for this
// classified error.
func (p RetryPolicy) Retryable(e *Error, attempt int) bool {
	if p.MaxAttempts <= 0 || attempt >= p.MaxAttempts {
		return false
	}
	if len(p.RetryOn) == 0 {
		return e.Transient
	}
	for _, k := range p.RetryOn {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Delay computes the wait before the given attempt (1-based: the delay
// before attempt 2 is Delay(1)).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}

	var d time.Duration
	switch p.Strategy {
	case BackoffLinear:
		d = time.Duration(attempt) * initial
	case BackoffConstant:
		d = initial
	default:
		mult := p.Multiplier
		if mult <= 1 {
			mult = 2.0
		}
		d = time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// Policy is the full recovery configuration applied to a failing node: how
// to retry, what to do when retries are exhausted, and where fallback
// control goes.
type Policy struct {
	Retry RetryPolicy

	// OnExhausted runs once retries are spent (or the error is not
	// retryable). Defaults to ActionHalt.
	OnExhausted RecoveryAction

	// FallbackNode receives control when OnExhausted is ActionFallback.
	FallbackNode string

	// TripBreaker also opens the node's circuit breaker when retries are
	// exhausted, regardless of OnExhausted.
	TripBreaker bool
}

// DefaultPolicy retries transient errors then halts.
func DefaultPolicy() Policy {
	return Policy{Retry: DefaultRetryPolicy(), OnExhausted: ActionHalt}
}

// PolicyRegistry resolves the recovery policy for a node/error pair.
// Precedence: exact node ID, then doublestar glob over node IDs in
// registration order, then per-kind, then the global default.
type PolicyRegistry struct {
	mu       sync.RWMutex
	global   Policy
	byNode   map[string]Policy
	byKind   map[ErrorKind]Policy
	patterns []patternPolicy
}

type patternPolicy struct {
	glob   string
	policy Policy
}

// NewPolicyRegistry creates a registry with the given global default.
func NewPolicyRegistry(global Policy) *PolicyRegistry {
	return &PolicyRegistry{
		global: global,
		byNode: make(map[string]Policy),
		byKind: make(map[ErrorKind]Policy),
	}
}

// SetNodePolicy binds a policy to one node ID.
func (r *PolicyRegistry) SetNodePolicy(nodeID string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNode[nodeID] = p
}

// SetPatternPolicy binds a policy to every node matching a doublestar
// glob, e.g. "fetch/**" or "llm-*".
func (r *PolicyRegistry) SetPatternPolicy(glob string, p Policy) error {
	if !doublestar.ValidatePattern(glob) {
		return NewError(KindValidation, "", "invalid policy pattern: "+glob)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, patternPolicy{glob: glob, policy: p})
	return nil
}

// SetKindPolicy binds a policy to one error kind.
func (r *PolicyRegistry) SetKindPolicy(kind ErrorKind, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = p
}

// Resolve returns the policy for a node and error kind under the
// registry's precedence order.
func (r *PolicyRegistry) Resolve(nodeID string, kind ErrorKind) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byNode[nodeID]; ok {
		return p
	}
	for _, pp := range r.patterns {
		if ok, _ := doublestar.Match(pp.glob, nodeID); ok {
			return pp.policy
		}
	}
	if p, ok := r.byKind[kind]; ok {
		return p
	}
	return r.global
}
