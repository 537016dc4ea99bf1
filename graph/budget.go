package graph

import (
	"fmt"
	"sync"
	"time"
)

// Budget caps the aggregate cost of one execution. Zero fields are
// unlimited.
type Budget struct {
	MaxTokens   int64
	MaxUSD      float64
	MaxDuration time.Duration
	MaxSteps    int
}

// Unlimited reports whether no cap is set.
func (b Budget) Unlimited() bool {
	return b.MaxTokens <= 0 && b.MaxUSD <= 0 && b.MaxDuration <= 0 && b.MaxSteps <= 0
}

// budgetTracker accumulates charges for a running execution and refuses
// work past the budget. Exhaustion is a KindBudgetExhausted error, which
// is non-retryable by default.
type budgetTracker struct {
	mu      sync.Mutex
	budget  Budget
	spent   Cost
	steps   int
	started time.Time
}

func newBudgetTracker(b Budget) *budgetTracker {
	return &budgetTracker{budget: b, started: time.Now()}
}

// charge records an attempt's cost and increments the step counter for
// executable nodes.
func (t *budgetTracker) charge(c Cost, executable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent = t.spent.Add(c)
	if executable {
		t.steps++
	}
}

// check returns a budget-exhaustion error once any cap is crossed.
func (t *budgetTracker) check(nodeID string) *Error {
	if t.budget.Unlimited() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.budget
	switch {
	case b.MaxSteps > 0 && t.steps >= b.MaxSteps:
		e := NewError(KindBudgetExhausted, nodeID,
			fmt.Sprintf("step budget exhausted: %d of %d", t.steps, b.MaxSteps))
		e.Cause = ErrMaxSteps
		return e
	case b.MaxTokens > 0 && t.spent.Tokens >= b.MaxTokens:
		return NewError(KindBudgetExhausted, nodeID,
			fmt.Sprintf("token budget exhausted: %d of %d", t.spent.Tokens, b.MaxTokens))
	case b.MaxUSD > 0 && t.spent.USD >= b.MaxUSD:
		return NewError(KindBudgetExhausted, nodeID,
			fmt.Sprintf("cost budget exhausted: $%.4f of $%.4f", t.spent.USD, b.MaxUSD))
	case b.MaxDuration > 0 && time.Since(t.started) >= b.MaxDuration:
		return NewError(KindBudgetExhausted, nodeID,
			fmt.Sprintf("time budget exhausted after %s", time.Since(t.started).Round(time.Millisecond)))
	}
	return nil
}

// snapshot returns the spend so far.
func (t *budgetTracker) snapshot() (Cost, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent, t.steps
}
