package graph

import (
	"context"
	"time"

	"github.com/calyptra/flowgrid/graph/state"
)

// RetryNode wraps another node with its own retry policy, scoped to the
// wrapped node alone. The inner attempts run inside a single engine
// attempt, so the engine's policy registry only sees the final outcome;
// once the wrapper's attempts are exhausted the engine's recovery policy
// takes over as usual.
type RetryNode struct {
	inner      Node
	policy     RetryPolicy
	classifier *classifier
}

// NewRetryNode wraps inner with the given retry policy.
func NewRetryNode(inner Node, p RetryPolicy) *RetryNode {
	return &RetryNode{inner: inner, policy: p, classifier: newClassifier()}
}

// ID implements Node.
func (n *RetryNode) ID() string { return n.inner.ID() }

// Name implements Node.
func (n *RetryNode) Name() string { return n.inner.Name() }

// InputKeys implements Node.
func (n *RetryNode) InputKeys() []string { return n.inner.InputKeys() }

// OutputKeys implements Node.
func (n *RetryNode) OutputKeys() []string { return n.inner.OutputKeys() }

// Executable implements Node.
func (n *RetryNode) Executable() bool { return n.inner.Executable() }

// AcquireWeight forwards the wrapped node's declared governor cost.
func (n *RetryNode) AcquireWeight() float64 {
	if w, ok := n.inner.(Weighted); ok {
		return w.AcquireWeight()
	}
	return 0
}

// Validate implements Node.
func (n *RetryNode) Validate() error {
	if n.inner == nil {
		return NewError(KindValidation, "", "retry node requires a wrapped node")
	}
	if n.policy.MaxAttempts < 1 {
		return NewError(KindValidation, n.inner.ID(), "retry node requires at least one attempt")
	}
	return n.inner.Validate()
}

// ShouldExecute implements Node.
func (n *RetryNode) ShouldExecute(s *state.State) bool { return n.inner.ShouldExecute(s) }

// Execute implements Node. It runs the wrapped node up to MaxAttempts
// times, backing off between failures per the policy. Cost accumulates
// across all inner attempts.
func (n *RetryNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	var total Cost
	attempt := 1
	for {
		res := n.inner.Execute(ctx, ec)
		total = total.Add(res.Cost)
		if res.Err == nil {
			res.Cost = total
			return res
		}

		classified := n.classifier.Classify(res.Err, n.inner.ID(), attempt)
		if !n.policy.Retryable(classified, attempt) {
			res.Err = classified
			res.Cost = total
			return res
		}
		select {
		case <-ctx.Done():
			return NodeResult{
				Err:  n.classifier.Classify(ctx.Err(), n.inner.ID(), attempt),
				Cost: total,
			}
		case <-time.After(n.policy.Delay(attempt)):
		}
		attempt++
	}
}
