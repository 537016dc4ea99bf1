// Package emit carries the execution event stream: typed lifecycle events,
// bounded buffering with drop accounting, and emitters that fan events out
// to logs, history buffers, and OpenTelemetry spans.
package emit

import (
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	ExecutionStarted   Kind = "execution.started"
	ExecutionFinished  Kind = "execution.finished"
	ExecutionFailed    Kind = "execution.failed"
	ExecutionCanceled  Kind = "execution.canceled"
	ExecutionSuspended Kind = "execution.suspended"
	ExecutionResumed   Kind = "execution.resumed"

	NodeStarted  Kind = "node.started"
	NodeFinished Kind = "node.finished"
	NodeFailed   Kind = "node.failed"
	NodeSkipped  Kind = "node.skipped"
	NodeRetrying Kind = "node.retrying"

	RouteDecided  Kind = "route.decided"
	BranchForked  Kind = "branch.forked"
	BranchJoined  Kind = "branch.joined"
	MergeConflict Kind = "merge.conflict"

	BreakerTripped   Kind = "breaker.tripped"
	BreakerOpened    Kind = "breaker.opened"
	BreakerClosed    Kind = "breaker.closed"
	BudgetExceeded   Kind = "budget.exceeded"
	CheckpointSaved  Kind = "checkpoint.saved"
	CheckpointLoaded Kind = "checkpoint.loaded"

	// MetricSample is the only droppable kind: when the stream backs up,
	// samples go first and lifecycle events are preserved.
	MetricSample Kind = "metric.sample"
)

// Lifecycle reports whether the kind must never be dropped by a bounded
// stream.
func (k Kind) Lifecycle() bool { return k != MetricSample }

// Event is one observation from a running execution. Seq is assigned by
// the stream and is strictly increasing per execution.
type Event struct {
	Kind        Kind              `json:"kind"`
	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id,omitempty"`
	Seq         uint64            `json:"seq"`
	Timestamp   time.Time         `json:"timestamp"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Emitter receives events. Implementations must be safe for concurrent
// use; Emit must not block the execution path.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}
