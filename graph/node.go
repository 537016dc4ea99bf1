package graph

import (
	"context"
	"time"

	"github.com/calyptra/flowgrid/graph/state"
)

// Node is the unit of work in a flowgrid graph. Implementations read from
// and write to the shared state via the result they return; the executor
// owns all state mutation so nodes stay replayable.
type Node interface {
	// ID returns the unique node identifier within its graph.
	ID() string

	// Name returns the human-readable display name.
	Name() string

	// InputKeys lists the state keys this node reads. The validator checks
	// that every input key is produced by some upstream node or seeded in
	// the initial state.
	InputKeys() []string

	// OutputKeys lists the state keys this node writes.
	OutputKeys() []string

	// Executable reports whether the node performs work. Structural nodes
	// (join points, routers) return false and are skipped by the step
	// counter.
	Executable() bool

	// Validate checks the node's own configuration. Called once at graph
	// freeze time.
	Validate() error

	// ShouldExecute gates the node against the current state. When it
	// returns false the node is skipped: outputs stay absent, successors
	// still run.
	ShouldExecute(s *state.State) bool

	// Execute performs the node's work and returns its result. The state
	// passed in is a read view; writes go through NodeResult.Writes.
	Execute(ctx context.Context, ec *ExecContext) NodeResult
}

// Router is an optional interface: nodes that implement it pick their
// successors dynamically, overriding the graph's static edges.
type Router interface {
	// Next returns the routing decision after a successful execution.
	Next(s *state.State) (Route, error)
}

// Hooks is an optional interface for per-node lifecycle callbacks. The
// executor invokes Before ahead of each attempt, After on success, and
// OnFailure with the classified error.
type Hooks interface {
	Before(ctx context.Context, s *state.State)
	After(ctx context.Context, s *state.State, res NodeResult)
	OnFailure(ctx context.Context, s *state.State, err *Error)
}

// NodeResult is what a node hands back to the executor: the writes to
// apply, an optional error, an optional suspension request, and an
// optional dynamic route.
type NodeResult struct {
	// Writes are applied to the state in declared order on success.
	Writes []Write

	// Err, when non-nil, sends the attempt through classification and the
	// recovery-policy pipeline.
	Err error

	// Suspend, when non-nil, pauses the execution at this node until a
	// matching Resume call or deadline lapse.
	Suspend *Suspension

	// Route, when non-nil, overrides static edges for this step.
	Route *Route

	// Cost is the resource charge attributed to this attempt, consumed by
	// budgets and the governor.
	Cost Cost
}

// Write is one state mutation produced by a node.
type Write struct {
	Key   string
	Value state.Value

	// Remove deletes the key instead of setting it.
	Remove bool
}

// Set builds a write that stores value under key.
func Set(key string, value state.Value) Write {
	return Write{Key: key, Value: value}
}

// Unset builds a write that removes key.
func Unset(key string) Write {
	return Write{Key: key, Remove: true}
}

// Cost is the resource charge for one node attempt.
type Cost struct {
	Tokens   int64
	USD      float64
	Duration time.Duration
}

// Add accumulates another charge.
func (c Cost) Add(o Cost) Cost {
	return Cost{
		Tokens:   c.Tokens + o.Tokens,
		USD:      c.USD + o.USD,
		Duration: c.Duration + o.Duration,
	}
}

// Suspension asks the executor to pause at this node. The executor
// checkpoints, emits a suspension event, and waits for Resume with the
// matching request ID.
type Suspension struct {
	// RequestID correlates the Resume call. Generated by the node,
	// typically a UUID.
	RequestID string

	// Prompt is the question shown to the approver.
	Prompt string

	// Deadline, when non-zero, bounds how long the execution may stay
	// suspended before it fails with ErrApprovalLapse.
	Deadline time.Time
}

// Route is a routing decision: either a stop, a single successor, or a
// fan-out to several successors executed as parallel branches.
type Route struct {
	// Targets are the successor node IDs. Empty means stop this branch.
	Targets []string

	// Join, when set with multiple targets, names the node where the
	// fanned-out branches merge. The executor snapshots the state per
	// branch and merges at the join under the graph's MergeSpec.
	Join string
}

// Goto routes to a single successor.
func Goto(target string) Route { return Route{Targets: []string{target}} }

// Fanout routes to several successors in parallel, joining at join.
func Fanout(join string, targets ...string) Route {
	return Route{Targets: targets, Join: join}
}

// Stop ends the current branch.
func Stop() Route { return Route{} }

// IsStop reports whether the route ends the branch.
func (r Route) IsStop() bool { return len(r.Targets) == 0 }

// Weighted declares a node's resource cost. The governor sizes the
// admission lease by this weight; nodes without it charge as 1.
type Weighted interface {
	AcquireWeight() float64
}

// BaseNode carries the identity and key declarations shared by the
// built-in node types. Embed it and override what differs.
type BaseNode struct {
	NodeID      string
	DisplayName string
	Inputs      []string
	Outputs     []string

	// Weight is the declared governor cost of one attempt. Zero means 1.
	Weight float64
}

// ID implements Node.
func (b *BaseNode) ID() string { return b.NodeID }

// Name implements Node. Falls back to the ID when no display name is set.
func (b *BaseNode) Name() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.NodeID
}

// InputKeys implements Node.
func (b *BaseNode) InputKeys() []string { return b.Inputs }

// OutputKeys implements Node.
func (b *BaseNode) OutputKeys() []string { return b.Outputs }

// Executable implements Node.
func (b *BaseNode) Executable() bool { return true }

// AcquireWeight implements Weighted.
func (b *BaseNode) AcquireWeight() float64 { return b.Weight }

// Validate implements Node.
func (b *BaseNode) Validate() error {
	if b.NodeID == "" {
		return NewError(KindValidation, "", "node requires an ID")
	}
	return nil
}

// ShouldExecute implements Node. The default gate always runs.
func (b *BaseNode) ShouldExecute(*state.State) bool { return true }
