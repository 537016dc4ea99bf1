package graph

import (
	"context"

	"github.com/calyptra/flowgrid/graph/state"
)

// RemoteInvoker dispatches a named remote graph over a snapshot of the
// execution state and returns the writes to apply on completion.
type RemoteInvoker func(ctx context.Context, graphRef string, s *state.State) ([]Write, error)

// RemoteNode delegates a step to a graph running in another process. The
// node itself carries only the reference and a pluggable invoker; the
// transport lives with the caller.
type RemoteNode struct {
	BaseNode

	// GraphRef names the remote graph to invoke.
	GraphRef string

	// Invoker performs the remote call. Executing without one fails.
	Invoker RemoteInvoker
}

// NewRemoteNode creates a placeholder for the named remote graph.
func NewRemoteNode(id, graphRef string) *RemoteNode {
	return &RemoteNode{BaseNode: BaseNode{NodeID: id}, GraphRef: graphRef}
}

// WithInvoker installs the remote dispatch function.
func (n *RemoteNode) WithInvoker(inv RemoteInvoker) *RemoteNode {
	n.Invoker = inv
	return n
}

// Validate implements Node.
func (n *RemoteNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.GraphRef == "" {
		return NewError(KindValidation, n.NodeID, "remote node requires a graph reference")
	}
	return nil
}

// Execute implements Node.
func (n *RemoteNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	if n.Invoker == nil {
		return NodeResult{Err: NewError(KindValidation, n.NodeID,
			"remote node has no invoker configured")}
	}
	writes, err := n.Invoker(ctx, n.GraphRef, ec.State)
	if err != nil {
		return NodeResult{Err: err}
	}
	return NodeResult{Writes: writes}
}
