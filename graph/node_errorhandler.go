package graph

import (
	"context"

	"github.com/calyptra/flowgrid/graph/state"
)

// ErrorHandlerNode routes recovery flows by the kind of the last recorded
// failure. The executor stores the classified kind in state metadata when
// a policy resolves to Fallback, so a handler wired as the fallback target
// can dispatch on it.
type ErrorHandlerNode struct {
	BaseNode

	// ByKind maps an error-kind name (ErrorKind.String()) to a target node.
	ByKind map[string]string

	// Default receives anything without a ByKind entry. Empty stops the
	// branch.
	Default string
}

// NewErrorHandlerNode creates a kind-dispatching recovery router.
func NewErrorHandlerNode(id string, byKind map[string]string, defaultTarget string) *ErrorHandlerNode {
	return &ErrorHandlerNode{
		BaseNode: BaseNode{NodeID: id},
		ByKind:   byKind,
		Default:  defaultTarget,
	}
}

// Executable implements Node.
func (n *ErrorHandlerNode) Executable() bool { return false }

// Validate implements Node.
func (n *ErrorHandlerNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if len(n.ByKind) == 0 && n.Default == "" {
		return NewError(KindValidation, n.NodeID, "error handler requires targets")
	}
	return nil
}

// ShouldExecute implements Node.
func (n *ErrorHandlerNode) ShouldExecute(*state.State) bool { return true }

// Execute implements Node.
func (n *ErrorHandlerNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	kind, _ := ec.State.Meta(state.MetaErrorKind)
	if target, ok := n.ByKind[kind]; ok {
		r := Goto(target)
		return NodeResult{Route: &r}
	}
	route := Stop()
	if n.Default != "" {
		route = Goto(n.Default)
	}
	return NodeResult{Route: &route}
}
