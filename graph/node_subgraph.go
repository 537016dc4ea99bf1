package graph

import (
	"context"
	"fmt"
)

// SubgraphNode runs a nested graph as a single step of the parent. The
// child shares the parent's state; its steps, events, and budget charges
// roll up into the parent execution.
type SubgraphNode struct {
	BaseNode
	Child *Graph
}

// NewSubgraphNode wraps child as a node of the enclosing graph.
func NewSubgraphNode(id string, child *Graph) *SubgraphNode {
	return &SubgraphNode{BaseNode: BaseNode{NodeID: id}, Child: child}
}

// Validate implements Node.
func (n *SubgraphNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Child == nil {
		return NewError(KindValidation, n.NodeID, "subgraph node requires a child graph")
	}
	return nil
}

// Execute implements Node.
func (n *SubgraphNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	if err := ec.RunSubgraph(ctx, n.Child); err != nil {
		return NodeResult{Err: fmt.Errorf("subgraph %s: %w", n.NodeID, err)}
	}
	return NodeResult{}
}
