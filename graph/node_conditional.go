package graph

import (
	"context"
	"fmt"

	"github.com/calyptra/flowgrid/graph/state"
)

// ConditionalNode routes to one of two successors based on a predicate
// over the state. It performs no work itself.
type ConditionalNode struct {
	BaseNode
	Predicate Predicate
	Then      string
	Else      string
}

// NewConditionalNode creates an if/else router. elseTarget may be empty,
// in which case a false predicate stops the branch.
func NewConditionalNode(id string, pred Predicate, thenTarget, elseTarget string) *ConditionalNode {
	return &ConditionalNode{
		BaseNode:  BaseNode{NodeID: id},
		Predicate: pred,
		Then:      thenTarget,
		Else:      elseTarget,
	}
}

// Executable implements Node. Conditional nodes are structural.
func (n *ConditionalNode) Executable() bool { return false }

// Validate implements Node.
func (n *ConditionalNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Predicate == nil {
		return NewError(KindValidation, n.NodeID, "conditional node requires a predicate")
	}
	if n.Then == "" {
		return NewError(KindValidation, n.NodeID, "conditional node requires a then-target")
	}
	return nil
}

// Execute implements Node.
func (n *ConditionalNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	ok, err := n.Predicate(ec.State)
	if err != nil {
		return NodeResult{Err: fmt.Errorf("conditional %s: %w", n.NodeID, err)}
	}
	route := Stop()
	if ok {
		route = Goto(n.Then)
	} else if n.Else != "" {
		route = Goto(n.Else)
	}
	return NodeResult{Route: &route}
}

// SwitchCase pairs a predicate with its target node.
type SwitchCase struct {
	When   Predicate
	Target string
}

// SwitchNode routes to the first case whose predicate holds, falling back
// to Default. Cases are evaluated in declared order.
type SwitchNode struct {
	BaseNode
	Cases   []SwitchCase
	Default string
}

// NewSwitchNode creates a multi-way router.
func NewSwitchNode(id string, cases []SwitchCase, defaultTarget string) *SwitchNode {
	return &SwitchNode{BaseNode: BaseNode{NodeID: id}, Cases: cases, Default: defaultTarget}
}

// Executable implements Node.
func (n *SwitchNode) Executable() bool { return false }

// Validate implements Node.
func (n *SwitchNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if len(n.Cases) == 0 {
		return NewError(KindValidation, n.NodeID, "switch node requires at least one case")
	}
	for i, c := range n.Cases {
		if c.When == nil || c.Target == "" {
			return NewError(KindValidation, n.NodeID,
				fmt.Sprintf("switch case %d requires a predicate and target", i))
		}
	}
	return nil
}

// ShouldExecute implements Node.
func (n *SwitchNode) ShouldExecute(*state.State) bool { return true }

// Execute implements Node.
func (n *SwitchNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	for _, c := range n.Cases {
		ok, err := c.When(ec.State)
		if err != nil {
			return NodeResult{Err: fmt.Errorf("switch %s: %w", n.NodeID, err)}
		}
		if ok {
			r := Goto(c.Target)
			return NodeResult{Route: &r}
		}
	}
	route := Stop()
	if n.Default != "" {
		route = Goto(n.Default)
	}
	return NodeResult{Route: &route}
}
