package graph

import (
	"context"

	"github.com/calyptra/flowgrid/graph/state"
)

// NodeFunc is the work function of a FuncNode.
type NodeFunc func(ctx context.Context, ec *ExecContext) NodeResult

// FuncNode wraps a plain function as a node. It is the workhorse for
// inline steps that need no extra configuration.
type FuncNode struct {
	BaseNode
	Fn NodeFunc

	// Gate, when set, replaces the default always-run ShouldExecute.
	Gate func(*state.State) bool
}

// NewFuncNode creates a node that runs fn.
func NewFuncNode(id string, fn NodeFunc) *FuncNode {
	return &FuncNode{BaseNode: BaseNode{NodeID: id}, Fn: fn}
}

// WithName sets the display name.
func (n *FuncNode) WithName(name string) *FuncNode {
	n.DisplayName = name
	return n
}

// WithKeys declares the input and output keys for validation.
func (n *FuncNode) WithKeys(inputs, outputs []string) *FuncNode {
	n.Inputs = inputs
	n.Outputs = outputs
	return n
}

// WithGate installs a ShouldExecute predicate.
func (n *FuncNode) WithGate(gate func(*state.State) bool) *FuncNode {
	n.Gate = gate
	return n
}

// Validate implements Node.
func (n *FuncNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Fn == nil {
		return NewError(KindValidation, n.NodeID, "func node requires a function")
	}
	return nil
}

// ShouldExecute implements Node.
func (n *FuncNode) ShouldExecute(s *state.State) bool {
	if n.Gate != nil {
		return n.Gate(s)
	}
	return true
}

// Execute implements Node.
func (n *FuncNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	return n.Fn(ctx, ec)
}
