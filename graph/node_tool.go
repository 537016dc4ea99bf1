package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calyptra/flowgrid/graph/state"
	"github.com/calyptra/flowgrid/graph/tool"
)

// ToolNode invokes an external tool: the value at InputKey is sent as the
// tool's JSON arguments and the response lands under OutputKey as a
// string. Tool failures flow through the normal classification and retry
// pipeline; the tool's idempotency key makes retried calls safe to
// deduplicate server-side.
type ToolNode struct {
	BaseNode
	Tool      tool.Tool
	InputKey  string
	OutputKey string
}

// NewToolNode wires a tool call between two state keys.
func NewToolNode(id string, t tool.Tool, inputKey, outputKey string) *ToolNode {
	return &ToolNode{
		BaseNode: BaseNode{
			NodeID:  id,
			Inputs:  []string{inputKey},
			Outputs: []string{outputKey},
		},
		Tool:      t,
		InputKey:  inputKey,
		OutputKey: outputKey,
	}
}

// Validate implements Node.
func (n *ToolNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Tool == nil {
		return NewError(KindValidation, n.NodeID, "tool node requires a tool")
	}
	if n.InputKey == "" || n.OutputKey == "" {
		return NewError(KindValidation, n.NodeID, "tool node requires input and output keys")
	}
	return nil
}

// Execute implements Node.
func (n *ToolNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	v, err := ec.State.Get(n.InputKey)
	if err != nil {
		return NodeResult{Err: fmt.Errorf("tool node %s: %w", n.NodeID, err)}
	}
	input, err := json.Marshal(v.Any())
	if err != nil {
		return NodeResult{Err: fmt.Errorf("tool node %s: encode input: %w", n.NodeID, err)}
	}
	out, err := n.Tool.Invoke(ctx, input)
	if err != nil {
		return NodeResult{Err: err}
	}
	return NodeResult{
		Writes: []Write{Set(n.OutputKey, state.String(string(out)))},
	}
}
