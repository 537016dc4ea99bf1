package graph

import (
	"context"
	"fmt"

	"github.com/calyptra/flowgrid/graph/adapter"
	"github.com/calyptra/flowgrid/graph/state"
)

// LLMNode runs one model completion: the prompt comes from PromptKey, the
// answer lands in OutputKey, and token usage is charged to the execution
// budget.
type LLMNode struct {
	BaseNode
	Completer adapter.Completer
	PromptKey string
	OutputKey string
	System    string
	Model     string
	MaxTokens int
}

// NewLLMNode wires a completion between two state keys.
func NewLLMNode(id string, c adapter.Completer, promptKey, outputKey string) *LLMNode {
	return &LLMNode{
		BaseNode: BaseNode{
			NodeID:  id,
			Inputs:  []string{promptKey},
			Outputs: []string{outputKey},
		},
		Completer: c,
		PromptKey: promptKey,
		OutputKey: outputKey,
	}
}

// WithSystem sets the system prompt.
func (n *LLMNode) WithSystem(system string) *LLMNode {
	n.System = system
	return n
}

// WithModel overrides the adapter's default model.
func (n *LLMNode) WithModel(model string) *LLMNode {
	n.Model = model
	return n
}

// Validate implements Node.
func (n *LLMNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Completer == nil {
		return NewError(KindValidation, n.NodeID, "llm node requires a completer")
	}
	if n.PromptKey == "" || n.OutputKey == "" {
		return NewError(KindValidation, n.NodeID, "llm node requires prompt and output keys")
	}
	return nil
}

// Execute implements Node.
func (n *LLMNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	prompt, ok := ec.State.GetString(n.PromptKey)
	if !ok {
		return NodeResult{Err: fmt.Errorf("llm node %s: prompt key %q absent or not a string", n.NodeID, n.PromptKey)}
	}
	resp, err := n.Completer.Complete(ctx, adapter.Request{
		System:    n.System,
		Prompt:    prompt,
		Model:     n.Model,
		MaxTokens: n.MaxTokens,
	})
	if err != nil {
		return NodeResult{Err: err}
	}
	return NodeResult{
		Writes: []Write{Set(n.OutputKey, state.String(resp.Text))},
		Cost: Cost{
			Tokens: int64(resp.InputTokens + resp.OutputTokens),
			USD:    resp.CostUSD,
		},
	}
}
