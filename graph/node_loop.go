package graph

import (
	"context"
	"fmt"
	"strconv"

	"github.com/calyptra/flowgrid/graph/state"
)

// DefaultLoopLimit caps loop iterations when no explicit limit is set.
const DefaultLoopLimit = 100

// LoopNode re-enters Body while Condition holds, then proceeds to After.
// The iteration counter survives checkpoints: it lives in state metadata,
// so a restored execution resumes at the right iteration.
type LoopNode struct {
	BaseNode
	Condition Predicate
	Body      string
	After     string
	Limit     int
}

// NewLoopNode creates a while-style loop head. The graph wires Body's tail
// back to this node; After receives control once the condition fails.
func NewLoopNode(id string, cond Predicate, body, after string) *LoopNode {
	return &LoopNode{
		BaseNode:  BaseNode{NodeID: id},
		Condition: cond,
		Body:      body,
		After:     after,
		Limit:     DefaultLoopLimit,
	}
}

// WithLimit overrides the iteration cap.
func (n *LoopNode) WithLimit(limit int) *LoopNode {
	n.Limit = limit
	return n
}

// Executable implements Node.
func (n *LoopNode) Executable() bool { return false }

// Validate implements Node.
func (n *LoopNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.Condition == nil {
		return NewError(KindValidation, n.NodeID, "loop node requires a condition")
	}
	if n.Body == "" {
		return NewError(KindValidation, n.NodeID, "loop node requires a body target")
	}
	if n.Limit <= 0 {
		return NewError(KindValidation, n.NodeID, "loop limit must be positive")
	}
	return nil
}

func (n *LoopNode) counterKey() string {
	return state.MetaLoopKey + n.NodeID
}

// Execute implements Node.
func (n *LoopNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	iter := 0
	if raw, ok := ec.State.Meta(n.counterKey()); ok {
		iter, _ = strconv.Atoi(raw)
	}
	if iter >= n.Limit {
		return NodeResult{Err: fmt.Errorf("loop %s after %d iterations: %w", n.NodeID, iter, ErrLoopLimit)}
	}

	ok, err := n.Condition(ec.State)
	if err != nil {
		return NodeResult{Err: fmt.Errorf("loop %s condition: %w", n.NodeID, err)}
	}
	if !ok {
		ec.State.DeleteMeta(n.counterKey())
		route := Stop()
		if n.After != "" {
			route = Goto(n.After)
		}
		return NodeResult{Route: &route}
	}

	ec.State.SetMeta(n.counterKey(), strconv.Itoa(iter+1))
	r := Goto(n.Body)
	return NodeResult{Route: &r}
}

// ForEachNode iterates over a list-valued state key, exposing the current
// element under ItemKey before each pass through Body. After the list is
// exhausted control moves to After and ItemKey is removed.
type ForEachNode struct {
	BaseNode
	ListKey string
	ItemKey string
	Body    string
	After   string
	Limit   int
}

// NewForEachNode creates a foreach loop head over the list at listKey.
func NewForEachNode(id, listKey, itemKey, body, after string) *ForEachNode {
	return &ForEachNode{
		BaseNode: BaseNode{NodeID: id, Inputs: []string{listKey}},
		ListKey:  listKey,
		ItemKey:  itemKey,
		Body:     body,
		After:    after,
		Limit:    DefaultLoopLimit,
	}
}

// WithLimit overrides the iteration cap.
func (n *ForEachNode) WithLimit(limit int) *ForEachNode {
	n.Limit = limit
	return n
}

// Executable implements Node.
func (n *ForEachNode) Executable() bool { return false }

// Validate implements Node.
func (n *ForEachNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.ListKey == "" || n.ItemKey == "" {
		return NewError(KindValidation, n.NodeID, "foreach node requires list and item keys")
	}
	if n.Body == "" {
		return NewError(KindValidation, n.NodeID, "foreach node requires a body target")
	}
	return nil
}

func (n *ForEachNode) counterKey() string {
	return state.MetaLoopKey + n.NodeID
}

// Execute implements Node.
func (n *ForEachNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	list, err := ec.State.GetList(n.ListKey)
	if err != nil {
		return NodeResult{Err: fmt.Errorf("foreach %s: %w", n.NodeID, err)}
	}

	idx := 0
	if raw, ok := ec.State.Meta(n.counterKey()); ok {
		idx, _ = strconv.Atoi(raw)
	}
	if n.Limit > 0 && idx >= n.Limit {
		return NodeResult{Err: fmt.Errorf("foreach %s after %d iterations: %w", n.NodeID, idx, ErrLoopLimit)}
	}

	if idx >= len(list) {
		ec.State.DeleteMeta(n.counterKey())
		route := Stop()
		if n.After != "" {
			route = Goto(n.After)
		}
		return NodeResult{
			Writes: []Write{Unset(n.ItemKey)},
			Route:  &route,
		}
	}

	ec.State.SetMeta(n.counterKey(), strconv.Itoa(idx+1))
	r := Goto(n.Body)
	return NodeResult{
		Writes: []Write{{Key: n.ItemKey, Value: list[idx]}},
		Route:  &r,
	}
}
