package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/calyptra/flowgrid/graph/state"
)

// ApprovalNode suspends the execution until a human decision arrives via
// Engine.Resume. The decision is written to DecisionKey as a bool and, when
// the approver supplies a note, to NoteKey as a string.
//
// A restored execution that already carries a decision for this node does
// not suspend again.
type ApprovalNode struct {
	BaseNode
	Prompt      string
	DecisionKey string
	NoteKey     string
	Timeout     time.Duration
}

// NewApprovalNode creates a human-approval gate writing to decisionKey.
func NewApprovalNode(id, prompt, decisionKey string) *ApprovalNode {
	return &ApprovalNode{
		BaseNode:    BaseNode{NodeID: id, Outputs: []string{decisionKey}},
		Prompt:      prompt,
		DecisionKey: decisionKey,
	}
}

// WithTimeout bounds how long the suspension may wait before it lapses.
func (n *ApprovalNode) WithTimeout(d time.Duration) *ApprovalNode {
	n.Timeout = d
	return n
}

// WithNoteKey stores the approver's note under key.
func (n *ApprovalNode) WithNoteKey(key string) *ApprovalNode {
	n.NoteKey = key
	n.Outputs = append(n.Outputs, key)
	return n
}

// Validate implements Node.
func (n *ApprovalNode) Validate() error {
	if err := n.BaseNode.Validate(); err != nil {
		return err
	}
	if n.DecisionKey == "" {
		return NewError(KindValidation, n.NodeID, "approval node requires a decision key")
	}
	return nil
}

// ShouldExecute implements Node.
func (n *ApprovalNode) ShouldExecute(s *state.State) bool {
	// already decided on a previous (pre-restore) pass
	_, decided := s.GetBool(n.DecisionKey)
	return !decided
}

// Execute implements Node.
func (n *ApprovalNode) Execute(ctx context.Context, ec *ExecContext) NodeResult {
	susp := &Suspension{
		RequestID: uuid.NewString(),
		Prompt:    n.Prompt,
	}
	if n.Timeout > 0 {
		susp.Deadline = time.Now().UTC().Add(n.Timeout)
	}
	return NodeResult{Suspend: susp}
}

// applyDecision turns a resume payload into state writes for this node.
func (n *ApprovalNode) applyDecision(d Decision) []Write {
	writes := []Write{Set(n.DecisionKey, state.Bool(d.Approved))}
	if n.NoteKey != "" && d.Note != "" {
		writes = append(writes, Set(n.NoteKey, state.String(d.Note)))
	}
	return writes
}

// Decision is the payload delivered through Engine.Resume for a suspended
// approval.
type Decision struct {
	Approved bool
	Note     string
	Approver string
}
