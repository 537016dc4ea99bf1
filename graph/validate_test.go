package graph

import (
	"context"
	"testing"

	"github.com/calyptra/flowgrid/graph/state"
)

func noop(id string) *FuncNode {
	return NewFuncNode(id, func(ctx context.Context, ec *ExecContext) NodeResult {
		return NodeResult{}
	})
}

func hasFatal(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Fatal {
			return true
		}
	}
	return false
}

func TestValidateEmptyGraph(t *testing.T) {
	g := New("empty")
	if !hasFatal(g.Validate()) {
		t.Error("empty graph should be fatal")
	}
}

func TestValidateEdgeToUnknownNode(t *testing.T) {
	g := New("g")
	if err := g.AddNode(noop("a")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("a", "ghost"); err != nil {
		t.Fatal(err)
	}
	if !hasFatal(g.Validate()) {
		t.Error("edge to unknown node should be fatal")
	}
	if err := g.Freeze(); err == nil {
		t.Error("freeze should fail")
	}
}

func TestValidateUnreachableWarning(t *testing.T) {
	g := New("g")
	if err := g.AddNode(noop("a")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(noop("island")); err != nil {
		t.Fatal(err)
	}

	issues := g.Validate()
	found := false
	for _, i := range issues {
		if i.NodeID == "island" && !i.Fatal {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unreachable warning, got %v", issues)
	}
	// warnings do not block freezing
	if err := g.Freeze(); err != nil {
		t.Errorf("Freeze: %v", err)
	}
}

func TestValidateUnguardedCycle(t *testing.T) {
	g := New("g")
	for _, id := range []string{"a", "b"} {
		if err := g.AddNode(noop(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("b", "a"); err != nil {
		t.Fatal(err)
	}
	if !hasFatal(g.Validate()) {
		t.Error("unguarded cycle should be fatal")
	}
}

func TestValidateLoopGuardedCycle(t *testing.T) {
	g := New("g")
	loop := NewLoopNode("head", MustExprPredicate(`i < 3`), "body", "done")
	if err := g.AddNode(loop); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(noop("body")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(noop("done")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("body", "head"); err != nil {
		t.Fatal(err)
	}
	if hasFatal(g.Validate("i")) {
		t.Errorf("loop-guarded cycle should be allowed: %v", g.Validate("i"))
	}
}

func TestValidateMissingInputKey(t *testing.T) {
	g := New("g")
	consumer := noop("consumer")
	consumer.Inputs = []string{"never_written"}
	if err := g.AddNode(consumer); err != nil {
		t.Fatal(err)
	}

	issues := g.Validate()
	found := false
	for _, i := range issues {
		if i.NodeID == "consumer" && !i.Fatal {
			found = true
		}
	}
	if !found {
		t.Error("expected missing-input warning")
	}
	// seeding the key silences it
	if len(g.Validate("never_written")) != 0 {
		t.Errorf("seeded key still reported: %v", g.Validate("never_written"))
	}
}

func TestFrozenGraphRejectsMutation(t *testing.T) {
	g := New("g")
	if err := g.AddNode(noop("a")); err != nil {
		t.Fatal(err)
	}
	if err := g.Freeze(); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(noop("b")); err != ErrGraphFrozen {
		t.Errorf("AddNode on frozen graph: %v", err)
	}
	if err := g.AddEdge("a", "a"); err != ErrGraphFrozen {
		t.Errorf("AddEdge on frozen graph: %v", err)
	}
	if err := g.SetMergeSpec(state.MergeSpec{}); err != ErrGraphFrozen {
		t.Errorf("SetMergeSpec on frozen graph: %v", err)
	}
}

func TestDuplicateNodeRejected(t *testing.T) {
	g := New("g")
	if err := g.AddNode(noop("a")); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode(noop("a")); err == nil {
		t.Error("duplicate node accepted")
	}
}
