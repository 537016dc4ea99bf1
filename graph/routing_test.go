package graph

import (
	"testing"

	"github.com/calyptra/flowgrid/graph/state"
)

func TestFirstMatchRouter(t *testing.T) {
	r := &FirstMatchRouter{Rules: []RouteRule{
		{When: MustExprPredicate(`score > 90`), Target: "fast"},
		{When: MustExprPredicate(`score > 50`), Target: "normal"},
	}}

	s := state.New()
	if err := s.Set("score", state.Int(95)); err != nil {
		t.Fatal(err)
	}
	d, err := r.Decide(s)
	if err != nil {
		t.Fatal(err)
	}
	if d.Abstain || d.Route.Targets[0] != "fast" {
		t.Errorf("decision = %+v, want fast", d)
	}

	if err := s.Replace("score", state.Int(60)); err != nil {
		t.Fatal(err)
	}
	d, _ = r.Decide(s)
	if d.Route.Targets[0] != "normal" {
		t.Errorf("decision = %+v, want normal", d)
	}

	if err := s.Replace("score", state.Int(10)); err != nil {
		t.Fatal(err)
	}
	d, _ = r.Decide(s)
	if !d.Abstain {
		t.Error("no rule matched, router should abstain")
	}
}

func TestWeightedRouterDeterministicWithSeed(t *testing.T) {
	weights := map[string]float64{"a": 1, "b": 2, "c": 3}
	r1, err := NewWeightedRouter(weights, 42)
	if err != nil {
		t.Fatal(err)
	}
	r2, _ := NewWeightedRouter(weights, 42)

	s := state.New()
	for i := 0; i < 20; i++ {
		d1, _ := r1.Decide(s)
		d2, _ := r2.Decide(s)
		if d1.Route.Targets[0] != d2.Route.Targets[0] {
			t.Fatalf("same seed diverged at draw %d", i)
		}
	}
}

func TestWeightedRouterValidation(t *testing.T) {
	if _, err := NewWeightedRouter(nil, 1); err == nil {
		t.Error("empty weights accepted")
	}
	if _, err := NewWeightedRouter(map[string]float64{"a": -1}, 1); err == nil {
		t.Error("negative weight accepted")
	}
}

func TestHistoryRouter(t *testing.T) {
	r := &HistoryRouter{Watch: "fetch", Recover: "refetch"}
	s := state.New()

	d, err := r.Decide(s)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Abstain {
		t.Error("no history, should abstain")
	}

	s.AppendStep(state.Step{NodeID: "fetch", Status: state.StepFailed})
	d, _ = r.Decide(s)
	if d.Abstain || d.Route.Targets[0] != "refetch" {
		t.Errorf("decision = %+v, want refetch", d)
	}

	s.AppendStep(state.Step{NodeID: "fetch", Status: state.StepOK})
	d, _ = r.Decide(s)
	if !d.Abstain {
		t.Error("latest attempt succeeded, should abstain")
	}
}

func TestSimilarityRouter(t *testing.T) {
	r := &SimilarityRouter{
		QueryKey: "query",
		Exemplars: map[string]string{
			"billing": "invoice payment refund charge",
			"support": "bug crash error broken help",
		},
		Threshold: 0.1,
	}

	s := state.New()
	if err := s.Set("query", state.String("I need a refund for this invoice")); err != nil {
		t.Fatal(err)
	}
	d, err := r.Decide(s)
	if err != nil {
		t.Fatal(err)
	}
	if d.Abstain || d.Route.Targets[0] != "billing" {
		t.Errorf("decision = %+v, want billing", d)
	}

	if err := s.Replace("query", state.String("zebra quantum xylophone")); err != nil {
		t.Fatal(err)
	}
	d, _ = r.Decide(s)
	if !d.Abstain {
		t.Error("dissimilar query should abstain")
	}
}

func TestExprPredicate(t *testing.T) {
	p, err := ExprPredicate(`count >= 3 && name == "go"`)
	if err != nil {
		t.Fatal(err)
	}
	s := state.New()
	if err := s.Set("count", state.Int(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("name", state.String("go")); err != nil {
		t.Fatal(err)
	}
	ok, err := p(s)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("predicate should hold")
	}

	if _, err := ExprPredicate(`count +`); err == nil {
		t.Error("syntax error accepted")
	}
}
